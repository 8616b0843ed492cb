package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"blitz-tracker/internal/database"
	"blitz-tracker/internal/domain"
	"blitz-tracker/internal/leaderboard"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "blitz.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func account(id int64, nickname string, ts, battles, wins, damage int64) domain.AccountSnapshot {
	return domain.AccountSnapshot{
		AccountID: id,
		Nickname:  nickname,
		Timestamp: ts,
		Statistics: domain.Statistics{
			All: &domain.BattleStats{Battles: battles, Wins: wins, DamageDealt: damage},
		},
		Vehicles: []domain.VehicleSnapshot{},
	}
}

func TestPlayerRepository_SaveAndLookups(t *testing.T) {
	ctx := context.Background()
	repo := NewPlayerRepository(openTestDB(t), zerolog.Nop())

	err := repo.Save(ctx, domain.TrackedPlayer{
		Region:      "EU",
		AccessToken: "tok-1",
		Account:     account(1, "Tanker", 100, 10, 5, 1000),
		Medals:      &domain.MedalSet{AccountID: 1, Medals: []domain.MedalCount{{Name: "warrior", Count: 2}}},
	})
	require.NoError(t, err)

	byID, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "eu", byID.Region)
	assert.Equal(t, "tok-1", byID.AccessToken)
	assert.Equal(t, int64(10), byID.Account.Statistics.All.Battles)
	require.NotNil(t, byID.Medals)
	assert.Equal(t, int64(2), byID.Medals.Medals[0].Count)
	assert.False(t, byID.UpdatedAt.IsZero())

	byName, err := repo.GetByNickname(ctx, "eu", "tanker")
	require.NoError(t, err)
	assert.Equal(t, int64(1), byName.Account.AccountID)

	byToken, err := repo.Find(ctx, domain.PlayerRef{AccessToken: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), byToken.Account.AccountID)

	_, err = repo.Get(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrNotFoundInLocalStore)
	assert.Equal(t, domain.CodePlayerNotTracked, domain.CodeOf(err))

	_, err = repo.GetByNickname(ctx, "na", "tanker")
	assert.ErrorIs(t, err, domain.ErrNotFoundInLocalStore)
}

func TestPlayerRepository_SaveReplacesCurrentKeepsToken(t *testing.T) {
	ctx := context.Background()
	repo := NewPlayerRepository(openTestDB(t), zerolog.Nop())

	require.NoError(t, repo.Save(ctx, domain.TrackedPlayer{Region: "eu", AccessToken: "tok", TokenExpiresAt: 50, Account: account(1, "a", 100, 10, 5, 1000)}))
	require.NoError(t, repo.Save(ctx, domain.TrackedPlayer{Region: "eu", Account: account(1, "a", 200, 20, 9, 2000)}))

	p, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), p.Account.Statistics.All.Battles)
	assert.Equal(t, int64(200), p.Account.Timestamp)
	assert.Equal(t, "tok", p.AccessToken)
	assert.Equal(t, int64(50), p.TokenExpiresAt)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPlayerRepository_SetAccessToken(t *testing.T) {
	ctx := context.Background()
	repo := NewPlayerRepository(openTestDB(t), zerolog.Nop())
	require.NoError(t, repo.Save(ctx, domain.TrackedPlayer{Region: "eu", AccessToken: "old", Account: account(1, "a", 100, 10, 5, 1000)}))

	require.NoError(t, repo.SetAccessToken(ctx, 1, "new", 999))
	p, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new", p.AccessToken)
	assert.Equal(t, int64(999), p.TokenExpiresAt)

	require.NoError(t, repo.SetAccessToken(ctx, 1, "", 0))
	p, err = repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, p.AccessToken)

	err = repo.SetAccessToken(ctx, 42, "x", 1)
	assert.ErrorIs(t, err, domain.ErrNotFoundInLocalStore)
}

func TestPlayerRepository_SnapshotAt(t *testing.T) {
	ctx := context.Background()
	repo := NewPlayerRepository(openTestDB(t), zerolog.Nop())

	require.NoError(t, repo.Save(ctx, domain.TrackedPlayer{Region: "eu", Account: account(1, "a", 100, 10, 5, 1000)}))
	require.NoError(t, repo.AppendHistory(ctx, "eu", account(1, "a", 200, 20, 9, 2000)))
	require.NoError(t, repo.AppendHistory(ctx, "eu", account(1, "a", 300, 30, 12, 3000)))

	snap, err := repo.SnapshotAt(ctx, 1, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(200), snap.Timestamp)

	snap, err = repo.SnapshotAt(ctx, 1, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(30), snap.Statistics.All.Battles)

	_, err = repo.SnapshotAt(ctx, 1, 50)
	assert.ErrorIs(t, err, domain.ErrNotFoundInLocalStore)
	assert.Equal(t, domain.CodePeriodNotTracked, domain.CodeOf(err))

	// history appends leave the current record alone
	p, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.Account.Timestamp)
}

func TestPlayerRepository_SearchAndBatches(t *testing.T) {
	ctx := context.Background()
	repo := NewPlayerRepository(openTestDB(t), zerolog.Nop())

	for i, name := range []string{"Alpha", "alpine", "Bravo", "al_x", "Charlie"} {
		require.NoError(t, repo.Save(ctx, domain.TrackedPlayer{Region: "eu", Account: account(int64(i+1), name, 100, 1, 1, 1)}))
	}

	hits, err := repo.Search(ctx, "al", 10)
	require.NoError(t, err)
	names := make([]string, 0, len(hits))
	for _, h := range hits {
		names = append(names, h.Name)
	}
	assert.ElementsMatch(t, []string{"Alpha", "alpine", "al_x"}, names)

	hits, err = repo.Search(ctx, "l_", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "al_x", hits[0].Name)

	hits, err = repo.Search(ctx, "a", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	var seen []int64
	var batches int
	err = repo.ForEachBatch(ctx, 2, func(batch []domain.TrackedPlayer) error {
		batches++
		assert.LessOrEqual(t, len(batch), 2)
		for _, p := range batch {
			seen = append(seen, p.Account.AccountID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seen)
	assert.Equal(t, 3, batches)
}

func TestPlayerRepository_Top(t *testing.T) {
	ctx := context.Background()
	repo := NewPlayerRepository(openTestDB(t), zerolog.Nop())

	// 1: 30 battles, 60% wins; 2: 10 battles; 3: 25 battles 40%; 4: single capture
	require.NoError(t, repo.AppendHistory(ctx, "eu", account(1, "one", 100, 100, 50, 10000)))
	require.NoError(t, repo.AppendHistory(ctx, "eu", account(1, "one", 200, 130, 68, 13000)))
	require.NoError(t, repo.AppendHistory(ctx, "eu", account(2, "two", 100, 10, 5, 1000)))
	require.NoError(t, repo.AppendHistory(ctx, "eu", account(2, "two", 150, 20, 15, 3000)))
	require.NoError(t, repo.AppendHistory(ctx, "na", account(3, "three", 100, 0, 0, 0)))
	require.NoError(t, repo.AppendHistory(ctx, "na", account(3, "three", 180, 25, 10, 5000)))
	require.NoError(t, repo.AppendHistory(ctx, "eu", account(4, "four", 120, 40, 20, 100)))
	// outside the window
	require.NoError(t, repo.AppendHistory(ctx, "eu", account(2, "two", 500, 500, 400, 90000)))

	run := func(req leaderboard.Request) []domain.PlayerTop {
		q, err := leaderboard.PlayerPipeline(req)
		require.NoError(t, err)
		top, err := repo.Top(ctx, q)
		require.NoError(t, err)
		return top
	}

	top := run(leaderboard.Request{Parameter: leaderboard.ParamBattles, Start: 0, End: 300, Limit: 10})
	require.Len(t, top, 3)
	assert.Equal(t, int64(1), top[0].AccountID)
	assert.Equal(t, 30.0, top[0].Value)
	assert.Equal(t, int64(3), top[1].AccountID)
	assert.Equal(t, int64(2), top[2].AccountID)

	top = run(leaderboard.Request{Parameter: leaderboard.ParamWins, Start: 0, End: 300, Limit: 10})
	require.Len(t, top, 2)
	assert.Equal(t, int64(1), top[0].AccountID)
	assert.Equal(t, 60.0, top[0].Value)
	assert.Equal(t, 40.0, top[1].Value)

	top = run(leaderboard.Request{Parameter: leaderboard.ParamDamage, Start: 0, End: 300, Limit: 1})
	require.Len(t, top, 1)
	assert.Equal(t, int64(3), top[0].AccountID)
	assert.Equal(t, 200.0, top[0].Value)

	top = run(leaderboard.Request{Parameter: leaderboard.ParamBattles, Start: 0, End: 300, Limit: 10, Region: "na"})
	require.Len(t, top, 1)
	assert.Equal(t, "three", top[0].Nickname)
}

func clan(id int64, tag string, ts int64, members ...domain.AccountSnapshot) domain.ClanSnapshot {
	return domain.ClanSnapshot{ClanID: id, Name: tag + " clan", Tag: tag, Region: "eu", MembersCount: int64(len(members)), Members: members, Timestamp: ts}
}

func TestClanRepository_SaveLookupsAndSearch(t *testing.T) {
	ctx := context.Background()
	repo := NewClanRepository(openTestDB(t), zerolog.Nop())

	require.NoError(t, repo.Save(ctx, domain.TrackedClan{Region: "eu", Clan: clan(7, "RED", 100, account(1, "a", 100, 10, 5, 100))}))
	require.NoError(t, repo.Save(ctx, domain.TrackedClan{Region: "eu", Clan: clan(8, "BLUE", 100)}))

	c, err := repo.GetByTag(ctx, "eu", "red")
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.Clan.ClanID)
	require.Len(t, c.Clan.Members, 1)

	c, err = repo.Find(ctx, domain.ClanRef{ClanID: 8})
	require.NoError(t, err)
	assert.Equal(t, "BLUE", c.Clan.Tag)

	_, err = repo.Get(ctx, 9)
	assert.Equal(t, domain.CodeClanNotTracked, domain.CodeOf(err))

	hits, err := repo.Search(ctx, "clan", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	var ids []int64
	require.NoError(t, repo.ForEachBatch(ctx, 1, func(batch []domain.TrackedClan) error {
		for _, c := range batch {
			ids = append(ids, c.Clan.ClanID)
		}
		return nil
	}))
	assert.Equal(t, []int64{7, 8}, ids)
}

func TestClanRepository_WindowsFeedRanking(t *testing.T) {
	ctx := context.Background()
	repo := NewClanRepository(openTestDB(t), zerolog.Nop())

	require.NoError(t, repo.AppendHistory(ctx, "eu", clan(1, "A", 100, account(10, "x", 100, 100, 50, 10000))))
	require.NoError(t, repo.AppendHistory(ctx, "eu", clan(1, "A", 150, account(10, "x", 150, 110, 55, 11000))))
	require.NoError(t, repo.AppendHistory(ctx, "eu", clan(1, "A", 200, account(10, "x", 200, 140, 75, 14000))))
	require.NoError(t, repo.AppendHistory(ctx, "eu", clan(2, "B", 100, account(20, "y", 100, 10, 5, 1000))))
	require.NoError(t, repo.AppendHistory(ctx, "eu", clan(2, "B", 200, account(20, "y", 200, 15, 8, 1500))))

	windows, err := repo.Windows(ctx, leaderboard.ClanWindowPipeline(leaderboard.Request{Start: 0, End: 300}))
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, int64(100), windows[0].First.Timestamp)
	assert.Equal(t, int64(200), windows[0].Last.Timestamp)

	top := leaderboard.RankClans(windows, 10)
	require.Len(t, top, 1)
	assert.Equal(t, int64(1), top[0].ClanID)
	assert.Equal(t, int64(40), top[0].Battles)
	assert.Equal(t, 62.5, top[0].Wins)
}
