package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"blitz-tracker/internal/domain"
	"blitz-tracker/internal/leaderboard"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type ClanRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewClanRepository(sqlDB *sql.DB, logger zerolog.Logger) *ClanRepository {
	return &ClanRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func scanClan(row rowScanner) (*domain.TrackedClan, error) {
	var (
		c        domain.TrackedClan
		clanID   int64
		document string
	)
	if err := row.Scan(&clanID, &c.Region, &document, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(document), &c.Clan); err != nil {
		return nil, fmt.Errorf("failed to decode clan %d document: %w", clanID, err)
	}
	return &c, nil
}

func (r *ClanRepository) getOne(ctx context.Context, where string, args []any, notTracked *domain.Error) (*domain.TrackedClan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT clan_id, region, document, updated_at FROM clans WHERE `+where+` LIMIT 1`, args...)
	c, err := scanClan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notTracked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clan: %w", err)
	}
	return c, nil
}

func (r *ClanRepository) Get(ctx context.Context, clanID int64) (*domain.TrackedClan, error) {
	return r.getOne(ctx, "clan_id = ?", []any{clanID},
		domain.NewError(domain.CodeClanNotTracked, "", domain.A("clan_id", clanID)))
}

func (r *ClanRepository) GetByTag(ctx context.Context, region, tag string) (*domain.TrackedClan, error) {
	return r.getOne(ctx, "region = ? AND tag = ? COLLATE NOCASE", []any{strings.ToLower(region), tag},
		domain.NewError(domain.CodeClanNotTracked, "", domain.A("tag", tag), domain.A("region", region)))
}

func (r *ClanRepository) Find(ctx context.Context, ref domain.ClanRef) (*domain.TrackedClan, error) {
	switch {
	case ref.ClanID != 0:
		return r.Get(ctx, ref.ClanID)
	case ref.Tag != "":
		return r.GetByTag(ctx, ref.Region, ref.Tag)
	}
	return nil, domain.NewError(domain.CodeInvalidArgument, "clan reference is empty")
}

// Save replaces the current record of the clan and appends the capture to
// its history in one transaction.
func (r *ClanRepository) Save(ctx context.Context, c domain.TrackedClan) error {
	document, err := json.Marshal(c.Clan)
	if err != nil {
		return fmt.Errorf("failed to encode clan %d: %w", c.Clan.ClanID, err)
	}
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	region := strings.ToLower(c.Region)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO clans (clan_id, region, tag, name, document, timestamp, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(clan_id) DO UPDATE SET
			region     = excluded.region,
			tag        = excluded.tag,
			name       = excluded.name,
			document   = excluded.document,
			timestamp  = excluded.timestamp,
			updated_at = excluded.updated_at`,
		c.Clan.ClanID, region, c.Clan.Tag, c.Clan.Name, string(document), c.Clan.Timestamp, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert clan %d: %w", c.Clan.ClanID, err)
	}

	if err := insertClanHistory(ctx, tx, region, c.Clan, document); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *ClanRepository) AppendHistory(ctx context.Context, region string, clan domain.ClanSnapshot) error {
	document, err := json.Marshal(clan)
	if err != nil {
		return fmt.Errorf("failed to encode clan %d: %w", clan.ClanID, err)
	}
	return insertClanHistory(ctx, r.db, strings.ToLower(region), clan, document)
}

func insertClanHistory(ctx context.Context, db execer, region string, clan domain.ClanSnapshot, document []byte) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate history id: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO clan_history (id, clan_id, region, tag, name, document, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, clan.ClanID, region, clan.Tag, clan.Name, string(document), clan.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append clan %d history: %w", clan.ClanID, err)
	}
	return nil
}

// Search matches query against clan tags and names.
func (r *ClanRepository) Search(ctx context.Context, query string, limit int) ([]domain.Suggestion, error) {
	pattern := likePattern(query)
	rows, err := r.db.QueryContext(ctx, `
		SELECT clan_id, tag, region FROM clans
		WHERE tag LIKE ? ESCAPE '\' OR name LIKE ? ESCAPE '\'
		ORDER BY tag COLLATE NOCASE, clan_id
		LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search clans: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Suggestion, 0)
	for rows.Next() {
		var s domain.Suggestion
		if err := rows.Scan(&s.ID, &s.Name, &s.Region); err != nil {
			return nil, fmt.Errorf("failed to scan clan suggestion: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *ClanRepository) ForEachBatch(ctx context.Context, batchSize int, fn func([]domain.TrackedClan) error) error {
	var after int64 = -1
	for {
		rows, err := r.db.QueryContext(ctx, `
			SELECT clan_id, region, document, updated_at FROM clans
			WHERE clan_id > ?
			ORDER BY clan_id
			LIMIT ?`,
			after, batchSize,
		)
		if err != nil {
			return fmt.Errorf("failed to list clans: %w", err)
		}

		batch := make([]domain.TrackedClan, 0, batchSize)
		for rows.Next() {
			c, err := scanClan(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan clan: %w", err)
			}
			batch = append(batch, *c)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("failed to list clans: %w", err)
		}

		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		after = batch[len(batch)-1].Clan.ClanID
	}
}

func (r *ClanRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clans`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count clans: %w", err)
	}
	return n, nil
}

// Windows runs a clan window pipeline and decodes the first and last
// capture of each clan.
func (r *ClanRepository) Windows(ctx context.Context, q leaderboard.Query) ([]leaderboard.ClanWindow, error) {
	rows, err := r.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run clan window pipeline: %w", err)
	}
	defer rows.Close()

	var result []leaderboard.ClanWindow
	for rows.Next() {
		var (
			clanID      int64
			first, last string
			w           leaderboard.ClanWindow
		)
		if err := rows.Scan(&clanID, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan clan window: %w", err)
		}
		if err := json.Unmarshal([]byte(first), &w.First); err != nil {
			return nil, fmt.Errorf("failed to decode clan %d window: %w", clanID, err)
		}
		if err := json.Unmarshal([]byte(last), &w.Last); err != nil {
			return nil, fmt.Errorf("failed to decode clan %d window: %w", clanID, err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}
