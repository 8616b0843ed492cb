package leaderboard

import (
	"sort"

	"blitz-tracker/internal/constants"
	"blitz-tracker/internal/domain"
)

const (
	weightDamage  = 0.4
	weightWins    = 0.3
	weightBattles = 0.3
)

// ClanWindow is the first and last capture of one clan inside a window.
type ClanWindow struct {
	First domain.ClanSnapshot
	Last  domain.ClanSnapshot
}

type bounds struct{ min, max float64 }

func (b *bounds) add(v float64, first bool) {
	if first || v < b.min {
		b.min = v
	}
	if first || v > b.max {
		b.max = v
	}
}

// normalize maps v into [0,1]. A degenerate range yields 0.
func (b bounds) normalize(v float64) float64 {
	if b.max == b.min {
		return 0
	}
	return (v - b.min) / (b.max - b.min)
}

// RankClans scores every clan with enough battles in the window against the
// rest of the candidate set and returns the best limit clans. The score
// depends on the whole set, so it is never stored per clan.
func RankClans(windows []ClanWindow, limit int) []domain.ClanTop {
	candidates := make([]domain.ClanTop, 0, len(windows))
	for _, w := range windows {
		totals := domain.MemberTotals(w.First, w.Last)
		if totals.Battles < constants.ClanMinBattles {
			continue
		}
		damage := domain.Round2(float64(totals.DamageDealt))
		candidates = append(candidates, domain.ClanTop{
			ClanID:        w.Last.ClanID,
			Name:          w.Last.Name,
			Tag:           w.Last.Tag,
			Region:        w.Last.Region,
			Battles:       totals.Battles,
			Wins:          domain.Ratio(totals.Wins, totals.Battles, 100),
			Damage:        damage,
			AverageDamage: domain.Ratio(totals.DamageDealt, totals.Battles, 1),
		})
	}

	var battles, wins, avgDamage bounds
	for i, c := range candidates {
		battles.add(float64(c.Battles), i == 0)
		wins.add(c.Wins, i == 0)
		avgDamage.add(c.AverageDamage, i == 0)
	}
	for i := range candidates {
		c := &candidates[i]
		c.Rating = weightDamage*avgDamage.normalize(c.AverageDamage) +
			weightWins*wins.normalize(c.Wins) +
			weightBattles*battles.normalize(float64(c.Battles))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Rating != candidates[j].Rating {
			return candidates[i].Rating > candidates[j].Rating
		}
		return candidates[i].ClanID < candidates[j].ClanID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
