package domain

import (
	"fmt"
	"time"
)

// Private is only visible to the account owner. Counters are subtracted,
// flags and ban details are taken from the newer capture.
type Private struct {
	Gold             int64   `json:"gold"`
	Credits          int64   `json:"credits"`
	FreeXP           int64   `json:"free_xp"`
	PremiumExpiresAt int64   `json:"premium_expires_at"`
	BattleLifeTime   int64   `json:"battle_life_time"`
	IsPremium        bool    `json:"is_premium"`
	BanInfo          *string `json:"ban_info"`
	BanTime          *int64  `json:"ban_time"`
}

func (p Private) counters() [5]int64 {
	return [5]int64{p.Gold, p.Credits, p.FreeXP, p.PremiumExpiresAt, p.BattleLifeTime}
}

func SubtractPrivate(newer, older Private) *Private {
	if newer.counters() == older.counters() {
		return nil
	}
	return &Private{
		Gold:             absDiff(newer.Gold, older.Gold),
		Credits:          absDiff(newer.Credits, older.Credits),
		FreeXP:           absDiff(newer.FreeXP, older.FreeXP),
		PremiumExpiresAt: absDiff(newer.PremiumExpiresAt, older.PremiumExpiresAt),
		BattleLifeTime:   absDiff(newer.BattleLifeTime, older.BattleLifeTime),
		IsPremium:        newer.IsPremium,
		BanInfo:          newer.BanInfo,
		BanTime:          newer.BanTime,
	}
}

type Statistics struct {
	All    *BattleStats `json:"all"`
	Rating *RatingStats `json:"rating"`
}

// AccountSnapshot is one capture of a player. A nil Vehicles slice means the
// vehicles were not captured, an empty one means the account has none.
type AccountSnapshot struct {
	AccountID      int64             `json:"account_id"`
	Nickname       string            `json:"nickname"`
	CreatedAt      int64             `json:"created_at"`
	UpdatedAt      int64             `json:"updated_at"`
	LastBattleTime int64             `json:"last_battle_time"`
	Private        *Private          `json:"private"`
	Statistics     Statistics        `json:"statistics"`
	Timestamp      int64             `json:"timestamp"`
	Vehicles       []VehicleSnapshot `json:"tanks"`
}

// SubtractAccount returns the progress between two captures of the same
// account, or nil when nothing progressed.
func SubtractAccount(newer, older AccountSnapshot) (*AccountSnapshot, error) {
	if newer.AccountID != older.AccountID {
		return nil, fmt.Errorf("%w: account_id %d vs %d", ErrIdentityMismatch, newer.AccountID, older.AccountID)
	}

	var stats Statistics
	if newer.Statistics.All != nil && older.Statistics.All != nil {
		stats.All = SubtractBattleStats(*newer.Statistics.All, *older.Statistics.All)
	}
	if newer.Statistics.Rating != nil && older.Statistics.Rating != nil {
		stats.Rating = SubtractRatingStats(*newer.Statistics.Rating, *older.Statistics.Rating)
	}

	var vehicles []VehicleSnapshot
	if newer.Vehicles != nil && older.Vehicles != nil {
		vehicles = subtractVehicles(newer.Vehicles, older.Vehicles)
	}

	var private *Private
	if newer.Private != nil && older.Private != nil {
		private = SubtractPrivate(*newer.Private, *older.Private)
	}

	if stats.All == nil && stats.Rating == nil && len(vehicles) == 0 && private == nil {
		return nil, nil
	}

	return &AccountSnapshot{
		AccountID:      newer.AccountID,
		Nickname:       newer.Nickname,
		CreatedAt:      newer.CreatedAt,
		UpdatedAt:      absDiff(newer.UpdatedAt, older.UpdatedAt),
		LastBattleTime: max(newer.LastBattleTime, older.LastBattleTime),
		Private:        private,
		Statistics:     stats,
		Timestamp:      absDiff(newer.Timestamp, older.Timestamp),
		Vehicles:       vehicles,
	}, nil
}

// WithRatingPosition returns a copy of a whose rating carries the ladder
// placement. Accounts without rating statistics are returned unchanged.
func (a AccountSnapshot) WithRatingPosition(pos *RatingPosition) AccountSnapshot {
	if pos == nil || a.Statistics.Rating == nil {
		return a
	}
	r := a.Statistics.Rating.WithPosition(*pos)
	a.Statistics.Rating = &r
	return a
}

func (a AccountSnapshot) WithVehicles(vs []VehicleSnapshot) AccountSnapshot {
	a.Vehicles = append([]VehicleSnapshot(nil), vs...)
	if vs != nil && a.Vehicles == nil {
		a.Vehicles = []VehicleSnapshot{}
	}
	return a
}

func (a AccountSnapshot) WithTimestamp(ts int64) AccountSnapshot {
	a.Timestamp = ts
	return a
}

// RoundTimestamp rounds ts to the nearest multiple of window so that all
// captures taken in one refresh run share the same timestamp.
func RoundTimestamp(ts int64, window time.Duration) int64 {
	w := int64(window / time.Second)
	if w <= 0 {
		return ts
	}
	return (ts + w/2) / w * w
}
