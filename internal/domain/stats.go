package domain

import "github.com/shopspring/decimal"

// BattleStats holds the raw battle counters reported by the game API.
// Every field is a non-negative counter; derived ratios live in Ratios.
type BattleStats struct {
	Battles              int64 `json:"battles"`
	Wins                 int64 `json:"wins"`
	Losses               int64 `json:"losses"`
	DamageDealt          int64 `json:"damage_dealt"`
	DamageReceived       int64 `json:"damage_received"`
	Hits                 int64 `json:"hits"`
	Shots                int64 `json:"shots"`
	Frags                int64 `json:"frags"`
	Frags8p              int64 `json:"frags8p"`
	MaxFrags             int64 `json:"max_frags"`
	XP                   int64 `json:"xp"`
	MaxXP                int64 `json:"max_xp"`
	SurvivedBattles      int64 `json:"survived_battles"`
	WinAndSurvived       int64 `json:"win_and_survived"`
	Spotted              int64 `json:"spotted"`
	CapturePoints        int64 `json:"capture_points"`
	DroppedCapturePoints int64 `json:"dropped_capture_points"`
}

// Ratios are derived from the counters of one BattleStats value and are
// never subtracted directly.
type Ratios struct {
	Battles           int64   `json:"battles"`
	Winrate           float64 `json:"winrate"`
	Damage            float64 `json:"damage"`
	Accuracy          float64 `json:"accuracy"`
	Survival          float64 `json:"survival"`
	AvgXP             float64 `json:"avg_xp"`
	WinsAndSurvived   float64 `json:"wins_and_survived"`
	FragsPerBattle    float64 `json:"frags_per_battle"`
	DamageCoefficient float64 `json:"damage_coefficient"`
}

func (s BattleStats) Ratios() Ratios {
	return Ratios{
		Battles:           s.Battles,
		Winrate:           Ratio(s.Wins, s.Battles, 100),
		Damage:            Ratio(s.DamageDealt, s.Battles, 1),
		Accuracy:          Ratio(s.Hits, s.Shots, 100),
		Survival:          Ratio(s.SurvivedBattles, s.Battles, 100),
		AvgXP:             Ratio(s.XP, s.Battles, 1),
		WinsAndSurvived:   Ratio(s.WinAndSurvived, s.Battles, 100),
		FragsPerBattle:    Ratio(s.Frags, s.Battles, 1),
		DamageCoefficient: Ratio(s.DamageDealt, s.DamageReceived, 1),
	}
}

func (s BattleStats) IsZero() bool {
	return s == BattleStats{}
}

// Add returns the field-wise sum of s and o.
func (s BattleStats) Add(o BattleStats) BattleStats {
	return BattleStats{
		Battles:              s.Battles + o.Battles,
		Wins:                 s.Wins + o.Wins,
		Losses:               s.Losses + o.Losses,
		DamageDealt:          s.DamageDealt + o.DamageDealt,
		DamageReceived:       s.DamageReceived + o.DamageReceived,
		Hits:                 s.Hits + o.Hits,
		Shots:                s.Shots + o.Shots,
		Frags:                s.Frags + o.Frags,
		Frags8p:              s.Frags8p + o.Frags8p,
		MaxFrags:             s.MaxFrags + o.MaxFrags,
		XP:                   s.XP + o.XP,
		MaxXP:                s.MaxXP + o.MaxXP,
		SurvivedBattles:      s.SurvivedBattles + o.SurvivedBattles,
		WinAndSurvived:       s.WinAndSurvived + o.WinAndSurvived,
		Spotted:              s.Spotted + o.Spotted,
		CapturePoints:        s.CapturePoints + o.CapturePoints,
		DroppedCapturePoints: s.DroppedCapturePoints + o.DroppedCapturePoints,
	}
}

// SubtractBattleStats returns the progress between two captures, or nil when
// the operands are identical or no battle was played in between.
func SubtractBattleStats(newer, older BattleStats) *BattleStats {
	if newer == older {
		return nil
	}
	d := diffCounters(newer, older)
	if d.Battles == 0 {
		return nil
	}
	return &d
}

func diffCounters(a, b BattleStats) BattleStats {
	return BattleStats{
		Battles:              absDiff(a.Battles, b.Battles),
		Wins:                 absDiff(a.Wins, b.Wins),
		Losses:               absDiff(a.Losses, b.Losses),
		DamageDealt:          absDiff(a.DamageDealt, b.DamageDealt),
		DamageReceived:       absDiff(a.DamageReceived, b.DamageReceived),
		Hits:                 absDiff(a.Hits, b.Hits),
		Shots:                absDiff(a.Shots, b.Shots),
		Frags:                absDiff(a.Frags, b.Frags),
		Frags8p:              absDiff(a.Frags8p, b.Frags8p),
		MaxFrags:             absDiff(a.MaxFrags, b.MaxFrags),
		XP:                   absDiff(a.XP, b.XP),
		MaxXP:                absDiff(a.MaxXP, b.MaxXP),
		SurvivedBattles:      absDiff(a.SurvivedBattles, b.SurvivedBattles),
		WinAndSurvived:       absDiff(a.WinAndSurvived, b.WinAndSurvived),
		Spotted:              absDiff(a.Spotted, b.Spotted),
		CapturePoints:        absDiff(a.CapturePoints, b.CapturePoints),
		DroppedCapturePoints: absDiff(a.DroppedCapturePoints, b.DroppedCapturePoints),
	}
}

// Ratio computes num/den*scale rounded to 2 decimal places. A zero
// denominator yields 0.
func Ratio(num, den int64, scale int64) float64 {
	if den == 0 {
		return 0
	}
	return decimal.NewFromInt(num).
		Mul(decimal.NewFromInt(scale)).
		Div(decimal.NewFromInt(den)).
		Round(2).
		InexactFloat64()
}

func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
