package domain

// RatingStats is the ladder ("rating") flavour of BattleStats. Score and
// Number come from the ladder position lookup and may be missing.
type RatingStats struct {
	BattleStats
	MMRating               float64 `json:"mm_rating"`
	CalibrationBattlesLeft int64   `json:"calibration_battles_left"`
	CurrentSeason          int64   `json:"current_season"`
	IsRecalibration        bool    `json:"is_recalibration"`
	Score                  *int64  `json:"score"`
	Number                 *int64  `json:"number"`
}

// RatingPosition is the ladder placement of an account.
type RatingPosition struct {
	Score  int64 `json:"score"`
	Number int64 `json:"number"`
}

func (r RatingStats) Equal(o RatingStats) bool {
	return r.BattleStats == o.BattleStats &&
		r.MMRating == o.MMRating &&
		r.CalibrationBattlesLeft == o.CalibrationBattlesLeft &&
		r.CurrentSeason == o.CurrentSeason &&
		r.IsRecalibration == o.IsRecalibration &&
		equalOptional(r.Score, o.Score) &&
		equalOptional(r.Number, o.Number)
}

// SubtractRatingStats follows the BattleStats rules. A rating delta with no
// sampled battles is dropped even when score or position moved.
func SubtractRatingStats(newer, older RatingStats) *RatingStats {
	if newer.Equal(older) {
		return nil
	}
	all := diffCounters(newer.BattleStats, older.BattleStats)
	if all.Battles == 0 {
		return nil
	}
	mm := newer.MMRating - older.MMRating
	if mm < 0 {
		mm = -mm
	}
	return &RatingStats{
		BattleStats:            all,
		MMRating:               Round2(mm),
		CalibrationBattlesLeft: absDiff(newer.CalibrationBattlesLeft, older.CalibrationBattlesLeft),
		CurrentSeason:          newer.CurrentSeason,
		IsRecalibration:        newer.IsRecalibration,
		Score:                  diffOptional(newer.Score, older.Score),
		Number:                 diffOptional(newer.Number, older.Number),
	}
}

// WithPosition returns a copy of r carrying the ladder placement.
func (r RatingStats) WithPosition(pos RatingPosition) RatingStats {
	score, number := pos.Score, pos.Number
	r.Score = &score
	r.Number = &number
	return r
}

func equalOptional(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func diffOptional(a, b *int64) *int64 {
	if a == nil || b == nil {
		return nil
	}
	d := absDiff(*a, *b)
	return &d
}
