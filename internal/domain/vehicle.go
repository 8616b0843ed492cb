package domain

import (
	"fmt"
	"sort"
)

type VehicleSnapshot struct {
	VehicleID      int64       `json:"tank_id"`
	All            BattleStats `json:"all"`
	LastBattleTime int64       `json:"last_battle_time"`
	BattleLifeTime int64       `json:"battle_life_time"`
	MarkOfMastery  int64       `json:"mark_of_mastery"`
	InGarage       *bool       `json:"in_garage,omitempty"`
}

// SubtractVehicle returns the vehicle progress or nil when no battle was
// played in it. Times are high-water marks, so the later one wins.
func SubtractVehicle(newer, older VehicleSnapshot) (*VehicleSnapshot, error) {
	if newer.VehicleID != older.VehicleID {
		return nil, fmt.Errorf("%w: tank_id %d vs %d", ErrIdentityMismatch, newer.VehicleID, older.VehicleID)
	}
	all := SubtractBattleStats(newer.All, older.All)
	if all == nil {
		return nil, nil
	}
	return &VehicleSnapshot{
		VehicleID:      newer.VehicleID,
		All:            *all,
		LastBattleTime: max(newer.LastBattleTime, older.LastBattleTime),
		BattleLifeTime: max(newer.BattleLifeTime, older.BattleLifeTime),
		MarkOfMastery:  newer.MarkOfMastery,
		InGarage:       newer.InGarage,
	}, nil
}

// subtractVehicles diffs over the union of both sides. A vehicle missing on
// one side counts as all-zero there.
func subtractVehicles(newer, older []VehicleSnapshot) []VehicleSnapshot {
	newIdx := indexVehicles(newer)
	oldIdx := indexVehicles(older)

	ids := make([]int64, 0, len(newIdx)+len(oldIdx))
	for id := range newIdx {
		ids = append(ids, id)
	}
	for id := range oldIdx {
		if _, ok := newIdx[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []VehicleSnapshot
	for _, id := range ids {
		n, ok := newIdx[id]
		if !ok {
			n = VehicleSnapshot{VehicleID: id}
		}
		o, ok := oldIdx[id]
		if !ok {
			o = VehicleSnapshot{VehicleID: id}
		}
		// ids match by construction
		d, _ := SubtractVehicle(n, o)
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

func indexVehicles(vs []VehicleSnapshot) map[int64]VehicleSnapshot {
	idx := make(map[int64]VehicleSnapshot, len(vs))
	for _, v := range vs {
		idx[v.VehicleID] = v
	}
	return idx
}
