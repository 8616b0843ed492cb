package domain

import (
	"fmt"
	"sort"
)

type ClanSnapshot struct {
	ClanID       int64             `json:"clan_id"`
	Name         string            `json:"name"`
	Tag          string            `json:"tag"`
	Region       string            `json:"region"`
	MembersCount int64             `json:"members_count"`
	Members      []AccountSnapshot `json:"members"`
	// Statistics is the sum of member counters. Only set on deltas.
	Statistics *BattleStats `json:"statistics,omitempty"`
	Timestamp  int64        `json:"timestamp"`
}

// SubtractClan diffs the members present in both captures. Members who
// joined or left in between are ignored.
func SubtractClan(newer, older ClanSnapshot) (*ClanSnapshot, error) {
	if newer.ClanID != older.ClanID {
		return nil, fmt.Errorf("%w: clan_id %d vs %d", ErrIdentityMismatch, newer.ClanID, older.ClanID)
	}

	oldMembers := indexMembers(older.Members)

	var (
		members []AccountSnapshot
		total   BattleStats
	)
	for _, m := range newer.Members {
		prev, ok := oldMembers[m.AccountID]
		if !ok {
			continue
		}
		d, err := SubtractAccount(m, prev)
		if err != nil {
			return nil, err
		}
		if d == nil || (d.Statistics.All == nil && d.Statistics.Rating == nil) {
			continue
		}
		members = append(members, *d)
		if d.Statistics.All != nil {
			total = total.Add(*d.Statistics.All)
		}
	}
	if len(members) == 0 {
		return nil, nil
	}
	sort.Slice(members, func(i, j int) bool { return members[i].AccountID < members[j].AccountID })

	return &ClanSnapshot{
		ClanID:       newer.ClanID,
		Name:         newer.Name,
		Tag:          newer.Tag,
		Region:       newer.Region,
		MembersCount: newer.MembersCount,
		Members:      members,
		Statistics:   &total,
		Timestamp:    absDiff(newer.Timestamp, older.Timestamp),
	}, nil
}

// MemberTotals sums general counters over the members present in both
// captures and returns last minus first.
func MemberTotals(first, last ClanSnapshot) BattleStats {
	firstIdx := indexMembers(first.Members)

	var from, to BattleStats
	for _, m := range last.Members {
		prev, ok := firstIdx[m.AccountID]
		if !ok || m.Statistics.All == nil || prev.Statistics.All == nil {
			continue
		}
		to = to.Add(*m.Statistics.All)
		from = from.Add(*prev.Statistics.All)
	}
	if to == from {
		return BattleStats{}
	}
	return diffCounters(to, from)
}

func indexMembers(ms []AccountSnapshot) map[int64]AccountSnapshot {
	idx := make(map[int64]AccountSnapshot, len(ms))
	for _, m := range ms {
		idx[m.AccountID] = m
	}
	return idx
}
