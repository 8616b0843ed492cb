package domain

import (
	"fmt"
	"sort"
)

type MedalCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
	Image string `json:"image"`
}

type MedalSet struct {
	AccountID int64        `json:"account_id"`
	Medals    []MedalCount `json:"medals"`
}

// SubtractMedals reports, per medal name, how many were earned between the
// two captures. Medals without progress are dropped.
func SubtractMedals(newer, older MedalSet) (*MedalSet, error) {
	if newer.AccountID != older.AccountID {
		return nil, fmt.Errorf("%w: account_id %d vs %d", ErrIdentityMismatch, newer.AccountID, older.AccountID)
	}

	prev := make(map[string]MedalCount, len(older.Medals))
	for _, m := range older.Medals {
		prev[m.Name] = m
	}
	seen := make(map[string]struct{}, len(newer.Medals))

	var out []MedalCount
	for _, m := range newer.Medals {
		seen[m.Name] = struct{}{}
		if d := absDiff(m.Count, prev[m.Name].Count); d > 0 {
			out = append(out, MedalCount{Name: m.Name, Count: d, Image: m.Image})
		}
	}
	for _, m := range older.Medals {
		if _, ok := seen[m.Name]; ok || m.Count == 0 {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return &MedalSet{AccountID: newer.AccountID, Medals: out}, nil
}

// WithImages returns a copy of m with every image resolved through lookup.
func (m MedalSet) WithImages(lookup func(name string) string) MedalSet {
	medals := make([]MedalCount, len(m.Medals))
	for i, mc := range m.Medals {
		mc.Image = lookup(mc.Name)
		medals[i] = mc
	}
	m.Medals = medals
	return m
}
