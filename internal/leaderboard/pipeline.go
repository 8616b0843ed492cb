// Package leaderboard builds the windowed aggregation queries behind the
// player and clan tops and ranks clans by a composite score.
package leaderboard

import (
	"fmt"
	"strings"

	"blitz-tracker/internal/constants"
	"blitz-tracker/internal/domain"
)

type Parameter string

const (
	ParamBattles Parameter = "battles"
	ParamWins    Parameter = "wins"
	ParamDamage  Parameter = "damage"
)

func ParseParameter(s string) (Parameter, error) {
	switch p := Parameter(strings.ToLower(strings.TrimSpace(s))); p {
	case ParamBattles, ParamWins, ParamDamage:
		return p, nil
	}
	return "", domain.NewError(domain.CodeInvalidArgument, "unknown leaderboard parameter", domain.A("parameter", s))
}

// minBattles is the exclusive lower bound on battles played in the window.
func (p Parameter) minBattles() int64 {
	if p == ParamBattles {
		return 0
	}
	return constants.PlayerRatioMinBattles
}

func (p Parameter) valueExpr() string {
	switch p {
	case ParamWins:
		return "ROUND(CAST(wins AS REAL) / battles * 100, 2)"
	case ParamDamage:
		return "ROUND(CAST(damage_dealt AS REAL) / battles, 2)"
	default:
		return "CAST(battles AS REAL)"
	}
}

// Request describes one top over the capture window [Start, End] (unix
// seconds). An empty Region means all regions.
type Request struct {
	Parameter Parameter `json:"parameter"`
	Start     int64     `json:"start"`
	End       int64     `json:"end"`
	Limit     int       `json:"limit"`
	Region    string    `json:"region"`
}

func (r Request) Validate(maxLimit int) error {
	if r.Start > r.End {
		return domain.NewError(domain.CodeInvalidArgument, "window start is after its end",
			domain.A("start", r.Start), domain.A("end", r.End))
	}
	if r.Limit < 1 || r.Limit > maxLimit {
		return domain.NewError(domain.CodeInvalidArgument, fmt.Sprintf("limit must be within 1..%d", maxLimit),
			domain.A("limit", r.Limit))
	}
	return nil
}

type Query struct {
	SQL  string
	Args []any
}

// PlayerPipeline reduces player_history to the first and last capture of
// every account inside the window and ranks accounts by the requested
// metric over that delta. The whole reduction runs inside SQLite.
func PlayerPipeline(r Request) (Query, error) {
	if _, err := ParseParameter(string(r.Parameter)); err != nil {
		return Query{}, err
	}

	sql := `
WITH windowed AS (
	SELECT
		h.account_id,
		h.region,
		h.nickname,
		COALESCE(json_extract(h.document, '$.statistics.all.battles'), 0)      AS battles,
		COALESCE(json_extract(h.document, '$.statistics.all.wins'), 0)         AS wins,
		COALESCE(json_extract(h.document, '$.statistics.all.damage_dealt'), 0) AS damage_dealt,
		ROW_NUMBER() OVER (PARTITION BY h.account_id ORDER BY h.timestamp ASC, h.rowid ASC)   AS first_rank,
		ROW_NUMBER() OVER (PARTITION BY h.account_id ORDER BY h.timestamp DESC, h.rowid DESC) AS last_rank
	FROM player_history h
	WHERE h.timestamp BETWEEN ? AND ?
	  AND (? = '' OR h.region = ?)
),
deltas AS (
	SELECT
		l.account_id,
		l.region,
		l.nickname,
		l.battles - f.battles           AS battles,
		l.wins - f.wins                 AS wins,
		l.damage_dealt - f.damage_dealt AS damage_dealt
	FROM windowed f
	JOIN windowed l ON l.account_id = f.account_id AND l.last_rank = 1
	WHERE f.first_rank = 1
)
SELECT account_id, nickname, region, ` + r.Parameter.valueExpr() + ` AS value
FROM deltas
WHERE battles > ?
ORDER BY value DESC, account_id ASC
LIMIT ?`

	return Query{
		SQL:  sql,
		Args: []any{r.Start, r.End, r.Region, r.Region, r.Parameter.minBattles(), r.Limit},
	}, nil
}

// ClanWindowPipeline returns, per clan, the whole first and last capture
// inside the window. Ranking happens in RankClans since member lists must
// be intersected.
func ClanWindowPipeline(r Request) Query {
	sql := `
WITH windowed AS (
	SELECT
		h.clan_id,
		h.document,
		ROW_NUMBER() OVER (PARTITION BY h.clan_id ORDER BY h.timestamp ASC, h.rowid ASC)   AS first_rank,
		ROW_NUMBER() OVER (PARTITION BY h.clan_id ORDER BY h.timestamp DESC, h.rowid DESC) AS last_rank
	FROM clan_history h
	WHERE h.timestamp BETWEEN ? AND ?
	  AND (? = '' OR h.region = ?)
)
SELECT f.clan_id, f.document, l.document
FROM windowed f
JOIN windowed l ON l.clan_id = f.clan_id AND l.last_rank = 1
WHERE f.first_rank = 1
ORDER BY f.clan_id`

	return Query{SQL: sql, Args: []any{r.Start, r.End, r.Region, r.Region}}
}
