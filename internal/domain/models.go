package domain

import (
	"time"
)

// TrackedPlayer is the current stored record of a player.
type TrackedPlayer struct {
	Region         string
	AccessToken    string
	TokenExpiresAt int64
	Account        AccountSnapshot
	Medals         *MedalSet
	UpdatedAt      time.Time
}

type TrackedClan struct {
	Region    string
	Clan      ClanSnapshot
	UpdatedAt time.Time
}

// PlayerRef addresses a player by id, by nickname or by access token.
// AccountID wins over Name, Name over AccessToken.
type PlayerRef struct {
	AccountID   int64
	Name        string
	Region      string
	AccessToken string
}

type ClanRef struct {
	ClanID int64
	Tag    string
	Region string
}

// Suggestion is one search hit from the local store.
type Suggestion struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

type TaskStatus string

const (
	TaskRunning  TaskStatus = "running"
	TaskFinished TaskStatus = "finished"
	TaskFailed   TaskStatus = "failed"
)

// Task tracks progress of a bulk refresh run.
type Task struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Status    TaskStatus `json:"status"`
	Total     int        `json:"total"`
	Done      int        `json:"done"`
	Failed    int        `json:"failed"`
	Progress  float64    `json:"progress"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// VehicleInfo is catalog metadata about a vehicle.
type VehicleInfo struct {
	Name      string        `json:"name"`
	Tier      int           `json:"tier"`
	Nation    string        `json:"nation"`
	Type      string        `json:"type"`
	IsPremium bool          `json:"is_premium"`
	Images    VehicleImages `json:"images"`
}

type VehicleImages struct {
	Preview string `json:"preview"`
	Normal  string `json:"normal"`
}

// PlayerTop is one row of the player leaderboard.
type PlayerTop struct {
	AccountID int64   `json:"account_id"`
	Nickname  string  `json:"nickname"`
	Region    string  `json:"region"`
	Value     float64 `json:"value"`
}

// ClanTop is one row of the clan leaderboard.
type ClanTop struct {
	ClanID        int64   `json:"clan_id"`
	Name          string  `json:"name"`
	Tag           string  `json:"tag"`
	Region        string  `json:"region"`
	Battles       int64   `json:"battles"`
	Wins          float64 `json:"general_wins"`
	Damage        float64 `json:"general_damage"`
	AverageDamage float64 `json:"average_damage"`
	Rating        float64 `json:"rating"`
}
