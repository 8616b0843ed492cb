package api

import (
	"fmt"

	"blitz-tracker/internal/domain"
)

type Envelope[T any] struct {
	Status string    `json:"status"`
	Meta   *Meta     `json:"meta"`
	Data   T         `json:"data"`
	Error  *APIError `json:"error"`
}

type Meta struct {
	Count *int `json:"count"`
}

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field"`
	Value   any    `json:"value"`
}

func (e *APIError) ValueString() string {
	if e == nil || e.Value == nil {
		return ""
	}
	return fmt.Sprint(e.Value)
}

type accountListItem struct {
	AccountID int64  `json:"account_id"`
	Nickname  string `json:"nickname"`
}

// account/info entries decode straight into the snapshot; the upstream
// field names match its json tags.
type accountInfoData map[string]*domain.AccountSnapshot

type tankStatsData map[string][]domain.VehicleSnapshot

type achievementsEntry struct {
	Achievements map[string]int64 `json:"achievements"`
}

type achievementsData map[string]*achievementsEntry

type ratingPositionResponse struct {
	Neighbors []struct {
		Score  int64 `json:"score"`
		Number int64 `json:"number"`
	} `json:"neighbors"`
}

type clanListItem struct {
	ClanID       int64  `json:"clan_id"`
	Name         string `json:"name"`
	Tag          string `json:"tag"`
	MembersCount int64  `json:"members_count"`
}

type clanInfoEntry struct {
	ClanID       int64   `json:"clan_id"`
	Name         string  `json:"name"`
	Tag          string  `json:"tag"`
	MembersCount int64   `json:"members_count"`
	MembersIDs   []int64 `json:"members_ids"`
}

type clanInfoData map[string]*clanInfoEntry

type Token struct {
	AccessToken string `json:"access_token"`
	AccountID   int64  `json:"account_id"`
	ExpiresAt   int64  `json:"expires_at"`
}

type loginData struct {
	Location string `json:"location"`
}
