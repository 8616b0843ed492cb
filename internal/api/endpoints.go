package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"blitz-tracker/internal/constants"
	"blitz-tracker/internal/domain"
)

func (c *Client) endpointURL(region, path string, params url.Values) (string, error) {
	base, err := c.regionURL(region)
	if err != nil {
		return "", err
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("application_id", c.appID)
	return base + path + "?" + params.Encode(), nil
}

// FindAccount resolves an exact nickname to an account id.
func (c *Client) FindAccount(ctx context.Context, region, nickname string) (int64, error) {
	u, err := c.endpointURL(region, "/account/list/", url.Values{
		"search": {nickname},
		"type":   {"exact"},
	})
	if err != nil {
		return 0, err
	}

	env, err := fetch[[]accountListItem](ctx, c, "account_list", u, FetchOptions{
		ExpectCount:    true,
		ExpectStatusOK: true,
		Entity:         EntityPlayer,
		Query:          nickname,
	})
	if err != nil {
		return 0, err
	}
	if len(env.Data) == 0 {
		return 0, domain.NewError(domain.CodePlayerNotFound, "", domain.A("name", nickname), domain.A("region", region))
	}
	for _, item := range env.Data {
		if strings.EqualFold(item.Nickname, nickname) {
			return item.AccountID, nil
		}
	}
	return env.Data[0].AccountID, nil
}

// AccountInfo fetches general and rating statistics in upstream-sized
// batches. Accounts the upstream reports as null are absent from the result.
func (c *Client) AccountInfo(ctx context.Context, region string, ids []int64, accessToken string) (map[int64]domain.AccountSnapshot, error) {
	out := make(map[int64]domain.AccountSnapshot, len(ids))
	for start := 0; start < len(ids); start += constants.AccountInfoBatchSize {
		end := min(start+constants.AccountInfoBatchSize, len(ids))

		params := url.Values{
			"account_id": {joinIDs(ids[start:end])},
			"extra":      {"statistics.rating"},
		}
		if accessToken != "" {
			params.Set("access_token", accessToken)
		}
		u, err := c.endpointURL(region, "/account/info/", params)
		if err != nil {
			return nil, err
		}

		env, err := fetch[accountInfoData](ctx, c, "account_info", u, FetchOptions{ExpectStatusOK: true})
		if err != nil {
			return nil, err
		}
		for _, acc := range env.Data {
			if acc == nil {
				continue
			}
			out[acc.AccountID] = *acc
		}
	}
	return out, nil
}

func (c *Client) GetAccount(ctx context.Context, region string, accountID int64, accessToken string) (*domain.AccountSnapshot, error) {
	accounts, err := c.AccountInfo(ctx, region, []int64{accountID}, accessToken)
	if err != nil {
		return nil, err
	}
	acc, ok := accounts[accountID]
	if !ok {
		return nil, domain.NewError(domain.CodePlayerNotFound, "", domain.A("account_id", accountID), domain.A("region", region))
	}
	return &acc, nil
}

func (c *Client) VehicleStats(ctx context.Context, region string, accountID int64, accessToken string) ([]domain.VehicleSnapshot, error) {
	params := url.Values{"account_id": {strconv.FormatInt(accountID, 10)}}
	if accessToken != "" {
		params.Set("access_token", accessToken)
	}
	u, err := c.endpointURL(region, "/tanks/stats/", params)
	if err != nil {
		return nil, err
	}

	env, err := fetch[tankStatsData](ctx, c, "tanks_stats", u, FetchOptions{ExpectStatusOK: true})
	if err != nil {
		return nil, err
	}
	vehicles, ok := env.Data[strconv.FormatInt(accountID, 10)]
	if !ok || vehicles == nil {
		return nil, domain.NewError(domain.CodeNoUpdateTank, "", domain.A("account_id", accountID), domain.A("region", region))
	}
	sort.Slice(vehicles, func(i, j int) bool { return vehicles[i].VehicleID < vehicles[j].VehicleID })
	return vehicles, nil
}

func (c *Client) Achievements(ctx context.Context, region string, accountID int64) (*domain.MedalSet, error) {
	u, err := c.endpointURL(region, "/account/achievements/", url.Values{
		"account_id": {strconv.FormatInt(accountID, 10)},
	})
	if err != nil {
		return nil, err
	}

	env, err := fetch[achievementsData](ctx, c, "account_achievements", u, FetchOptions{ExpectStatusOK: true})
	if err != nil {
		return nil, err
	}
	entry := env.Data[strconv.FormatInt(accountID, 10)]
	if entry == nil {
		return nil, domain.NewError(domain.CodePlayerNotFound, "", domain.A("account_id", accountID), domain.A("region", region))
	}

	set := &domain.MedalSet{AccountID: accountID, Medals: make([]domain.MedalCount, 0, len(entry.Achievements))}
	for name, count := range entry.Achievements {
		set.Medals = append(set.Medals, domain.MedalCount{Name: name, Count: count})
	}
	sort.Slice(set.Medals, func(i, j int) bool { return set.Medals[i].Name < set.Medals[j].Name })
	return set, nil
}

// RatingPosition reads the ladder placement from the public leaderboard,
// which does not use the standard envelope. Unranked accounts get zeros.
func (c *Client) RatingPosition(ctx context.Context, region string, accountID int64) (*domain.RatingPosition, error) {
	if _, err := c.regionURL(region); err != nil {
		return nil, err
	}
	u := strings.NewReplacer(
		"{region}", strings.ToLower(region),
		"{account_id}", strconv.FormatInt(accountID, 10),
	).Replace(c.ratingURL)

	body, err := c.Fetch(ctx, "rating_position", u, FetchOptions{})
	if err != nil {
		return nil, err
	}

	var resp ratingPositionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode rating_position response: %w", err)
	}
	if len(resp.Neighbors) == 0 {
		return &domain.RatingPosition{}, nil
	}
	return &domain.RatingPosition{Score: resp.Neighbors[0].Score, Number: resp.Neighbors[0].Number}, nil
}

// FindClan resolves a clan tag, preferring an exact tag match.
func (c *Client) FindClan(ctx context.Context, region, tag string) (int64, error) {
	u, err := c.endpointURL(region, "/clans/list/", url.Values{"search": {tag}})
	if err != nil {
		return 0, err
	}

	env, err := fetch[[]clanListItem](ctx, c, "clans_list", u, FetchOptions{
		ExpectCount:    true,
		ExpectStatusOK: true,
		Entity:         EntityClan,
		Query:          tag,
	})
	if err != nil {
		return 0, err
	}
	if len(env.Data) == 0 {
		return 0, domain.NewError(domain.CodeClanNotFound, "", domain.A("tag", tag), domain.A("region", region))
	}
	for _, item := range env.Data {
		if strings.EqualFold(item.Tag, tag) {
			return item.ClanID, nil
		}
	}
	return env.Data[0].ClanID, nil
}

// ClanInfo returns the clan header and its member ids.
func (c *Client) ClanInfo(ctx context.Context, region string, clanID int64) (*domain.ClanSnapshot, []int64, error) {
	u, err := c.endpointURL(region, "/clans/info/", url.Values{"clan_id": {strconv.FormatInt(clanID, 10)}})
	if err != nil {
		return nil, nil, err
	}

	env, err := fetch[clanInfoData](ctx, c, "clans_info", u, FetchOptions{ExpectStatusOK: true})
	if err != nil {
		return nil, nil, err
	}
	entry := env.Data[strconv.FormatInt(clanID, 10)]
	if entry == nil {
		return nil, nil, domain.NewError(domain.CodeClanNotFound, "", domain.A("clan_id", clanID), domain.A("region", region))
	}

	return &domain.ClanSnapshot{
		ClanID:       entry.ClanID,
		Name:         entry.Name,
		Tag:          entry.Tag,
		Region:       strings.ToLower(region),
		MembersCount: entry.MembersCount,
	}, entry.MembersIDs, nil
}

func (c *Client) ProlongateToken(ctx context.Context, region, accessToken string) (*Token, error) {
	base, err := c.regionURL(region)
	if err != nil {
		return nil, err
	}

	env, err := fetch[Token](ctx, c, "auth_prolongate", base+"/auth/prolongate/", FetchOptions{
		ExpectStatusOK: true,
		Form: map[string]string{
			"application_id": c.appID,
			"access_token":   accessToken,
		},
	})
	if err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// Logout invalidates the token upstream. The response payload is ignored.
func (c *Client) Logout(ctx context.Context, region, accessToken string) error {
	base, err := c.regionURL(region)
	if err != nil {
		return err
	}
	_, err = c.Fetch(ctx, "auth_logout", base+"/auth/logout/", FetchOptions{
		Form: map[string]string{
			"application_id": c.appID,
			"access_token":   accessToken,
		},
	})
	return err
}

// LoginURL asks upstream for the OpenID login page location.
func (c *Client) LoginURL(ctx context.Context, region, redirectURI string) (string, error) {
	params := url.Values{"nofollow": {"1"}}
	if redirectURI != "" {
		params.Set("redirect_uri", redirectURI)
	}
	u, err := c.endpointURL(region, "/auth/login/", params)
	if err != nil {
		return "", err
	}

	env, err := fetch[loginData](ctx, c, "auth_login", u, FetchOptions{ExpectStatusOK: true})
	if err != nil {
		return "", err
	}
	return env.Data.Location, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
