package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"blitz-tracker/internal/config"
	"blitz-tracker/internal/domain"
	"blitz-tracker/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, rps float64, h http.HandlerFunc) (*Client, *metrics.Metrics) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	m := metrics.New()
	cfg := &config.Config{
		WGAppID:           "app",
		APIBaseURL:        srv.URL,
		RatingURL:         srv.URL + "/rating/{region}/{account_id}",
		RequestsPerSecond: rps,
	}
	c := NewClient(cfg, m, zerolog.Nop())
	t.Cleanup(c.Close)
	return c, m
}

func TestFetch_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		code   domain.Code
		family error
	}{
		{http.StatusGatewayTimeout, domain.CodeServerUnavailable, domain.ErrServer},
		{http.StatusBadGateway, domain.CodeServer, domain.ErrServer},
		{http.StatusNotFound, domain.CodeRequest, domain.ErrRequest},
		{http.StatusFound, domain.CodeRedirect, domain.ErrServer},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			c, m := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			_, err := c.GetAccount(context.Background(), "eu", 1, "")
			require.Error(t, err)
			assert.Equal(t, tc.code, domain.CodeOf(err))
			assert.ErrorIs(t, err, tc.family)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalCalls.WithLabelValues("account_info", string(tc.code))))
		})
	}
}

func TestFetch_GatewayTimeoutIsServerUnavailable(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	})

	_, err := c.Fetch(context.Background(), "probe", c.baseURL+"/anything/", FetchOptions{})
	assert.ErrorIs(t, err, domain.ErrServerUnavailable)
	assert.NotErrorIs(t, err, domain.ErrRequest)
}

func TestFetch_PayloadErrors(t *testing.T) {
	cases := map[string]domain.Code{
		"INVALID_ACCESS_TOKEN":   domain.CodeInvalidAccessToken,
		"INVALID_IP_ADDRESS":     domain.CodeInvalidIPAddress,
		"REQUEST_LIMIT_EXCEEDED": domain.CodeRequestLimitExceeded,
		"APPLICATION_IS_BLOCKED": domain.CodeApplicationBlocked,
		"SOURCE_NOT_AVAILABLE":   domain.CodeSourceUnavailable,
		"INVALID_SEARCH":         domain.CodeRequest,
	}
	for message, code := range cases {
		t.Run(message, func(t *testing.T) {
			c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"status":"error","error":{"code":407,"message":%q,"field":"search","value":"x!"}}`, message)
			})

			_, err := c.GetAccount(context.Background(), "eu", 1, "token")
			require.Error(t, err)
			assert.Equal(t, code, domain.CodeOf(err))
			assert.ErrorIs(t, err, domain.ErrRequest)

			var de *domain.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "x!", de.Value)
		})
	}
}

func TestFindAccount(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account/list/", r.URL.Path)
		assert.Equal(t, "app", r.URL.Query().Get("application_id"))
		assert.Equal(t, "exact", r.URL.Query().Get("type"))
		fmt.Fprint(w, `{"status":"ok","meta":{"count":2},"data":[{"account_id":1,"nickname":"tanker_1"},{"account_id":2,"nickname":"Tanker"}]}`)
	})

	id, err := c.FindAccount(context.Background(), "eu", "tanker")
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestFindAccount_CountZero(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","meta":{"count":0},"data":[]}`)
	})

	_, err := c.FindAccount(context.Background(), "eu", "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.CodePlayerNotFound, domain.CodeOf(err))
	assert.Contains(t, err.Error(), "query=ghost")
}

func TestFindClan_CountZero(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","meta":{"count":0},"data":[]}`)
	})

	_, err := c.FindClan(context.Background(), "eu", "NONE")
	assert.Equal(t, domain.CodeClanNotFound, domain.CodeOf(err))
}

func TestAccountInfo_Batches(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		ids := strings.Split(r.URL.Query().Get("account_id"), ",")
		assert.LessOrEqual(t, len(ids), 100)
		assert.Equal(t, "statistics.rating", r.URL.Query().Get("extra"))

		entries := make([]string, 0, len(ids))
		for _, id := range ids {
			entries = append(entries, fmt.Sprintf(`"%s":{"account_id":%s,"nickname":"p%s","statistics":{"all":{"battles":10,"wins":5}}}`, id, id, id))
		}
		fmt.Fprintf(w, `{"status":"ok","meta":{"count":%d},"data":{%s}}`, len(ids), strings.Join(entries, ","))
	})

	ids := make([]int64, 150)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	got, err := c.AccountInfo(context.Background(), "eu", ids, "")
	require.NoError(t, err)
	assert.Len(t, got, 150)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(10), got[150].Statistics.All.Battles)
}

func TestGetAccount_Null(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","meta":{"count":1},"data":{"7":null}}`)
	})

	_, err := c.GetAccount(context.Background(), "eu", 7, "")
	assert.Equal(t, domain.CodePlayerNotFound, domain.CodeOf(err))
}

func TestGetAccount_DecodesSnapshot(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","meta":{"count":1},"data":{"7":{
			"account_id":7,"nickname":"tanker","created_at":100,"updated_at":200,"last_battle_time":150,
			"private":{"gold":10,"credits":20,"is_premium":true,"ban_info":null},
			"statistics":{"all":{"battles":120,"wins":65,"damage_dealt":125000,"max_frags_tank_id":5},
			              "rating":{"battles":8,"wins":5,"mm_rating":51.5,"current_season":42}}}}}`)
	})

	acc, err := c.GetAccount(context.Background(), "eu", 7, "")
	require.NoError(t, err)
	assert.Equal(t, "tanker", acc.Nickname)
	require.NotNil(t, acc.Private)
	assert.Equal(t, int64(20), acc.Private.Credits)
	assert.Equal(t, int64(65), acc.Statistics.All.Wins)
	require.NotNil(t, acc.Statistics.Rating)
	assert.Equal(t, int64(8), acc.Statistics.Rating.Battles)
	assert.Equal(t, 51.5, acc.Statistics.Rating.MMRating)
	assert.Nil(t, acc.Vehicles)
}

func TestVehicleStats(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		fmt.Fprint(w, `{"status":"ok","meta":{"count":1},"data":{"7":[
			{"tank_id":20,"all":{"battles":3},"last_battle_time":10,"in_garage":true},
			{"tank_id":10,"all":{"battles":5},"last_battle_time":20,"in_garage":null}]}}`)
	})

	vs, err := c.VehicleStats(context.Background(), "eu", 7, "tok")
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, int64(10), vs[0].VehicleID)
	assert.Nil(t, vs[0].InGarage)
	require.NotNil(t, vs[1].InGarage)
	assert.True(t, *vs[1].InGarage)
}

func TestVehicleStats_Null(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","meta":{"count":1},"data":{"7":null}}`)
	})

	_, err := c.VehicleStats(context.Background(), "eu", 7, "")
	assert.ErrorIs(t, err, domain.ErrNoUpdate)
	assert.Equal(t, domain.CodeNoUpdateTank, domain.CodeOf(err))
}

func TestAchievements(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","meta":{"count":1},"data":{"7":{"achievements":{"Pool":1,"Kolobanov":3}}}}`)
	})

	set, err := c.Achievements(context.Background(), "eu", 7)
	require.NoError(t, err)
	assert.Equal(t, []domain.MedalCount{{Name: "Kolobanov", Count: 3}, {Name: "Pool", Count: 1}}, set.Medals)
}

func TestRatingPosition(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rating/eu/7" {
			fmt.Fprint(w, `{"neighbors":[{"score":3400,"number":120}]}`)
			return
		}
		fmt.Fprint(w, `{"neighbors":[]}`)
	})

	pos, err := c.RatingPosition(context.Background(), "EU", 7)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingPosition{Score: 3400, Number: 120}, *pos)

	pos, err = c.RatingPosition(context.Background(), "eu", 8)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingPosition{}, *pos)
}

func TestClanInfo(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","meta":{"count":1},"data":{"55":{"clan_id":55,"name":"Iron","tag":"FE","members_count":2,"members_ids":[1,2]}}}`)
	})

	clan, members, err := c.ClanInfo(context.Background(), "eu", 55)
	require.NoError(t, err)
	assert.Equal(t, "FE", clan.Tag)
	assert.Equal(t, "eu", clan.Region)
	assert.Equal(t, []int64{1, 2}, members)
}

func TestProlongateToken_Posts(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "old", r.PostForm.Get("access_token"))
		fmt.Fprint(w, `{"status":"ok","data":{"access_token":"new","account_id":7,"expires_at":2000}}`)
	})

	tok, err := c.ProlongateToken(context.Background(), "eu", "old")
	require.NoError(t, err)
	assert.Equal(t, "new", tok.AccessToken)
	assert.Equal(t, int64(2000), tok.ExpiresAt)
}

func TestUnknownRegion(t *testing.T) {
	c, _ := newTestClient(t, 1000, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.FindAccount(context.Background(), "mars", "tanker")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestFetch_SharedRateLimit(t *testing.T) {
	c, m := newTestClient(t, 20, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"neighbors":[]}`)
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.RatingPosition(context.Background(), "eu", int64(i))
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ExternalCalls.WithLabelValues("rating_position", "ok")))
}

func TestFetch_CancelledWhileWaiting(t *testing.T) {
	c, _ := newTestClient(t, 0.1, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"neighbors":[]}`)
	})

	_, err := c.RatingPosition(context.Background(), "eu", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.RatingPosition(ctx, "eu", 2)
	assert.Error(t, err)
}
