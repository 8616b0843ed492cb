package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blitz-tracker/internal/api"
	"blitz-tracker/internal/cache"
	"blitz-tracker/internal/catalog"
	"blitz-tracker/internal/config"
	"blitz-tracker/internal/database"
	"blitz-tracker/internal/domain"
	"blitz-tracker/internal/metrics"
	"blitz-tracker/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeUpstream serves the subset of the game API the services use. State is
// mutable between calls so tests can simulate progress.
type fakeUpstream struct {
	mu           sync.Mutex
	accounts     map[int64]domain.AccountSnapshot
	vehicles     map[int64][]domain.VehicleSnapshot
	medals       map[int64]map[string]int64
	clans        map[int64]clanFixture
	validToken   string
	ratingDelay  time.Duration
	vehicleFails bool

	calls       sync.Map // path -> *atomic.Int64
	tokensSeen  []string
	prolongated []string
}

type clanFixture struct {
	name    string
	tag     string
	members []int64
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		accounts: make(map[int64]domain.AccountSnapshot),
		vehicles: make(map[int64][]domain.VehicleSnapshot),
		medals:   make(map[int64]map[string]int64),
		clans:    make(map[int64]clanFixture),
	}
}

func (f *fakeUpstream) setAccount(acc domain.AccountSnapshot, vehicles ...domain.VehicleSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[acc.AccountID] = acc
	if vehicles == nil {
		vehicles = []domain.VehicleSnapshot{}
	}
	f.vehicles[acc.AccountID] = vehicles
}

func (f *fakeUpstream) count(path string) int64 {
	v, ok := f.calls.Load(path)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

func writeEnvelope(w http.ResponseWriter, data any, count int) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"meta":   map[string]any{"count": count},
		"data":   data,
	})
}

func writeAPIError(w http.ResponseWriter, message string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "error",
		"error":  map[string]any{"code": 407, "message": message},
	})
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	v, _ := f.calls.LoadOrStore(r.URL.Path, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)

	if strings.HasPrefix(r.URL.Path, "/rating/") {
		f.serveRating(w, r)
		return
	}

	token := r.Form.Get("access_token")
	f.mu.Lock()
	if token != "" {
		f.tokensSeen = append(f.tokensSeen, token)
	}
	invalid := token != "" && token != f.validToken && r.URL.Path != "/auth/prolongate/"
	f.mu.Unlock()
	if invalid {
		writeAPIError(w, "INVALID_ACCESS_TOKEN")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/account/list/":
		search := r.Form.Get("search")
		var items []map[string]any
		for id, acc := range f.accounts {
			if strings.EqualFold(acc.Nickname, search) {
				items = append(items, map[string]any{"account_id": id, "nickname": acc.Nickname})
			}
		}
		writeEnvelope(w, items, len(items))

	case "/account/info/":
		data := map[string]any{}
		for _, raw := range strings.Split(r.Form.Get("account_id"), ",") {
			id, _ := strconv.ParseInt(raw, 10, 64)
			if acc, ok := f.accounts[id]; ok {
				data[raw] = acc
			} else {
				data[raw] = nil
			}
		}
		writeEnvelope(w, data, len(data))

	case "/tanks/stats/":
		if f.vehicleFails {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		raw := r.Form.Get("account_id")
		id, _ := strconv.ParseInt(raw, 10, 64)
		vs, ok := f.vehicles[id]
		if !ok {
			writeEnvelope(w, map[string]any{raw: nil}, 1)
			return
		}
		writeEnvelope(w, map[string]any{raw: vs}, 1)

	case "/account/achievements/":
		raw := r.Form.Get("account_id")
		id, _ := strconv.ParseInt(raw, 10, 64)
		medals := f.medals[id]
		if medals == nil {
			medals = map[string]int64{}
		}
		writeEnvelope(w, map[string]any{raw: map[string]any{"achievements": medals}}, 1)

	case "/clans/list/":
		search := r.Form.Get("search")
		var items []map[string]any
		for id, c := range f.clans {
			if strings.EqualFold(c.tag, search) {
				items = append(items, map[string]any{"clan_id": id, "tag": c.tag, "name": c.name})
			}
		}
		writeEnvelope(w, items, len(items))

	case "/clans/info/":
		raw := r.Form.Get("clan_id")
		id, _ := strconv.ParseInt(raw, 10, 64)
		c, ok := f.clans[id]
		if !ok {
			writeEnvelope(w, map[string]any{raw: nil}, 1)
			return
		}
		writeEnvelope(w, map[string]any{raw: map[string]any{
			"clan_id":       id,
			"name":          c.name,
			"tag":           c.tag,
			"members_count": len(c.members),
			"members_ids":   c.members,
		}}, 1)

	case "/auth/prolongate/":
		old := r.PostForm.Get("access_token")
		f.prolongated = append(f.prolongated, old)
		if old != f.validToken {
			writeAPIError(w, "INVALID_ACCESS_TOKEN")
			return
		}
		f.validToken = old + "-renewed"
		writeEnvelope(w, map[string]any{"access_token": f.validToken, "account_id": 1, "expires_at": 4102444800}, 1)

	case "/auth/logout/":
		writeEnvelope(w, nil, 0)

	case "/auth/login/":
		writeEnvelope(w, map[string]any{"location": "https://login.example/" + r.Form.Get("redirect_uri")}, 1)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeUpstream) serveRating(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	delay := f.ratingDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	_, _ = w.Write([]byte(`{"neighbors":[{"score":4100,"number":17}]}`))
}

type testEnv struct {
	upstream    *fakeUpstream
	cfg         *config.Config
	metrics     *metrics.Metrics
	cache       *cache.Memory
	playerRepo  *repository.PlayerRepository
	clanRepo    *repository.ClanRepository
	players     *PlayerService
	clans       *ClanService
	leaderboard *LeaderboardService
	refresh     *RefreshService
}

const testCatalog = `
vehicles:
  - tank_id: 1
    name: T-34
    tier: 5
    nation: ussr
    type: mediumTank
medals:
  - name: warrior
    image: https://img.example/warrior.png
`

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	up := newFakeUpstream()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		WGAppID:              "app",
		APIBaseURL:           srv.URL,
		RatingURL:            srv.URL + "/rating/{region}/{account_id}",
		RequestsPerSecond:    1000,
		CombinedFetchTimeout: 2 * time.Second,
		IDCacheTTL:           time.Hour,
		LeaderboardCacheTTL:  time.Minute,
		LeaderboardMaxLimit:  100,
		RefreshConcurrency:   2,
		RefreshWindow:        time.Hour,
	}

	logger := zerolog.Nop()
	m := metrics.New()
	client := api.NewClient(cfg, m, logger)
	t.Cleanup(client.Close)

	db, err := database.Open(filepath.Join(t.TempDir(), "blitz.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mem := cache.NewMemory(time.Minute, 1000)
	t.Cleanup(func() { mem.Close() })

	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)

	playerRepo := repository.NewPlayerRepository(db, logger)
	clanRepo := repository.NewClanRepository(db, logger)
	clans := NewClanService(client, clanRepo, mem, cfg, logger)
	refresh := NewRefreshService(client, playerRepo, clanRepo, clans, mem, cfg, m, logger)
	t.Cleanup(refresh.Close)

	return &testEnv{
		upstream:    up,
		cfg:         cfg,
		metrics:     m,
		cache:       mem,
		playerRepo:  playerRepo,
		clanRepo:    clanRepo,
		players:     NewPlayerService(client, playerRepo, mem, cat, cfg, logger),
		clans:       clans,
		leaderboard: NewLeaderboardService(playerRepo, clanRepo, mem, cfg, m, logger),
		refresh:     refresh,
	}
}

func snapshot(id int64, nickname string, battles, wins, damage int64) domain.AccountSnapshot {
	return domain.AccountSnapshot{
		AccountID: id,
		Nickname:  nickname,
		Statistics: domain.Statistics{
			All: &domain.BattleStats{Battles: battles, Wins: wins, DamageDealt: damage},
			Rating: &domain.RatingStats{
				BattleStats: domain.BattleStats{Battles: battles / 10, Wins: wins / 10},
				MMRating:    4000,
			},
		},
	}
}

func vehicle(id, battles, wins, damage int64) domain.VehicleSnapshot {
	return domain.VehicleSnapshot{VehicleID: id, All: domain.BattleStats{Battles: battles, Wins: wins, DamageDealt: damage}}
}
