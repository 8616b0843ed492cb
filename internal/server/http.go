package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"blitz-tracker/internal/api"
	"blitz-tracker/internal/cache"
	"blitz-tracker/internal/domain"
	"blitz-tracker/internal/leaderboard"
	"blitz-tracker/internal/metrics"
	"blitz-tracker/internal/middleware"
	"blitz-tracker/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type PlayerTracker interface {
	Track(ctx context.Context, ref domain.PlayerRef) (*domain.TrackedPlayer, error)
	Session(ctx context.Context, ref domain.PlayerRef) (*domain.PlayerSession, error)
	Reset(ctx context.Context, ref domain.PlayerRef) (*domain.TrackedPlayer, error)
	Period(ctx context.Context, ref domain.PlayerRef, start, end int64) (*domain.PlayerSession, error)
	Search(ctx context.Context, query string) ([]domain.Suggestion, error)
	Authorize(ctx context.Context, region string, token api.Token) (*domain.TrackedPlayer, error)
	Logout(ctx context.Context, ref domain.PlayerRef) error
	LoginURL(ctx context.Context, region string) (string, error)
}

type ClanTracker interface {
	Track(ctx context.Context, ref domain.ClanRef) (*domain.TrackedClan, error)
	Session(ctx context.Context, ref domain.ClanRef) (*domain.ClanSession, error)
	Reset(ctx context.Context, ref domain.ClanRef) (*domain.TrackedClan, error)
	Search(ctx context.Context, query string) ([]domain.Suggestion, error)
}

type Leaderboards interface {
	Players(ctx context.Context, req leaderboard.Request) ([]domain.PlayerTop, error)
	Clans(ctx context.Context, req leaderboard.Request) ([]domain.ClanTop, error)
}

type Refresher interface {
	StartUpdateAll(ctx context.Context, opts service.UpdateOptions) (*domain.Task, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
}

// Server is the JSON surface over the tracker services.
type Server struct {
	players      PlayerTracker
	clans        ClanTracker
	leaderboards Leaderboards
	refresh      Refresher
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

func New(players PlayerTracker, clans ClanTracker, leaderboards Leaderboards, refresh Refresher, m *metrics.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		players:      players,
		clans:        clans,
		leaderboards: leaderboards,
		refresh:      refresh,
		metrics:      m,
		logger:       logger,
	}
}

type APIResponse struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID"},
	}).Handler)

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/players", func(r chi.Router) {
			r.Post("/track", s.trackPlayer)
			r.Post("/reset", s.resetPlayer)
			r.Get("/session", s.playerSession)
			r.Get("/period", s.playerPeriod)
			r.Get("/search", s.searchPlayers)
			r.Get("/top", s.topPlayers)
		})
		r.Route("/clans", func(r chi.Router) {
			r.Post("/track", s.trackClan)
			r.Post("/reset", s.resetClan)
			r.Get("/session", s.clanSession)
			r.Get("/search", s.searchClans)
			r.Get("/top", s.topClans)
		})
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/update", s.startUpdate)
			r.Get("/{taskID}", s.getTask)
		})
		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", s.login)
			r.Get("/callback", s.loginCallback)
			r.Post("/logout", s.logout)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"status": "healthy"}})
}

// playerRequest addresses a player in POST bodies and query strings.
type playerRequest struct {
	AccountID   int64  `json:"account_id"`
	Name        string `json:"name"`
	Region      string `json:"region"`
	AccessToken string `json:"access_token"`
}

func (p playerRequest) ref() domain.PlayerRef {
	return domain.PlayerRef{
		AccountID:   p.AccountID,
		Name:        strings.TrimSpace(p.Name),
		Region:      strings.ToLower(strings.TrimSpace(p.Region)),
		AccessToken: p.AccessToken,
	}
}

type clanRequest struct {
	ClanID int64  `json:"clan_id"`
	Tag    string `json:"tag"`
	Region string `json:"region"`
}

func (c clanRequest) ref() domain.ClanRef {
	return domain.ClanRef{
		ClanID: c.ClanID,
		Tag:    strings.TrimSpace(c.Tag),
		Region: strings.ToLower(strings.TrimSpace(c.Region)),
	}
}

// trackedPlayer is the public view of a stored player. The access token
// never leaves the server.
type trackedPlayer struct {
	AccountID  int64  `json:"account_id"`
	Nickname   string `json:"nickname"`
	Region     string `json:"region"`
	Timestamp  int64  `json:"timestamp"`
	Authorized bool   `json:"authorized"`
}

func newTrackedPlayer(p *domain.TrackedPlayer) trackedPlayer {
	return trackedPlayer{
		AccountID:  p.Account.AccountID,
		Nickname:   p.Account.Nickname,
		Region:     p.Region,
		Timestamp:  p.Account.Timestamp,
		Authorized: p.AccessToken != "",
	}
}

type trackedClan struct {
	ClanID       int64  `json:"clan_id"`
	Name         string `json:"name"`
	Tag          string `json:"tag"`
	Region       string `json:"region"`
	MembersCount int64  `json:"members_count"`
	Timestamp    int64  `json:"timestamp"`
}

func newTrackedClan(c *domain.TrackedClan) trackedClan {
	return trackedClan{
		ClanID:       c.Clan.ClanID,
		Name:         c.Clan.Name,
		Tag:          c.Clan.Tag,
		Region:       c.Region,
		MembersCount: c.Clan.MembersCount,
		Timestamp:    c.Clan.Timestamp,
	}
}

func (s *Server) trackPlayer(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !s.decode(w, r, &req) {
		return
	}
	tracked, err := s.players.Track(r.Context(), req.ref())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: newTrackedPlayer(tracked)})
}

func (s *Server) resetPlayer(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !s.decode(w, r, &req) {
		return
	}
	tracked, err := s.players.Reset(r.Context(), req.ref())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: newTrackedPlayer(tracked)})
}

func (s *Server) playerSession(w http.ResponseWriter, r *http.Request) {
	req, err := playerFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.players.Session(r.Context(), req.ref())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: session})
}

func (s *Server) playerPeriod(w http.ResponseWriter, r *http.Request) {
	req, err := playerFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	start, err := queryInt(q.Get("start"), "start", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	end, err := queryInt(q.Get("end"), "end", time.Now().Unix())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	session, err := s.players.Period(r.Context(), req.ref(), start, end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: session})
}

func (s *Server) searchPlayers(w http.ResponseWriter, r *http.Request) {
	hits, err := s.players.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: hits})
}

func (s *Server) topPlayers(w http.ResponseWriter, r *http.Request) {
	req, err := leaderboardFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	top, err := s.leaderboards.Players(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: top})
}

func (s *Server) trackClan(w http.ResponseWriter, r *http.Request) {
	var req clanRequest
	if !s.decode(w, r, &req) {
		return
	}
	tracked, err := s.clans.Track(r.Context(), req.ref())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: newTrackedClan(tracked)})
}

func (s *Server) resetClan(w http.ResponseWriter, r *http.Request) {
	var req clanRequest
	if !s.decode(w, r, &req) {
		return
	}
	tracked, err := s.clans.Reset(r.Context(), req.ref())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: newTrackedClan(tracked)})
}

func (s *Server) clanSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := queryInt(q.Get("clan_id"), "clan_id", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req := clanRequest{ClanID: id, Tag: q.Get("tag"), Region: q.Get("region")}

	session, err := s.clans.Session(r.Context(), req.ref())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: session})
}

func (s *Server) searchClans(w http.ResponseWriter, r *http.Request) {
	hits, err := s.clans.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: hits})
}

func (s *Server) topClans(w http.ResponseWriter, r *http.Request) {
	req, err := leaderboardFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	top, err := s.leaderboards.Clans(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: top})
}

type updateRequest struct {
	// WindowHours rounds capture timestamps, zero uses the server default.
	WindowHours    int  `json:"window_hours"`
	ReplaceCurrent bool `json:"replace_current"`
}

func (s *Server) startUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	if req.WindowHours < 0 {
		s.writeError(w, r, domain.NewError(domain.CodeInvalidArgument, "window must not be negative", domain.A("window_hours", req.WindowHours)))
		return
	}

	task, err := s.refresh.StartUpdateAll(r.Context(), service.UpdateOptions{
		Window:         time.Duration(req.WindowHours) * time.Hour,
		ReplaceCurrent: req.ReplaceCurrent,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, APIResponse{Success: true, Data: task})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.refresh.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: task})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	region := strings.ToLower(r.URL.Query().Get("region"))
	location, err := s.players.LoginURL(r.Context(), region)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, location, http.StatusFound)
}

// loginCallback receives the upstream OpenID redirect.
func (s *Server) loginCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("status") != "ok" {
		s.writeError(w, r, domain.NewError(domain.CodeInvalidAccessToken, "login was not completed",
			domain.A("status", q.Get("status")), domain.A("message", q.Get("message"))))
		return
	}

	accountID, err := queryInt(q.Get("account_id"), "account_id", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	expiresAt, err := queryInt(q.Get("expires_at"), "expires_at", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token := api.Token{AccessToken: q.Get("access_token"), AccountID: accountID, ExpiresAt: expiresAt}
	if token.AccessToken == "" || token.AccountID == 0 {
		s.writeError(w, r, domain.NewError(domain.CodeInvalidArgument, "access_token and account_id are required"))
		return
	}

	tracked, err := s.players.Authorize(r.Context(), strings.ToLower(q.Get("region")), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: newTrackedPlayer(tracked)})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.players.Logout(r.Context(), req.ref()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"status": "logged_out"}})
}

func playerFromQuery(r *http.Request) (playerRequest, error) {
	q := r.URL.Query()
	id, err := queryInt(q.Get("account_id"), "account_id", 0)
	if err != nil {
		return playerRequest{}, err
	}
	return playerRequest{
		AccountID:   id,
		Name:        q.Get("name"),
		Region:      q.Get("region"),
		AccessToken: q.Get("access_token"),
	}, nil
}

func leaderboardFromQuery(r *http.Request) (leaderboard.Request, error) {
	q := r.URL.Query()

	var param leaderboard.Parameter
	if raw := q.Get("parameter"); raw != "" {
		p, err := leaderboard.ParseParameter(raw)
		if err != nil {
			return leaderboard.Request{}, err
		}
		param = p
	} else {
		param = leaderboard.ParamBattles
	}

	start, err := queryInt(q.Get("start"), "start", 0)
	if err != nil {
		return leaderboard.Request{}, err
	}
	end, err := queryInt(q.Get("end"), "end", time.Now().Unix())
	if err != nil {
		return leaderboard.Request{}, err
	}
	limit, err := queryInt(q.Get("limit"), "limit", 0)
	if err != nil {
		return leaderboard.Request{}, err
	}

	return leaderboard.Request{
		Parameter: param,
		Start:     start,
		End:       end,
		Limit:     int(limit),
		Region:    q.Get("region"),
	}, nil
}

func queryInt(raw, name string, fallback int64) (int64, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, domain.NewError(domain.CodeInvalidArgument, "invalid integer parameter", domain.A(name, raw))
	}
	return v, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, r, domain.NewError(domain.CodeInvalidArgument, "invalid request body", domain.A("error", err.Error())))
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cache.ErrMiss):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidAccessToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrServerUnavailable):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch domain.CodeOf(err) {
	case domain.CodePeriodNotTracked:
		return http.StatusBadRequest
	case domain.CodePlayerNotTracked, domain.CodeClanNotTracked:
		return http.StatusNotFound
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := zerolog.Ctx(r.Context())

	body := &errorBody{Code: domain.CodeOf(err), Message: err.Error()}
	if errors.Is(err, cache.ErrMiss) {
		body = &errorBody{Code: "task_not_found", Message: "task not found"}
	}
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		body.Message = "internal error"
	} else {
		logger.Debug().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request rejected")
	}

	writeJSON(w, status, APIResponse{Success: false, Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
