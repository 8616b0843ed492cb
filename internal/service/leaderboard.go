package service

import (
	"context"
	"errors"
	"strings"

	"blitz-tracker/internal/cache"
	"blitz-tracker/internal/config"
	"blitz-tracker/internal/constants"
	"blitz-tracker/internal/domain"
	"blitz-tracker/internal/leaderboard"
	"blitz-tracker/internal/metrics"
	"blitz-tracker/internal/repository"

	"github.com/rs/zerolog"
)

// LeaderboardService answers tops from stored history only; it never calls
// the upstream API.
type LeaderboardService struct {
	players *repository.PlayerRepository
	clans   *repository.ClanRepository
	cache   cache.Cache
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewLeaderboardService(
	players *repository.PlayerRepository,
	clans *repository.ClanRepository,
	c cache.Cache,
	cfg *config.Config,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		players: players,
		clans:   clans,
		cache:   c,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

func (s *LeaderboardService) normalize(req leaderboard.Request) (leaderboard.Request, error) {
	req.Region = strings.ToLower(req.Region)
	if req.Limit == 0 {
		req.Limit = constants.LeaderboardDefaultLimit
	}
	return req, req.Validate(s.cfg.LeaderboardMaxLimit)
}

func (s *LeaderboardService) Players(ctx context.Context, req leaderboard.Request) ([]domain.PlayerTop, error) {
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	q, err := leaderboard.PlayerPipeline(req)
	if err != nil {
		return nil, err
	}

	return memoize(ctx, s, cache.Key("top:players", req), func(ctx context.Context) ([]domain.PlayerTop, error) {
		return s.players.Top(ctx, q)
	})
}

func (s *LeaderboardService) Clans(ctx context.Context, req leaderboard.Request) ([]domain.ClanTop, error) {
	req.Parameter = ""
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	return memoize(ctx, s, cache.Key("top:clans", req), func(ctx context.Context) ([]domain.ClanTop, error) {
		windows, err := s.clans.Windows(ctx, leaderboard.ClanWindowPipeline(req))
		if err != nil {
			return nil, err
		}
		return leaderboard.RankClans(windows, req.Limit), nil
	})
}

// memoize serves a leaderboard from the cache or computes and stores it.
// Cache failures degrade to computing the result.
func memoize[T any](ctx context.Context, s *LeaderboardService, key string, compute func(context.Context) ([]T, error)) ([]T, error) {
	cached, err := cache.GetJSON[[]T](ctx, s.cache, key)
	if err == nil {
		s.metrics.LeaderboardCacheHits.WithLabelValues("hit").Inc()
		return *cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to read leaderboard cache")
	}
	s.metrics.LeaderboardCacheHits.WithLabelValues("miss").Inc()

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	result, err := compute(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to compute leaderboard")
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, result, s.cfg.LeaderboardCacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to write leaderboard cache")
	}
	return result, nil
}
