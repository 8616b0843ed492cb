package fx

import (
	"context"
	"database/sql"

	"blitz-tracker/internal/api"
	"blitz-tracker/internal/cache"
	"blitz-tracker/internal/catalog"
	"blitz-tracker/internal/config"
	"blitz-tracker/internal/database"
	"blitz-tracker/internal/logger"
	"blitz-tracker/internal/metrics"
	"blitz-tracker/internal/repository"
	"blitz-tracker/internal/scheduler"
	"blitz-tracker/internal/server"
	"blitz-tracker/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideServer(
	players *service.PlayerService,
	clans *service.ClanService,
	leaderboards *service.LeaderboardService,
	refresh *service.RefreshService,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *server.Server {
	return server.New(players, clans, leaderboards, refresh, m, logger)
}

// RegisterLifecycle starts the scheduler. On shutdown it waits for background
// refresh runs before closing the client pool, the cache and the database.
func RegisterLifecycle(
	lc fx.Lifecycle,
	sched *scheduler.Scheduler,
	refresh *service.RefreshService,
	client *api.Client,
	c cache.Cache,
	db *sql.DB,
	logger zerolog.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sched.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			if err := sched.Stop(); err != nil {
				logger.Warn().Err(err).Msg("error stopping scheduler")
			}
			refresh.Close()
			client.Close()
			if err := c.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing cache")
			}
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			return nil
		},
	})
}

var Module = fx.Options(
	logger.Module,
	config.Module,
	fx.Provide(database.New),
	fx.Provide(metrics.New),
	fx.Provide(cache.New),
	fx.Provide(catalog.New),
	// repos
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewClanRepository),
	// api client
	fx.Provide(api.NewClient),
	// svc
	fx.Provide(service.NewPlayerService),
	fx.Provide(service.NewClanService),
	fx.Provide(service.NewLeaderboardService),
	fx.Provide(service.NewRefreshService),
	fx.Provide(scheduler.NewTracker),
	// server
	fx.Provide(ProvideServer),
	fx.Invoke(RegisterLifecycle),
)
