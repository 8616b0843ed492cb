package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"blitz-tracker/internal/api"
	"blitz-tracker/internal/cache"
	"blitz-tracker/internal/config"
	"blitz-tracker/internal/constants"
	"blitz-tracker/internal/domain"
	"blitz-tracker/internal/metrics"
	"blitz-tracker/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type UpdateOptions struct {
	// Window rounds capture timestamps so one run shares a timestamp. Zero
	// uses the configured refresh window.
	Window time.Duration
	// ReplaceCurrent also moves the session baseline to the new capture.
	// Otherwise captures only extend the history.
	ReplaceCurrent bool
}

// RefreshService runs bulk captures of every tracked entity and keeps
// stored access tokens alive.
type RefreshService struct {
	client  *api.Client
	players *repository.PlayerRepository
	clans   *ClanService
	clanDB  *repository.ClanRepository
	cache   cache.Cache
	cfg     *config.Config
	metrics *metrics.Metrics
	now     func() time.Time
	logger  zerolog.Logger

	// background runs outlive the request that started them
	background context.Context
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

func NewRefreshService(
	client *api.Client,
	players *repository.PlayerRepository,
	clanDB *repository.ClanRepository,
	clans *ClanService,
	c cache.Cache,
	cfg *config.Config,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *RefreshService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RefreshService{
		client:     client,
		players:    players,
		clans:      clans,
		clanDB:     clanDB,
		cache:      c,
		cfg:        cfg,
		metrics:    m,
		now:        time.Now,
		logger:     logger,
		background: ctx,
		stop:       cancel,
	}
}

// progress is the mutable state of one run, published to the cache after
// every batch.
type progress struct {
	mu   sync.Mutex
	task domain.Task
}

func (p *progress) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.task.Failed++
	} else {
		p.task.Done++
	}
	if p.task.Total > 0 {
		p.task.Progress = domain.Ratio(int64(p.task.Done+p.task.Failed), int64(p.task.Total), 100)
	}
}

func (p *progress) snapshot() domain.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.task
}

func taskKey(id string) string {
	return "task:" + id
}

func (s *RefreshService) publish(ctx context.Context, task domain.Task) {
	if err := cache.SetJSON(ctx, s.cache, taskKey(task.ID), task, constants.TaskCacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to publish task progress")
	}
}

func (s *RefreshService) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return cache.GetJSON[domain.Task](ctx, s.cache, taskKey(id))
}

func (s *RefreshService) newTask(ctx context.Context) (*progress, error) {
	players, err := s.players.Count(ctx)
	if err != nil {
		return nil, err
	}
	clans, err := s.clanDB.Count(ctx)
	if err != nil {
		return nil, err
	}
	p := &progress{task: domain.Task{
		ID:        uuid.NewString(),
		Kind:      "update_all",
		Status:    domain.TaskRunning,
		Total:     players + clans,
		StartedAt: s.now().UTC(),
	}}
	s.publish(ctx, p.task)
	return p, nil
}

// StartUpdateAll registers a run and executes it in the background. The
// returned task can be polled through GetTask.
func (s *RefreshService) StartUpdateAll(ctx context.Context, opts UpdateOptions) (*domain.Task, error) {
	p, err := s.newTask(ctx)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.run(s.background, p, opts); err != nil {
			s.logger.Error().Err(err).Str("task_id", p.task.ID).Msg("background update failed")
		}
	}()

	task := p.snapshot()
	return &task, nil
}

// UpdateAll captures every tracked player and clan. Failures of single
// entities are logged and counted, they never abort the run.
func (s *RefreshService) UpdateAll(ctx context.Context, opts UpdateOptions) (*domain.Task, error) {
	p, err := s.newTask(ctx)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, p, opts)
}

func (s *RefreshService) run(ctx context.Context, p *progress, opts UpdateOptions) (*domain.Task, error) {
	window := opts.Window
	if window <= 0 {
		window = s.cfg.RefreshWindow
	}
	ts := domain.RoundTimestamp(s.now().Unix(), window)
	s.metrics.RefreshRuns.WithLabelValues("update_all").Inc()

	log := s.logger.With().Str("task_id", p.task.ID).Int64("timestamp", ts).Logger()
	log.Info().Int("total", p.task.Total).Bool("replace_current", opts.ReplaceCurrent).Msg("update started")

	err := s.players.ForEachBatch(ctx, constants.AccountInfoBatchSize, func(batch []domain.TrackedPlayer) error {
		s.updatePlayers(ctx, batch, ts, opts, p)
		s.publish(ctx, p.snapshot())
		return ctx.Err()
	})
	if err == nil {
		err = s.clanDB.ForEachBatch(ctx, constants.DBBatchSize, func(batch []domain.TrackedClan) error {
			s.updateClans(ctx, batch, ts, opts, p)
			s.publish(ctx, p.snapshot())
			return ctx.Err()
		})
	}

	p.mu.Lock()
	ended := s.now().UTC()
	p.task.EndedAt = &ended
	p.task.Status = domain.TaskFinished
	if err != nil {
		p.task.Status = domain.TaskFailed
	}
	p.mu.Unlock()

	task := p.snapshot()
	// the run context may be gone by now
	s.publish(context.WithoutCancel(ctx), task)

	log.Info().
		Int("done", task.Done).
		Int("failed", task.Failed).
		Str("status", string(task.Status)).
		Msg("update finished")

	if err != nil {
		return &task, fmt.Errorf("failed to update tracked entities: %w", err)
	}
	return &task, nil
}

// updatePlayers fetches general statistics of the batch in one upstream call
// per region, then vehicles and medals per player.
func (s *RefreshService) updatePlayers(ctx context.Context, batch []domain.TrackedPlayer, ts int64, opts UpdateOptions, p *progress) {
	byRegion := make(map[string][]domain.TrackedPlayer)
	for _, player := range batch {
		byRegion[player.Region] = append(byRegion[player.Region], player)
	}

	for region, players := range byRegion {
		ids := make([]int64, len(players))
		for i, player := range players {
			ids[i] = player.Account.AccountID
		}

		general, err := s.client.AccountInfo(ctx, region, ids, "")
		if err != nil {
			s.logger.Error().Err(err).Str("region", region).Int("count", len(ids)).Msg("failed to fetch batch")
			for range players {
				s.recordEntity("player", err, p)
			}
			continue
		}

		g := new(errgroup.Group)
		g.SetLimit(max(1, s.cfg.RefreshConcurrency))
		for _, player := range players {
			player := player
			acc, ok := general[player.Account.AccountID]
			g.Go(func() error {
				var err error
				if !ok {
					err = domain.NewError(domain.CodeNoUpdatePlayer, "", domain.A("account_id", player.Account.AccountID), domain.A("region", region))
				} else {
					err = s.updatePlayer(ctx, region, acc, ts, opts)
				}
				if err != nil {
					s.logger.Warn().Err(err).Int64("account_id", player.Account.AccountID).Msg("failed to update player")
				}
				s.recordEntity("player", err, p)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (s *RefreshService) updatePlayer(ctx context.Context, region string, general domain.AccountSnapshot, ts int64, opts UpdateOptions) error {
	accountID := general.AccountID

	vehicles, err := s.client.VehicleStats(ctx, region, accountID, "")
	if err != nil {
		return err
	}
	medals, err := s.client.Achievements(ctx, region, accountID)
	if err != nil {
		s.logger.Debug().Err(err).Int64("account_id", accountID).Msg("medals unavailable")
	}

	acc := general.WithVehicles(vehicles).WithTimestamp(ts)
	if !opts.ReplaceCurrent {
		return s.players.AppendHistory(ctx, region, acc)
	}
	return s.players.Save(ctx, domain.TrackedPlayer{
		Region:    region,
		Account:   acc,
		Medals:    medals,
		UpdatedAt: s.now().UTC(),
	})
}

func (s *RefreshService) updateClans(ctx context.Context, batch []domain.TrackedClan, ts int64, opts UpdateOptions, p *progress) {
	g := new(errgroup.Group)
	g.SetLimit(max(1, s.cfg.RefreshConcurrency))
	for _, tracked := range batch {
		tracked := tracked
		g.Go(func() error {
			err := s.updateClan(ctx, tracked, ts, opts)
			if err != nil {
				s.logger.Warn().Err(err).Int64("clan_id", tracked.Clan.ClanID).Msg("failed to update clan")
			}
			s.recordEntity("clan", err, p)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *RefreshService) updateClan(ctx context.Context, tracked domain.TrackedClan, ts int64, opts UpdateOptions) error {
	clan, err := s.clans.FetchClan(ctx, tracked.Region, tracked.Clan.ClanID)
	if err != nil {
		return err
	}
	clan.Timestamp = ts

	if !opts.ReplaceCurrent {
		return s.clanDB.AppendHistory(ctx, tracked.Region, *clan)
	}
	return s.clanDB.Save(ctx, domain.TrackedClan{Region: tracked.Region, Clan: *clan, UpdatedAt: s.now().UTC()})
}

func (s *RefreshService) recordEntity(kind string, err error, p *progress) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.RefreshedEntities.WithLabelValues(kind, outcome).Inc()
	p.record(err)
}

// RenewTokens prolongs stored access tokens that expire soon. Tokens the
// upstream rejects are forgotten. It returns the number of renewed tokens.
func (s *RefreshService) RenewTokens(ctx context.Context) (int, error) {
	s.metrics.RefreshRuns.WithLabelValues("renew_tokens").Inc()
	horizon := s.now().Add(constants.TokenRenewAhead).Unix()

	var renewed int
	err := s.players.ForEachBatch(ctx, constants.DBBatchSize, func(batch []domain.TrackedPlayer) error {
		for _, player := range batch {
			if player.AccessToken == "" || (player.TokenExpiresAt != 0 && player.TokenExpiresAt > horizon) {
				continue
			}
			accountID := player.Account.AccountID

			token, err := s.client.ProlongateToken(ctx, player.Region, player.AccessToken)
			switch {
			case errors.Is(err, domain.ErrInvalidAccessToken):
				s.logger.Warn().Int64("account_id", accountID).Msg("stored token rejected, clearing it")
				err = s.players.SetAccessToken(ctx, accountID, "", 0)
			case err == nil:
				err = s.players.SetAccessToken(ctx, accountID, token.AccessToken, token.ExpiresAt)
				if err == nil {
					renewed++
				}
			}

			outcome := "ok"
			if err != nil {
				outcome = "error"
				s.logger.Error().Err(err).Int64("account_id", accountID).Str("region", strings.ToLower(player.Region)).Msg("failed to renew token")
			}
			s.metrics.RefreshedEntities.WithLabelValues("token", outcome).Inc()
		}
		return ctx.Err()
	})

	s.logger.Info().Int("renewed", renewed).Msg("token renewal finished")
	return renewed, err
}

// Close stops background runs and waits for them to return.
func (s *RefreshService) Close() {
	s.stop()
	s.wg.Wait()
}
