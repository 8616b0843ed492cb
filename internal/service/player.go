package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"blitz-tracker/internal/api"
	"blitz-tracker/internal/cache"
	"blitz-tracker/internal/catalog"
	"blitz-tracker/internal/config"
	"blitz-tracker/internal/constants"
	"blitz-tracker/internal/domain"
	"blitz-tracker/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DetailOptions selects the optional parts of a combined fetch. General
// statistics are always fetched.
type DetailOptions struct {
	Vehicles bool
	Rating   bool
	Medals   bool
}

var FullDetails = DetailOptions{Vehicles: true, Rating: true, Medals: true}

// Details is one combined capture of a player. Partial is set when an
// optional part failed or did not finish before the deadline.
type Details struct {
	Account domain.AccountSnapshot
	Medals  *domain.MedalSet
	Partial bool
	// TokenRejected reports that the capture was taken without the access
	// token after the upstream refused it.
	TokenRejected bool
}

type PlayerService struct {
	client  *api.Client
	repo    *repository.PlayerRepository
	cache   cache.Cache
	catalog *catalog.Catalog
	cfg     *config.Config
	lookups singleflight.Group
	now     func() time.Time
	logger  zerolog.Logger
}

func NewPlayerService(
	client *api.Client,
	repo *repository.PlayerRepository,
	c cache.Cache,
	cat *catalog.Catalog,
	cfg *config.Config,
	logger zerolog.Logger,
) *PlayerService {
	return &PlayerService{
		client:  client,
		repo:    repo,
		cache:   c,
		catalog: cat,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// ResolveID turns a player reference into an account id. Nickname lookups
// are cached and concurrent lookups of the same name share one upstream call.
func (s *PlayerService) ResolveID(ctx context.Context, ref domain.PlayerRef) (int64, error) {
	switch {
	case ref.AccountID != 0:
		return ref.AccountID, nil

	case ref.Name != "":
		key := fmt.Sprintf("account_id:%s:%s", strings.ToLower(ref.Region), strings.ToLower(ref.Name))
		raw, err := s.cache.Get(ctx, key)
		if err == nil {
			if id, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
				return id, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to read id cache")
		}

		v, err, shared := s.lookups.Do(key, func() (any, error) {
			// shared by every waiter, so not bound to the first caller
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ExternalAPITimeout)
			defer cancel()
			id, err := s.client.FindAccount(ctx, ref.Region, ref.Name)
			if err != nil {
				return int64(0), err
			}
			if err := s.cache.Set(ctx, key, []byte(strconv.FormatInt(id, 10)), s.cfg.IDCacheTTL); err != nil {
				s.logger.Warn().Err(err).Str("key", key).Msg("failed to write id cache")
			}
			return id, nil
		})
		if err != nil {
			return 0, err
		}
		s.logger.Debug().Str("name", ref.Name).Str("region", ref.Region).Bool("shared", shared).Msg("resolved player id")
		return v.(int64), nil

	case ref.AccessToken != "":
		p, err := s.repo.GetByToken(ctx, ref.AccessToken)
		if err != nil {
			return 0, err
		}
		return p.Account.AccountID, nil
	}
	return 0, domain.NewError(domain.CodeInvalidArgument, "player reference is empty")
}

// FetchDetails performs a combined fetch. A rejected access token is cleared
// from the store and the fetch is retried once without it.
func (s *PlayerService) FetchDetails(ctx context.Context, region string, accountID int64, accessToken string, opts DetailOptions) (*Details, error) {
	d, err := s.fetchDetails(ctx, region, accountID, accessToken, opts)
	if accessToken == "" || !errors.Is(err, domain.ErrInvalidAccessToken) {
		return d, err
	}

	s.logger.Warn().Int64("account_id", accountID).Str("region", region).Msg("access token rejected, retrying without it")
	if err := s.repo.SetAccessToken(ctx, accountID, "", 0); err != nil && !errors.Is(err, domain.ErrNotFoundInLocalStore) {
		s.logger.Error().Err(err).Int64("account_id", accountID).Msg("failed to clear access token")
	}
	d, err = s.fetchDetails(ctx, region, accountID, "", opts)
	if err != nil {
		return nil, err
	}
	d.TokenRejected = true
	return d, nil
}

func (s *PlayerService) fetchDetails(ctx context.Context, region string, accountID int64, accessToken string, opts DetailOptions) (*Details, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CombinedFetchTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	var (
		account        *domain.AccountSnapshot
		vehicles       []domain.VehicleSnapshot
		position       *domain.RatingPosition
		medals         *domain.MedalSet
		vehiclesFailed bool
		ratingFailed   bool
		medalsFailed   bool
	)

	g.Go(func() error {
		acc, err := s.client.GetAccount(gctx, region, accountID, accessToken)
		if err != nil {
			return err
		}
		account = acc
		return nil
	})
	if opts.Vehicles {
		g.Go(func() error {
			vs, err := s.client.VehicleStats(gctx, region, accountID, accessToken)
			if err != nil {
				s.logSubFetch(err, "vehicles", accountID)
				vehiclesFailed = true
				return nil
			}
			vehicles = vs
			return nil
		})
	}
	if opts.Rating {
		g.Go(func() error {
			pos, err := s.client.RatingPosition(gctx, region, accountID)
			if err != nil {
				s.logSubFetch(err, "rating_position", accountID)
				ratingFailed = true
				return nil
			}
			position = pos
			return nil
		})
	}
	if opts.Medals {
		g.Go(func() error {
			m, err := s.client.Achievements(gctx, region, accountID)
			if err != nil {
				s.logSubFetch(err, "medals", accountID)
				medalsFailed = true
				return nil
			}
			medals = m
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch player %d: %w", accountID, err)
	}

	acc := account.
		WithRatingPosition(position).
		WithVehicles(vehicles).
		WithTimestamp(s.now().Unix())

	return &Details{
		Account: acc,
		Medals:  medals,
		Partial: vehiclesFailed || ratingFailed || medalsFailed,
	}, nil
}

func (s *PlayerService) logSubFetch(err error, part string, accountID int64) {
	s.logger.Warn().Err(err).Str("part", part).Int64("account_id", accountID).Msg("sub-fetch failed, continuing without it")
}

// capture fetches a full capture suitable for persistence.
func (s *PlayerService) capture(ctx context.Context, region string, accountID int64, accessToken string) (*Details, error) {
	d, err := s.FetchDetails(ctx, region, accountID, accessToken, FullDetails)
	if err != nil {
		return nil, err
	}
	if d.Account.Vehicles == nil {
		return nil, domain.NewError(domain.CodeNoUpdateTank, "", domain.A("account_id", accountID), domain.A("region", region))
	}
	return d, nil
}

// Track captures the player and stores the capture as the session baseline.
func (s *PlayerService) Track(ctx context.Context, ref domain.PlayerRef) (*domain.TrackedPlayer, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	accountID, err := s.ResolveID(ctx, ref)
	if err != nil {
		return nil, err
	}

	token := ref.AccessToken
	var expiresAt int64
	if stored, err := s.repo.Get(ctx, accountID); err == nil && token == "" {
		token, expiresAt = stored.AccessToken, stored.TokenExpiresAt
	}

	return s.persist(ctx, ref.Region, accountID, token, expiresAt)
}

func (s *PlayerService) persist(ctx context.Context, region string, accountID int64, token string, expiresAt int64) (*domain.TrackedPlayer, error) {
	d, err := s.capture(ctx, region, accountID, token)
	if err != nil {
		s.logger.Error().Err(err).Int64("account_id", accountID).Str("region", region).Msg("failed to capture player")
		return nil, err
	}

	if d.TokenRejected {
		token, expiresAt = "", 0
	}

	p := domain.TrackedPlayer{
		Region:         strings.ToLower(region),
		AccessToken:    token,
		TokenExpiresAt: expiresAt,
		Account:        d.Account,
		Medals:         d.Medals,
		UpdatedAt:      s.now().UTC(),
	}
	if err := s.repo.Save(ctx, p); err != nil {
		s.logger.Error().Err(err).Int64("account_id", accountID).Msg("failed to save player")
		return nil, fmt.Errorf("failed to save player: %w", err)
	}

	s.logger.Info().Int64("account_id", accountID).Str("nickname", p.Account.Nickname).Str("region", p.Region).Msg("player captured")
	return &p, nil
}

// find returns the stored player, resolving the id upstream when the
// reference does not match directly (e.g. after a nickname change).
func (s *PlayerService) find(ctx context.Context, ref domain.PlayerRef) (*domain.TrackedPlayer, error) {
	stored, err := s.repo.Find(ctx, ref)
	if err == nil || !errors.Is(err, domain.ErrNotFoundInLocalStore) || ref.AccountID != 0 || ref.Name == "" {
		return stored, err
	}

	accountID, rerr := s.ResolveID(ctx, ref)
	if rerr != nil {
		return nil, rerr
	}
	return s.repo.Get(ctx, accountID)
}

// Session returns the progress of a tracked player since the baseline.
func (s *PlayerService) Session(ctx context.Context, ref domain.PlayerRef) (*domain.PlayerSession, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	stored, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	accountID := stored.Account.AccountID

	token := ref.AccessToken
	if token == "" {
		token = stored.AccessToken
	}
	d, err := s.FetchDetails(ctx, stored.Region, accountID, token, FullDetails)
	if err != nil {
		return nil, err
	}

	delta, err := domain.SubtractAccount(d.Account, stored.Account)
	if err != nil {
		return nil, fmt.Errorf("failed to compute session: %w", err)
	}

	var medals *domain.MedalSet
	if d.Medals != nil && stored.Medals != nil {
		if medals, err = domain.SubtractMedals(*d.Medals, *stored.Medals); err != nil {
			return nil, fmt.Errorf("failed to compute medal session: %w", err)
		}
	}

	s.logger.Debug().Int64("account_id", accountID).Bool("progress", delta != nil).Bool("partial", d.Partial).Msg("session computed")
	return s.newSession(stored.Region, d.Account, stored.Account, delta, medals, d.Partial), nil
}

// Reset replaces the baseline of a tracked player with a fresh capture.
func (s *PlayerService) Reset(ctx context.Context, ref domain.PlayerRef) (*domain.TrackedPlayer, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	stored, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	token, expiresAt := stored.AccessToken, stored.TokenExpiresAt
	if ref.AccessToken != "" {
		token = ref.AccessToken
	}
	return s.persist(ctx, stored.Region, stored.Account.AccountID, token, expiresAt)
}

// Period returns the progress between the latest stored captures taken at
// or before start and end.
func (s *PlayerService) Period(ctx context.Context, ref domain.PlayerRef, start, end int64) (*domain.PlayerSession, error) {
	if start >= end {
		return nil, domain.NewError(domain.CodeInvalidArgument, "period start must be before its end",
			domain.A("start", start), domain.A("end", end))
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	stored, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	accountID := stored.Account.AccountID

	newer, err := s.repo.SnapshotAt(ctx, accountID, end)
	if err != nil {
		return nil, err
	}
	older, err := s.repo.SnapshotAt(ctx, accountID, start)
	if err != nil {
		return nil, err
	}

	delta, err := domain.SubtractAccount(*newer, *older)
	if err != nil {
		return nil, fmt.Errorf("failed to compute period: %w", err)
	}
	return s.newSession(stored.Region, *newer, *older, delta, nil, false), nil
}

func (s *PlayerService) newSession(region string, current, baseline domain.AccountSnapshot, delta *domain.AccountSnapshot, medals *domain.MedalSet, partial bool) *domain.PlayerSession {
	session := &domain.PlayerSession{
		AccountID: current.AccountID,
		Nickname:  current.Nickname,
		Region:    region,
		Elapsed:   max(current.Timestamp-baseline.Timestamp, baseline.Timestamp-current.Timestamp),
		Partial:   partial,
	}
	if medals != nil {
		session.Medals = medals.WithImages(s.catalog.MedalImage).Medals
	}
	if delta == nil {
		return session
	}

	session.Private = delta.Private
	session.General = domain.NewStatsView(delta.Statistics.All)
	session.Rating = domain.NewRatingView(delta.Statistics.Rating)
	session.Vehicles = domain.NewVehicleViews(delta.Vehicles, s.catalog.Vehicle)
	return session
}

func (s *PlayerService) Search(ctx context.Context, query string) ([]domain.Suggestion, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Suggestion{}, nil
	}

	suggestions, err := s.repo.Search(ctx, query, constants.SearchSuggestionLimit)
	if err != nil {
		s.logger.Error().Err(err).Str("query", query).Msg("failed to search players")
		return nil, err
	}

	s.logger.Info().Int("count", len(suggestions)).Str("query", query).Msg("search completed")
	return suggestions, nil
}

// Authorize attaches a freshly issued access token to the player, tracking
// the player first when needed.
func (s *PlayerService) Authorize(ctx context.Context, region string, token api.Token) (*domain.TrackedPlayer, error) {
	err := s.repo.SetAccessToken(ctx, token.AccountID, token.AccessToken, token.ExpiresAt)
	if err == nil {
		return s.repo.Get(ctx, token.AccountID)
	}
	if !errors.Is(err, domain.ErrNotFoundInLocalStore) {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()
	return s.persist(ctx, region, token.AccountID, token.AccessToken, token.ExpiresAt)
}

// Logout invalidates the stored token upstream and forgets it.
func (s *PlayerService) Logout(ctx context.Context, ref domain.PlayerRef) error {
	ctx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	stored, err := s.repo.Find(ctx, ref)
	if err != nil {
		return err
	}
	if stored.AccessToken == "" {
		return nil
	}

	if err := s.client.Logout(ctx, stored.Region, stored.AccessToken); err != nil && !errors.Is(err, domain.ErrInvalidAccessToken) {
		return fmt.Errorf("failed to logout player %d: %w", stored.Account.AccountID, err)
	}
	return s.repo.SetAccessToken(ctx, stored.Account.AccountID, "", 0)
}

func (s *PlayerService) LoginURL(ctx context.Context, region string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()
	return s.client.LoginURL(ctx, region, s.cfg.LoginRedirectURL)
}
