package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"blitz-tracker/internal/api"
	"blitz-tracker/internal/cache"
	"blitz-tracker/internal/config"
	"blitz-tracker/internal/constants"
	"blitz-tracker/internal/domain"
	"blitz-tracker/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type ClanService struct {
	client  *api.Client
	repo    *repository.ClanRepository
	cache   cache.Cache
	cfg     *config.Config
	lookups singleflight.Group
	now     func() time.Time
	logger  zerolog.Logger
}

func NewClanService(
	client *api.Client,
	repo *repository.ClanRepository,
	c cache.Cache,
	cfg *config.Config,
	logger zerolog.Logger,
) *ClanService {
	return &ClanService{
		client: client,
		repo:   repo,
		cache:  c,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

func (s *ClanService) ResolveID(ctx context.Context, ref domain.ClanRef) (int64, error) {
	if ref.ClanID != 0 {
		return ref.ClanID, nil
	}
	if ref.Tag == "" {
		return 0, domain.NewError(domain.CodeInvalidArgument, "clan reference is empty")
	}

	key := fmt.Sprintf("clan_id:%s:%s", strings.ToLower(ref.Region), strings.ToLower(ref.Tag))
	raw, err := s.cache.Get(ctx, key)
	if err == nil {
		if id, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			return id, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to read id cache")
	}

	v, err, _ := s.lookups.Do(key, func() (any, error) {
		// shared by every waiter, so not bound to the first caller
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ExternalAPITimeout)
		defer cancel()
		id, err := s.client.FindClan(ctx, ref.Region, ref.Tag)
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
	return v.(int64), nil
}

// FetchClan captures the clan header and the general statistics of every
// member. Members the upstream no longer knows are skipped.
func (s *ClanService) FetchClan(ctx context.Context, region string, clanID int64) (*domain.ClanSnapshot, error) {
	clan, memberIDs, err := s.client.ClanInfo(ctx, region, clanID)
	if err != nil {
		return nil, err
	}

	accounts, err := s.client.AccountInfo(ctx, region, memberIDs, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch members of clan %d: %w", clanID, err)
	}

	members := make([]domain.AccountSnapshot, 0, len(accounts))
	for _, acc := range accounts {
		members = append(members, acc)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].AccountID < members[j].AccountID })

	clan.Members = members
	clan.Timestamp = s.now().Unix()

	s.logger.Debug().Int64("clan_id", clanID).Int("members", len(members)).Msg("clan captured")
	return clan, nil
}

func (s *ClanService) Track(ctx context.Context, ref domain.ClanRef) (*domain.TrackedClan, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	clanID, err := s.ResolveID(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, ref.Region, clanID)
}

func (s *ClanService) persist(ctx context.Context, region string, clanID int64) (*domain.TrackedClan, error) {
	clan, err := s.FetchClan(ctx, region, clanID)
	if err != nil {
		s.logger.Error().Err(err).Int64("clan_id", clanID).Str("region", region).Msg("failed to capture clan")
		return nil, err
	}

	tracked := domain.TrackedClan{
		Region:    strings.ToLower(region),
		Clan:      *clan,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.repo.Save(ctx, tracked); err != nil {
		s.logger.Error().Err(err).Int64("clan_id", clanID).Msg("failed to save clan")
		return nil, fmt.Errorf("failed to save clan: %w", err)
	}

	s.logger.Info().Int64("clan_id", clanID).Str("tag", clan.Tag).Str("region", tracked.Region).Msg("clan captured")
	return &tracked, nil
}

func (s *ClanService) find(ctx context.Context, ref domain.ClanRef) (*domain.TrackedClan, error) {
	stored, err := s.repo.Find(ctx, ref)
	if err == nil || !errors.Is(err, domain.ErrNotFoundInLocalStore) || ref.ClanID != 0 {
		return stored, err
	}

	clanID, rerr := s.ResolveID(ctx, ref)
	if rerr != nil {
		return nil, rerr
	}
	return s.repo.Get(ctx, clanID)
}

// Session returns the progress of the clan since its baseline. An untracked
// clan is tracked on the spot and reported as not tracked.
func (s *ClanService) Session(ctx context.Context, ref domain.ClanRef) (*domain.ClanSession, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	stored, err := s.find(ctx, ref)
	if errors.Is(err, domain.ErrNotFoundInLocalStore) {
		clanID, rerr := s.ResolveID(ctx, ref)
		if rerr != nil {
			return nil, rerr
		}
		if _, terr := s.persist(ctx, ref.Region, clanID); terr != nil {
			return nil, terr
		}
		return nil, domain.NewError(domain.CodeClanNotTracked, "", domain.A("clan_id", clanID), domain.A("region", ref.Region))
	}
	if err != nil {
		return nil, err
	}

	current, err := s.FetchClan(ctx, stored.Region, stored.Clan.ClanID)
	if err != nil {
		return nil, err
	}

	delta, err := domain.SubtractClan(*current, stored.Clan)
	if err != nil {
		return nil, fmt.Errorf("failed to compute clan session: %w", err)
	}
	if delta == nil {
		return &domain.ClanSession{
			ClanID:  current.ClanID,
			Name:    current.Name,
			Tag:     current.Tag,
			Region:  stored.Region,
			Elapsed: current.Timestamp - stored.Clan.Timestamp,
			Members: []domain.MemberView{},
		}, nil
	}

	session := domain.NewClanSession(*delta)
	session.Region = stored.Region
	return &session, nil
}

func (s *ClanService) Reset(ctx context.Context, ref domain.ClanRef) (*domain.TrackedClan, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	stored, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, stored.Region, stored.Clan.ClanID)
}

func (s *ClanService) Search(ctx context.Context, query string) ([]domain.Suggestion, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Suggestion{}, nil
	}

	suggestions, err := s.repo.Search(ctx, query, constants.SearchSuggestionLimit)
	if err != nil {
		s.logger.Error().Err(err).Str("query", query).Msg("failed to search clans")
		return nil, err
	}
	return suggestions, nil
}
