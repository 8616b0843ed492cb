package constants

import "time"

const (
	IDCacheTTL          = 1 * time.Hour
	LeaderboardCacheTTL = 10 * time.Minute
	TaskCacheTTL        = 24 * time.Hour
	CacheJanitorPeriod  = 1 * time.Minute
	MemoryCacheMaxItems = 100_000
)

const (
	ExternalAPITimeout   = 10 * time.Second
	CombinedFetchTimeout = 10 * time.Second
	DatabaseTimeout      = 5 * time.Second
	RequestTimeout       = 30 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	SearchSuggestionLimit = 10
)

const (
	// upstream accepts at most this many ids per account/info call
	AccountInfoBatchSize = 100
	RequestsPerSecond    = 10
	RefreshConcurrency   = 4
	RefreshWindow        = 12 * time.Hour
	UpdateInterval       = 12 * time.Hour
	TokenRenewInterval   = 24 * time.Hour
	// tokens expiring within this window are prolonged
	TokenRenewAhead = 3 * 24 * time.Hour
)

const (
	LeaderboardDefaultLimit = 50
	LeaderboardMaxLimit     = 500
	// minimum battles in the window for ratio-based player tops
	PlayerRatioMinBattles = 20
	ClanMinBattles        = 10
)
