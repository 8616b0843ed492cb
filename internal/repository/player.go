package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"blitz-tracker/internal/domain"
	"blitz-tracker/internal/leaderboard"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const playerColumns = `account_id, region, access_token, token_expires_at, document, medals, updated_at`

type PlayerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{
		db:     sqlDB,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (*domain.TrackedPlayer, error) {
	var (
		p         domain.TrackedPlayer
		accountID int64
		token     sql.NullString
		document  string
		medals    sql.NullString
	)
	if err := row.Scan(&accountID, &p.Region, &token, &p.TokenExpiresAt, &document, &medals, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.AccessToken = token.String

	if err := json.Unmarshal([]byte(document), &p.Account); err != nil {
		return nil, fmt.Errorf("failed to decode player %d document: %w", accountID, err)
	}
	if medals.Valid && medals.String != "" {
		var set domain.MedalSet
		if err := json.Unmarshal([]byte(medals.String), &set); err != nil {
			return nil, fmt.Errorf("failed to decode player %d medals: %w", accountID, err)
		}
		p.Medals = &set
	}
	return &p, nil
}

func (r *PlayerRepository) getOne(ctx context.Context, where string, args []any, notTracked *domain.Error) (*domain.TrackedPlayer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE `+where+` LIMIT 1`, args...)
	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notTracked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

func (r *PlayerRepository) Get(ctx context.Context, accountID int64) (*domain.TrackedPlayer, error) {
	return r.getOne(ctx, "account_id = ?", []any{accountID},
		domain.NewError(domain.CodePlayerNotTracked, "", domain.A("account_id", accountID)))
}

func (r *PlayerRepository) GetByNickname(ctx context.Context, region, nickname string) (*domain.TrackedPlayer, error) {
	return r.getOne(ctx, "region = ? AND nickname = ? COLLATE NOCASE", []any{strings.ToLower(region), nickname},
		domain.NewError(domain.CodePlayerNotTracked, "", domain.A("name", nickname), domain.A("region", region)))
}

func (r *PlayerRepository) GetByToken(ctx context.Context, accessToken string) (*domain.TrackedPlayer, error) {
	if accessToken == "" {
		return nil, domain.NewError(domain.CodePlayerNotTracked, "")
	}
	return r.getOne(ctx, "access_token = ?", []any{accessToken},
		domain.NewError(domain.CodePlayerNotTracked, "", domain.A("access_token", "***")))
}

// Find looks a player up the same way the resolvers address one: by id,
// then by nickname within a region, then by access token.
func (r *PlayerRepository) Find(ctx context.Context, ref domain.PlayerRef) (*domain.TrackedPlayer, error) {
	switch {
	case ref.AccountID != 0:
		return r.Get(ctx, ref.AccountID)
	case ref.Name != "":
		return r.GetByNickname(ctx, ref.Region, ref.Name)
	case ref.AccessToken != "":
		return r.GetByToken(ctx, ref.AccessToken)
	}
	return nil, domain.NewError(domain.CodeInvalidArgument, "player reference is empty")
}

// Save replaces the current record of the player and appends the capture
// to its history in one transaction.
func (r *PlayerRepository) Save(ctx context.Context, p domain.TrackedPlayer) error {
	document, err := json.Marshal(p.Account)
	if err != nil {
		return fmt.Errorf("failed to encode player %d: %w", p.Account.AccountID, err)
	}
	var medals sql.NullString
	if p.Medals != nil {
		raw, err := json.Marshal(p.Medals)
		if err != nil {
			return fmt.Errorf("failed to encode player %d medals: %w", p.Account.AccountID, err)
		}
		medals = sql.NullString{String: string(raw), Valid: true}
	}
	var token sql.NullString
	if p.AccessToken != "" {
		token = sql.NullString{String: p.AccessToken, Valid: true}
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	region := strings.ToLower(p.Region)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO players (account_id, region, nickname, access_token, token_expires_at, document, medals, timestamp, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			region           = excluded.region,
			nickname         = excluded.nickname,
			access_token     = COALESCE(excluded.access_token, players.access_token),
			token_expires_at = CASE WHEN excluded.access_token IS NULL THEN players.token_expires_at ELSE excluded.token_expires_at END,
			document         = excluded.document,
			medals           = COALESCE(excluded.medals, players.medals),
			timestamp        = excluded.timestamp,
			updated_at       = excluded.updated_at`,
		p.Account.AccountID, region, p.Account.Nickname, token, p.TokenExpiresAt,
		string(document), medals, p.Account.Timestamp, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert player %d: %w", p.Account.AccountID, err)
	}

	if err := insertPlayerHistory(ctx, tx, region, p.Account, document); err != nil {
		return err
	}

	return tx.Commit()
}

// AppendHistory stores a capture without touching the current record.
func (r *PlayerRepository) AppendHistory(ctx context.Context, region string, acc domain.AccountSnapshot) error {
	document, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to encode player %d: %w", acc.AccountID, err)
	}
	return insertPlayerHistory(ctx, r.db, strings.ToLower(region), acc, document)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPlayerHistory(ctx context.Context, db execer, region string, acc domain.AccountSnapshot, document []byte) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate history id: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO player_history (id, account_id, region, nickname, document, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, acc.AccountID, region, acc.Nickname, string(document), acc.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append player %d history: %w", acc.AccountID, err)
	}
	return nil
}

// SetAccessToken stores or clears (empty token) the access token of a
// tracked player.
func (r *PlayerRepository) SetAccessToken(ctx context.Context, accountID int64, accessToken string, expiresAt int64) error {
	var token sql.NullString
	if accessToken != "" {
		token = sql.NullString{String: accessToken, Valid: true}
	} else {
		expiresAt = 0
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE players SET access_token = ?, token_expires_at = ?, updated_at = ?
		WHERE account_id = ?`,
		token, expiresAt, time.Now().UTC(), accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to set access token for player %d: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewError(domain.CodePlayerNotTracked, "", domain.A("account_id", accountID))
	}

	r.logger.Debug().
		Int64("account_id", accountID).
		Bool("cleared", accessToken == "").
		Msg("access token updated")
	return nil
}

// Search returns up to limit tracked players whose nickname contains query.
func (r *PlayerRepository) Search(ctx context.Context, query string, limit int) ([]domain.Suggestion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, nickname, region FROM players
		WHERE nickname LIKE ? ESCAPE '\'
		ORDER BY nickname COLLATE NOCASE, account_id
		LIMIT ?`,
		likePattern(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search players: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Suggestion, 0)
	for rows.Next() {
		var s domain.Suggestion
		if err := rows.Scan(&s.ID, &s.Name, &s.Region); err != nil {
			return nil, fmt.Errorf("failed to scan player suggestion: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// ForEachBatch walks all tracked players ordered by account id, batchSize
// at a time. The cursor is keyset based, so rows written by fn do not shift
// the walk.
func (r *PlayerRepository) ForEachBatch(ctx context.Context, batchSize int, fn func([]domain.TrackedPlayer) error) error {
	var after int64 = -1
	for {
		rows, err := r.db.QueryContext(ctx, `
			SELECT `+playerColumns+` FROM players
			WHERE account_id > ?
			ORDER BY account_id
			LIMIT ?`,
			after, batchSize,
		)
		if err != nil {
			return fmt.Errorf("failed to list players: %w", err)
		}

		batch := make([]domain.TrackedPlayer, 0, batchSize)
		for rows.Next() {
			p, err := scanPlayer(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan player: %w", err)
			}
			batch = append(batch, *p)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("failed to list players: %w", err)
		}

		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		after = batch[len(batch)-1].Account.AccountID
	}
}

func (r *PlayerRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM players`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count players: %w", err)
	}
	return n, nil
}

// SnapshotAt returns the latest stored capture of the account taken at or
// before ts.
func (r *PlayerRepository) SnapshotAt(ctx context.Context, accountID int64, ts int64) (*domain.AccountSnapshot, error) {
	var document string
	err := r.db.QueryRowContext(ctx, `
		SELECT document FROM player_history
		WHERE account_id = ? AND timestamp <= ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT 1`,
		accountID, ts,
	).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.CodePeriodNotTracked, "", domain.A("account_id", accountID), domain.A("timestamp", ts))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player %d snapshot: %w", accountID, err)
	}

	var acc domain.AccountSnapshot
	if err := json.Unmarshal([]byte(document), &acc); err != nil {
		return nil, fmt.Errorf("failed to decode player %d snapshot: %w", accountID, err)
	}
	return &acc, nil
}

// Top runs a player leaderboard pipeline.
func (r *PlayerRepository) Top(ctx context.Context, q leaderboard.Query) ([]domain.PlayerTop, error) {
	rows, err := r.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run player leaderboard: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PlayerTop, 0)
	for rows.Next() {
		var t domain.PlayerTop
		if err := rows.Scan(&t.AccountID, &t.Nickname, &t.Region, &t.Value); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func likePattern(query string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)
	return "%" + escaped + "%"
}
