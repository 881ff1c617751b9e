// Package store provides the relational lookups behind authentication and
// progress reporting: accounts, API keys, credential revocation and the
// audiobook catalog.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"
	zlog "github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/osa030/shelfcast/internal/app/auth"
	"github.com/osa030/shelfcast/internal/domain/playback"
	"github.com/osa030/shelfcast/internal/infra/config"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	pingTimeout = 5 * time.Second
)

var (
	userColumns   = []string{"id", "username", "account_disabled", "tokens_invalidated_at"}
	apiKeyColumns = []string{"user_id", "is_active", "expires_at"}
	bookColumns   = []string{
		"id", "title", "author", "narrator", "series", "series_position",
		"year", "cover_image", "duration", "file_path", "file_size",
	}
)

// Store implements the auth collaborator interfaces and catalog lookups on
// top of database/sql.
type Store struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// Open opens and pings the configured database.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	if cfg.Driver == DriverSQLite {
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "failed to create database directory")
			}
		}
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", cfg.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to ping %s database", cfg.Driver)
	}

	if cfg.Driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "failed to configure database")
		}
	}

	zlog.Info().Msgf("database opened: driver=%s", cfg.Driver)
	return New(db, cfg.Driver), nil
}

// New wraps an open database. driver selects the placeholder format.
func New(db *sql.DB, driver string) *Store {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if driver == DriverPostgres {
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return &Store{db: db, sb: sb, now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// FindUser returns the account with the given id.
func (s *Store) FindUser(ctx context.Context, id int64) (*auth.User, error) {
	query, args, err := s.sb.Select(userColumns...).
		From("users").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build user query")
	}

	var (
		u           auth.User
		invalidated sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Username, &u.AccountDisabled, &invalidated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query user %d", id)
	}
	if invalidated.Valid {
		t := invalidated.Time
		u.TokensInvalidatedAt = &t
	}
	return &u, nil
}

// FindAPIKey returns the API key stored under keyHash.
func (s *Store) FindAPIKey(ctx context.Context, keyHash string) (*auth.APIKey, error) {
	query, args, err := s.sb.Select(apiKeyColumns...).
		From("api_keys").
		Where(sq.Eq{"key_hash": keyHash}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build api key query")
	}

	var (
		k       auth.APIKey
		expires sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&k.UserID, &k.Active, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query api key")
	}
	if expires.Valid {
		t := expires.Time
		k.ExpiresAt = &t
	}
	return &k, nil
}

// IsBlacklisted reports whether token was explicitly revoked and the
// revocation has not yet lapsed. Tokens are stored by hash.
func (s *Store) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	query, args, err := s.sb.Select("1").
		From("token_blacklist").
		Where(sq.Eq{"token_hash": auth.HashCredential(token)}).
		Where(sq.Or{sq.Eq{"expires_at": nil}, sq.Gt{"expires_at": s.now()}}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, "failed to build blacklist query")
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to query token blacklist")
	}
	return true, nil
}

// IsInvalidatedSince reports whether the user invalidated all credentials
// after issuedAt. Unknown users are not invalidated; the account lookup
// reports them.
func (s *Store) IsInvalidatedSince(ctx context.Context, userID int64, issuedAt time.Time) (bool, error) {
	u, err := s.FindUser(ctx, userID)
	if errors.Is(err, auth.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if u.TokensInvalidatedAt == nil {
		return false, nil
	}
	return issuedAt.Before(*u.TokensInvalidatedAt), nil
}

// FindAudiobook returns the catalog entry with the given id.
func (s *Store) FindAudiobook(ctx context.Context, id int64) (*playback.Audiobook, error) {
	query, args, err := s.sb.Select(bookColumns...).
		From("audiobooks").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build audiobook query")
	}

	var (
		b              playback.Audiobook
		author         sql.NullString
		narrator       sql.NullString
		series         sql.NullString
		cover          sql.NullString
		filePath       sql.NullString
		seriesPosition sql.NullFloat64
		duration       sql.NullFloat64
		year           sql.NullInt64
		fileSize       sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&b.ID, &b.Title, &author, &narrator, &series, &seriesPosition,
		&year, &cover, &duration, &filePath, &fileSize,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query audiobook %d", id)
	}

	b.Author = author.String
	b.Narrator = narrator.String
	b.Series = series.String
	b.SeriesPosition = seriesPosition.Float64
	b.Year = int(year.Int64)
	b.CoverImage = cover.String
	b.Duration = duration.Float64
	b.FilePath = filePath.String
	b.FileSize = fileSize.Int64
	return &b, nil
}

var (
	_ auth.UserStore       = (*Store)(nil)
	_ auth.APIKeyStore     = (*Store)(nil)
	_ auth.RevocationStore = (*Store)(nil)
)
