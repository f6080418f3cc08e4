package accounts

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const uniqueViolation = "23505"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PoolConfig sizes the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

// Open connects to PostgreSQL through the pgx driver and verifies the
// connection with a ping.
func Open(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate applies every embedded migration goose has not yet recorded.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

// PostgresStore is the production [Store].
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database. The caller owns db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectAccount = `
	SELECT id, email, password_hash, failed_attempts, last_failed_attempt,
	       locked_until, last_login, created_at
	FROM accounts
`

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, selectAccount+` WHERE email = $1`, NormalizeEmail(email))
	acct, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("query account by email: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, selectAccount+` WHERE id = $1`, id)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("query account by id: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) Create(ctx context.Context, email, passwordHash string) (*Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate account id: %w", err)
	}

	acct := &Account{
		ID:           id.String(),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, acct.ID, acct.Email, acct.PasswordHash, acct.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) UpdateLockout(ctx context.Context, id string, state LockoutState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET failed_attempts = $2, last_failed_attempt = $3, locked_until = $4, updated_at = NOW()
		WHERE id = $1
	`, id, state.FailedAttempts, nullTime(state.LastFailedAttempt), nullTime(state.LockedUntil))
	if err != nil {
		return fmt.Errorf("update lockout: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET failed_attempts = 0, last_failed_attempt = NULL, locked_until = NULL,
		    last_login = $2, updated_at = NOW()
		WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		acct                               Account
		lastFailed, lockedUntil, lastLogin sql.NullTime
	)
	err := row.Scan(
		&acct.ID, &acct.Email, &acct.PasswordHash, &acct.FailedAttempts,
		&lastFailed, &lockedUntil, &lastLogin, &acct.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	acct.LastFailedAttempt = timePtr(lastFailed)
	acct.LockedUntil = timePtr(lockedUntil)
	acct.LastLogin = timePtr(lastLogin)
	acct.CreatedAt = acct.CreatedAt.UTC()
	return &acct, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
