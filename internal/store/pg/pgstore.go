// Package pg implements identity.Store on PostgreSQL via database/sql and
// the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"identity.org/internal/identity"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ identity.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Users ---------------------------------------------------------------------

const userColumns = `id, email, first_name, middle_name, last_name, password_hash,
	is_active, is_verified, failed_login_attempts, locked_until, is_deleted,
	created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u *identity.User) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, email, first_name, middle_name, last_name, password_hash,
			is_active, is_verified)
		values ($1, lower($2), $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, u.ID, u.Email, nullIfEmpty(u.FirstName), nullIfEmpty(u.MiddleName),
		nullIfEmpty(u.LastName), u.PasswordHash, u.Active, u.Verified,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where email = lower($1) and not is_deleted
	`, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1 and not is_deleted
	`, id)
	return scanUser(row)
}

func (s *Store) UpdateUser(ctx context.Context, u *identity.User) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update users
		set email = lower($2), first_name = $3, middle_name = $4, last_name = $5,
			password_hash = $6, is_active = $7, is_verified = $8,
			failed_login_attempts = $9, locked_until = $10, is_deleted = $11,
			updated_at = now()
		where id = $1
	`, u.ID, u.Email, nullIfEmpty(u.FirstName), nullIfEmpty(u.MiddleName),
		nullIfEmpty(u.LastName), u.PasswordHash, u.Active, u.Verified,
		u.FailedLoginAttempts, u.LockedUntil, u.Deleted)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]identity.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+`
		from users
		where not is_deleted
		order by email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []identity.User
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// scan helpers --------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserFrom(sc rowScanner) (*identity.User, error) {
	var (
		u                   identity.User
		first, middle, last sql.NullString
		lockedUntil         sql.NullTime
	)
	err := sc.Scan(&u.ID, &u.Email, &first, &middle, &last, &u.PasswordHash,
		&u.Active, &u.Verified, &u.FailedLoginAttempts, &lockedUntil,
		&u.Deleted, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.FirstName = first.String
	u.MiddleName = middle.String
	u.LastName = last.String
	if lockedUntil.Valid {
		t := lockedUntil.Time
		u.LockedUntil = &t
	}
	return &u, nil
}

func scanUser(row *sql.Row) (*identity.User, error)       { return scanUserFrom(row) }
func scanUserRows(rows *sql.Rows) (*identity.User, error) { return scanUserFrom(rows) }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
