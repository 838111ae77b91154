package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/greensec/rtauth"
	"github.com/greensec/rtauth/internal/userstore/migrations"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicate is returned by Create when the identifier is taken.
var ErrDuplicate = errors.New("identifier already registered")

// RolePrefix is prepended to stored roles that lack it.
const RolePrefix = "ROLE_"

// NormalizeRole turns "USER" into "ROLE_USER" and leaves "ROLE_USER" alone.
func NormalizeRole(role string) string {
	role = strings.TrimSpace(role)
	if role == "" || strings.HasPrefix(role, RolePrefix) {
		return role
	}
	return RolePrefix + role
}

// NewUser is the input to Create. PasswordHash must already be hashed.
type NewUser struct {
	Identifier   string
	PasswordHash string
	Name         string
	Role         string
}

// Store is a SQLite-backed rtauth.UserProvider.
type Store struct {
	db *sql.DB
}

var (
	_ rtauth.UserProvider  = (*Store)(nil)
	_ rtauth.SecretUpdater = (*Store)(nil)
)

// Open connects to dsn and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// In-memory databases are per connection.
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ApplyMigrations runs every embedded up migration not yet applied.
func (s *Store) ApplyMigrations() error {
	driver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return err
	}
	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}
	instance, err := migrate.NewWithInstance("iofs", source, "", driver)
	if err != nil {
		return err
	}
	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Create registers a user and returns the stored record.
func (s *Store) Create(ctx context.Context, u NewUser) (rtauth.UserRecord, error) {
	if u.Identifier == "" || u.PasswordHash == "" {
		return rtauth.UserRecord{}, errors.New("identifier and password hash are required")
	}
	role := NormalizeRole(u.Role)
	if role == "" {
		return rtauth.UserRecord{}, errors.New("role is required")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (identifier, password_hash, name, role) VALUES (?, ?, ?, ?)`,
		u.Identifier, u.PasswordHash, u.Name, role)
	if err != nil {
		if isConstraint(err) {
			return rtauth.UserRecord{}, ErrDuplicate
		}
		return rtauth.UserRecord{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return rtauth.UserRecord{}, err
	}

	return rtauth.UserRecord{
		PrincipalID:  strconv.FormatInt(id, 10),
		Identifier:   u.Identifier,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         role,
	}, nil
}

// FindByIdentifier implements rtauth.UserProvider.
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (rtauth.UserRecord, error) {
	var (
		id  int64
		rec rtauth.UserRecord
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, identifier, password_hash, name, role, secret FROM users WHERE identifier = ?`,
		identifier,
	).Scan(&id, &rec.Identifier, &rec.PasswordHash, &rec.Name, &rec.Role, &rec.SecondFactorSecret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rtauth.UserRecord{}, rtauth.ErrUserNotFound
		}
		return rtauth.UserRecord{}, err
	}
	rec.PrincipalID = strconv.FormatInt(id, 10)
	return rec, nil
}

// UpdateSecret implements rtauth.SecretUpdater.
func (s *Store) UpdateSecret(ctx context.Context, principalID, secret string) error {
	id, err := strconv.ParseInt(principalID, 10, 64)
	if err != nil {
		return rtauth.ErrUserNotFound
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET secret = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, secret, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rtauth.ErrUserNotFound
	}
	return nil
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
