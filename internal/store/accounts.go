// Package store persists the pubkey-to-account links behind the identity
// resolver. SQLite is the default backing store; the UNIQUE constraint on
// the pubkey column is the serialization point for concurrent first logins.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"nostrpay-server/internal/types"
)

// ErrNotFound is returned when no account exists for a pubkey.
var ErrNotFound = errors.New("store: account not found")

// ErrDuplicatePubKey is returned when an insert loses the race on the
// pubkey uniqueness constraint. Callers re-read and use the winner's row.
var ErrDuplicatePubKey = errors.New("store: pubkey already linked")

// AccountStore is the narrow persistence contract the identity resolver
// consumes.
type AccountStore interface {
	// GetByPubKey looks up the identity linked to pubkey, or ErrNotFound.
	GetByPubKey(ctx context.Context, pubkey string) (*types.Identity, error)

	// Create inserts a new identity row. Returns ErrDuplicatePubKey when
	// another caller linked the same pubkey first, and a generic error for
	// username collisions the caller should retry with a new name.
	Create(ctx context.Context, pubkey, username string) (*types.Identity, error)

	// UsernameExists reports whether any account already uses the name.
	UsernameExists(ctx context.Context, username string) (bool, error)

	// UpdateProfile stores best-effort profile metadata for an account.
	UpdateProfile(ctx context.Context, accountID int64, profile types.Profile) error
}

// SQLiteStore implements AccountStore on a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens (and if necessary initializes) the accounts database at
// the given path. Use ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", "file:"+path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening accounts database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	_, err := s.db.Exec(`create table if not exists accounts(
		id         integer primary key autoincrement,
		pubkey     text not null unique,
		username   text not null unique,
		created_at datetime not null,
		name       text not null default '',
		about      text not null default '',
		picture    text not null default '',
		nip05      text not null default ''
	)`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetByPubKey(ctx context.Context, pubkey string) (*types.Identity, error) {
	identity := &types.Identity{}
	err := s.db.GetContext(ctx, identity,
		`select id, pubkey, username, created_at from accounts where pubkey = ?`, pubkey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching account by pubkey: %w", err)
	}
	return identity, nil
}

func (s *SQLiteStore) Create(ctx context.Context, pubkey, username string) (*types.Identity, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`insert into accounts(pubkey, username, created_at) values (?, ?, ?)`,
		pubkey, username, now)
	if err != nil {
		if isUniqueViolation(err, "pubkey") {
			return nil, ErrDuplicatePubKey
		}
		return nil, fmt.Errorf("creating account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new account id: %w", err)
	}

	return &types.Identity{
		AccountID: id,
		PubKey:    pubkey,
		Username:  username,
		CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`select count(*) from accounts where username = ?`, username)
	if err != nil {
		return false, fmt.Errorf("checking username: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) UpdateProfile(ctx context.Context, accountID int64, profile types.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`update accounts set name = ?, about = ?, picture = ?, nip05 = ? where id = ?`,
		profile.Name, profile.About, profile.Picture, profile.Nip05, accountID)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure on
// the named column.
func isUniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
			strings.Contains(err.Error(), column)
	}
	return false
}
