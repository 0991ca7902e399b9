package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// ErrUsernameTaken is returned when the username is already registered.
var ErrUsernameTaken = errors.New("username already taken")

// User is a registered chat user. Usernames are unique.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Username  string    `bun:"username,notnull,unique"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Store holds the SQLite-backed user registry.
type Store struct {
	db *bun.DB
}

// Open opens the SQLite database at dsn (e.g. "file:chat.db" or
// "file::memory:?cache=shared" for tests) and creates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer; a single connection avoids lock errors.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	if _, err := db.NewCreateTable().Model((*User)(nil)).IfNotExists().Exec(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}
	return &Store{db: db}, nil
}

// Register records a new username. It returns ErrUsernameTaken when the
// name is already present; the unique index backstops the lookup under
// concurrent registration.
func (s *Store) Register(ctx context.Context, username string) error {
	exists, err := s.db.NewSelect().
		Model((*User)(nil)).
		Where("username = ?", username).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("lookup username: %w", err)
	}
	if exists {
		return ErrUsernameTaken
	}

	user := &User{Username: username, CreatedAt: time.Now()}
	if _, err := s.db.NewInsert().Model(user).Exec(ctx); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert username: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
