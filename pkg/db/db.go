// Package db provides the persistence layer used by the application. It wraps
// a SQLite database holding tags, albums, the album/tag join rows, users with
// their encrypted Spotify credentials, each user's ownership set of album
// tags and their listening list.
//
// Natural keys are enforced with UNIQUE constraints so find-or-create calls
// converge on a single row even when they race. Orphan removal is a single
// conditional DELETE, so the reference check and the delete cannot be split
// by a concurrent writer. Callers open one DB with New and share it.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"Smart-Music-Tags/pkg/apperr"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Codec encrypts credential columns before they are written and decrypts
// them after they are read. *secret.Codec satisfies it.
type Codec interface {
	Encrypt(plain string) (string, error)
	Decrypt(cipher string) (string, error)
}

// Config holds what New needs to open the database.
type Config struct {
	// Path of the SQLite file, or ":memory:".
	Path string
	// Codec applied to the users.access_token and users.refresh_token columns.
	Codec Codec
	// Logger receives migration output. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// DB wraps a sql.DB connection and exposes helper methods for the
// application's persistence layer.
type DB struct {
	*sql.DB
	codec Codec
}

// New opens the SQLite database at cfg.Path, creating the file and parent
// directory when needed, and applies pending migrations.
func New(cfg Config) (*DB, error) {
	if cfg.Codec == nil {
		return nil, errors.New("db: codec is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	memory := cfg.Path == ":memory:"
	if !memory {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	dsn := cfg.Path + "?_foreign_keys=on&_busy_timeout=5000"
	if !memory {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	d, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	if memory {
		d.SetMaxOpenConns(1)
	}
	if err := d.Ping(); err != nil {
		d.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(d, cfg.Logger); err != nil {
		d.Close()
		return nil, err
	}
	return &DB{DB: d, codec: cfg.Codec}, nil
}

// Migrate applies pending migrations to an already open database handle.
func (db *DB) Migrate(logger logrus.FieldLogger) error {
	return migrate(db.DB, logger)
}

func migrate(d *sql.DB, logger logrus.FieldLogger) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(logger)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(d, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// classify turns a driver error into the application taxonomy. Constraint
// violations become conflicts so callers can tell them apart from the store
// being unavailable. Context errors pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return apperr.Conflict(op, err)
	}
	return apperr.Store(op, err)
}

// isForeignKeyViolation reports whether err came from a foreign key check.
func isForeignKeyViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

// affected returns the number of rows touched by res.
func affected(op string, res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(",?", n)[1:]
}

// int64Args converts ids to query arguments.
func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
