package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// ErrNotReady is returned by any operation invoked before Open completed
// or after Close.
var ErrNotReady = errors.New("store: not initialized")

// Mode is the active storage mode of an open store.
type Mode string

const (
	ModeFile   Mode = "file"
	ModeMemory Mode = "memory"
)

// Options configure Open.
type Options struct {
	// Path is the database file. Empty opens an in-memory database.
	Path   string
	Logger *slog.Logger
}

// Store owns the single connection to the embedded database. All access is
// funneled through one run loop so that long scans and bulk imports are
// serialized; see Do.
type Store struct {
	mode Mode
	path string
	log  *slog.Logger

	// Owned by the run loop. Never touched from other goroutines.
	db   *sqlx.DB
	cols map[string][]string

	calls     chan call
	quit      chan struct{}
	closeOnce sync.Once
}

// Open opens (creating if necessary) the database at opts.Path, applies all
// pending schema migrations and starts the run loop. A migration failure is
// fatal: no Store is returned and the connection is closed.
func Open(opts Options) (*Store, error) {
	mode := ModeFile
	if opts.Path == "" {
		mode = ModeMemory
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openDB(opts.Path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		mode:  mode,
		path:  opts.Path,
		log:   logger,
		db:    db,
		cols:  make(map[string][]string),
		calls: make(chan call),
		quit:  make(chan struct{}),
	}
	go s.run()

	s.log.Info("store open", "mode", mode, "path", opts.Path, "schema_version", SchemaVersion)
	return s, nil
}

// Mode reports the active storage mode.
func (s *Store) Mode() Mode { return s.mode }

// Close stops the run loop and closes the connection. Any call issued after
// Close fails with ErrNotReady.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.do(nil, "close", func(c *Conn) error {
			return c.DB.Close()
		})
		close(s.quit)
	})
	return err
}

// openDB opens a single-connection handle with foreign-key enforcement on.
func openDB(path string) (*sqlx.DB, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == "" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One logical connection: the pool must never hand out a second one,
	// and an in-memory database must never be recycled away.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// swapDB replaces the live handle. Must only be called from inside a Do
// closure (the run loop goroutine).
func (c *Conn) swapDB(db *sqlx.DB) {
	c.s.db = db
	c.DB = db
	c.InvalidateColumns()
}
