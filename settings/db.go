package settings

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/ariakeeper/dbopen"
	"github.com/hazyhaar/ariakeeper/watch"
)

// Schema for the flat key/value settings table. Shortcut bindings use
// "binding.<combo>" keys; everything else is a scalar.
const Schema = `
CREATE TABLE IF NOT EXISTS ak_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// DBSource loads settings from a SQLite table and notifies on change via
// a poll/debounce watcher on MAX(updated_at), which sees writes from any
// connection, the process's own included.
type DBSource struct {
	db      *sql.DB
	logger  *slog.Logger
	watcher *watch.Watcher

	mu        sync.Mutex
	callbacks []func(Settings)
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewDBSource creates a DBSource over an open database. The schema is
// created when missing.
func NewDBSource(db *sql.DB, logger *slog.Logger) (*DBSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("settings: create schema: %w", err)
	}
	return &DBSource{
		db:     db,
		logger: logger,
		watcher: watch.New(db, watch.Options{
			Interval: 200 * time.Millisecond,
			Debounce: 500 * time.Millisecond,
			Detector: watch.MaxColumnDetector("ak_settings", "updated_at"),
			Logger:   logger,
		}),
	}, nil
}

// Load reads every row and assembles a Settings record with defaults for
// anything absent. Unknown keys are logged and skipped.
func (d *DBSource) Load() (Settings, error) {
	rows, err := d.db.Query(`SELECT key, value FROM ak_settings`)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: query: %w", err)
	}
	defer rows.Close()

	var s Settings
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Settings{}, fmt.Errorf("settings: scan: %w", err)
		}
		d.assign(&s, key, value)
	}
	if err := rows.Err(); err != nil {
		return Settings{}, fmt.Errorf("settings: rows: %w", err)
	}
	s.applyDefaults()
	return s, nil
}

func (d *DBSource) assign(s *Settings, key, value string) {
	if combo, ok := strings.CutPrefix(key, "binding."); ok {
		if s.Bindings == nil {
			s.Bindings = make(map[string]string)
		}
		s.Bindings[combo] = value
		return
	}
	switch key {
	case "class_prefix":
		s.ClassPrefix = value
	case "shortcut_prefix":
		s.ShortcutPrefix = value
	case "debug":
		s.Debug = value == "true" || value == "1"
	case "annotations":
		s.Annotations = boolPtr(value == "true" || value == "1")
	case "page_enhancements":
		s.PageEnhancements = boolPtr(value == "true" || value == "1")
	case "cursor":
		s.Cursor = boolPtr(value == "true" || value == "1")
	case "excerpt_len":
		if n, err := strconv.Atoi(value); err == nil {
			s.ExcerptLen = n
		}
	case "debounce_window_ms":
		s.DebounceWindow = msDuration(value)
	case "debounce_max":
		if n, err := strconv.Atoi(value); err == nil {
			s.DebounceMax = n
		}
	case "rescan_every_ms":
		s.RescanEvery = msDuration(value)
	case "nav_poll_every_ms":
		s.NavPollEvery = msDuration(value)
	case "nav_settle_ms":
		s.NavSettle = msDuration(value)
	case "clear_after_ms":
		s.ClearAfter = msDuration(value)
	default:
		d.logger.Warn("settings: unknown key", "key", key)
	}
}

func msDuration(value string) time.Duration {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}

// Put upserts one key. Mostly for tooling and tests; the table is
// normally written by an external settings UI.
func (d *DBSource) Put(ctx context.Context, key, value string) error {
	err := dbopen.RunTx(ctx, d.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ak_settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("settings: put %s: %w", key, err)
	}
	return nil
}

// OnChange registers a callback and starts the watcher on first
// registration.
func (d *DBSource) OnChange(fn func(Settings)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, fn)
	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		d.watcher.OnChange(ctx, d.reload)
	}()
}

func (d *DBSource) reload() error {
	s, err := d.Load()
	if err != nil {
		return err
	}
	d.mu.Lock()
	callbacks := make([]func(Settings), len(d.callbacks))
	copy(callbacks, d.callbacks)
	d.mu.Unlock()

	for _, fn := range callbacks {
		fn(s)
	}
	return nil
}

// Close stops the watcher. The database handle belongs to the caller.
func (d *DBSource) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
