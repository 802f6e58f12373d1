package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

// SQLiteLogConfig configures SQLiteLog.
type SQLiteLogConfig struct {
	// TTL hides and prunes older entries.
	// Default: 30 days
	TTL time.Duration

	// MaxLen caps the entries kept per session.
	// Default: 10000
	MaxLen int64

	// Codec encodes rows.
	// Default: event.JSONCodec
	Codec event.Codec
}

// SQLiteLog keeps history in a single SQLite table.
// It is suitable for single-process deployments without Redis.
type SQLiteLog struct {
	db     *sql.DB
	ttl    time.Duration
	maxLen int64
	codec  event.Codec
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteLog opens or creates the log at path (":memory:" for tests).
func NewSQLiteLog(path string, cfg SQLiteLogConfig) (*SQLiteLog, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRedisLogConfig.TTL
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultRedisLogConfig.MaxLen
	}
	if cfg.Codec == nil {
		cfg.Codec = event.JSONCodec{}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS event_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			recorded_at INTEGER NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_event_history_session
		ON event_history(session_id, seq)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteLog{
		db:     db,
		ttl:    cfg.TTL,
		maxLen: cfg.MaxLen,
		codec:  cfg.Codec,
		now:    time.Now,
	}, nil
}

// Backend implements Log.
func (l *SQLiteLog) Backend() string { return "sqlite" }

// Append implements Log. Entries beyond MaxLen for the session are trimmed
// oldest first.
func (l *SQLiteLog) Append(ctx context.Context, evt event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}

	data, err := l.codec.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.ID, err)
	}

	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO event_history (session_id, event_id, recorded_at, data)
		VALUES (?, ?, ?, ?)
	`, evt.SessionID, evt.ID, l.now().UnixMilli(), data); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, `
		DELETE FROM event_history
		WHERE session_id = ? AND seq <= (
			SELECT seq FROM event_history
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT 1 OFFSET ?
		)
	`, evt.SessionID, evt.SessionID, l.maxLen); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

// Read implements Log. Entries older than the TTL are not returned.
func (l *SQLiteLog) Read(ctx context.Context, sessionID string) ([]event.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrLogClosed
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT data FROM event_history
		WHERE session_id = ? AND recorded_at >= ?
		ORDER BY seq
	`, sessionID, l.cutoff())
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		evt, err := l.codec.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return events, nil
}

// Prune deletes entries older than the TTL and returns how many went.
func (l *SQLiteLog) Prune(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrLogClosed
	}

	res, err := l.db.ExecContext(ctx, `
		DELETE FROM event_history WHERE recorded_at < ?
	`, l.cutoff())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

func (l *SQLiteLog) cutoff() int64 {
	return l.now().Add(-l.ttl).UnixMilli()
}

// Close implements Log.
func (l *SQLiteLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	return l.db.Close()
}
