// Package ledger persists which occurrences have already triggered a
// reminder, so cron-driven invocations never re-notify. It is the only
// state that outlives a process run.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"agendacal/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS reminders (
	source         TEXT NOT NULL,
	uid            TEXT NOT NULL,
	start          TEXT NOT NULL,
	occurrence_end TEXT NOT NULL,
	reminded_at    TEXT NOT NULL,
	PRIMARY KEY (source, uid, start)
);
`

// Store is the SQLite-backed reminder ledger.
type Store struct {
	db       *sql.DB
	lockPath string
}

// Open opens (or creates) the ledger database at path, creating parent
// directories and bootstrapping the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger: empty db path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	// Serialize access through one connection; the driver returns busy
	// errors under concurrent writers otherwise.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &Store{db: db, lockPath: path + ".lock"}, nil
}

// Exclusive takes a flock on the ledger's companion lock file and
// returns the release func. Remind passes run entirely under it: the
// lock is what keeps two concurrent invocations (same process or not)
// from both passing the HasReminded check and notifying twice.
func (s *Store) Exclusive(ctx context.Context) (func() error, error) {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ledger: open lock file: %w", err)
	}
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("ledger: acquire lock: %w", err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("ledger: acquire lock: %w", ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
	return func() error {
		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
			f.Close()
			return fmt.Errorf("ledger: release lock: %w", err)
		}
		return f.Close()
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// startKey normalizes an occurrence start for keying: UTC RFC3339Nano,
// so the same instant matches regardless of the zone it was computed in.
func startKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// HasReminded reports whether the identity already triggered a reminder.
func (s *Store) HasReminded(ctx context.Context, id model.Identity) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM reminders WHERE source = ? AND uid = ? AND start = ?`,
		id.Source, id.UID, startKey(id.Start),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: has reminded: %w", err)
	}
	return true, nil
}

// MarkReminded records a sent reminder. INSERT OR IGNORE keeps the
// write idempotent; cross-invocation exclusion is Exclusive's job.
// Returns true when this call created the record, false when it
// already existed.
func (s *Store) MarkReminded(ctx context.Context, id model.Identity, occurrenceEnd, remindedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reminders (source, uid, start, occurrence_end, reminded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id.Source, id.UID, startKey(id.Start),
		occurrenceEnd.UTC().Format(time.RFC3339Nano),
		remindedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("ledger: mark reminded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger: mark reminded: %w", err)
	}
	return n > 0, nil
}

// Prune deletes records whose occurrence has ended before the cutoff.
// Maintenance only; correctness of HasReminded does not depend on it.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE occurrence_end < ?`,
		before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("ledger: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: prune: %w", err)
	}
	return n, nil
}
