// Package history keeps a SQLite audit trail of runs. The in-memory
// registry remains the source of truth while the process lives; the
// history survives restarts for operator review.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/formfill/orchestrator/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    total INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Store provides SQLite-backed run history
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	ops  chan func()
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a Store with the given database path
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		ops:    make(chan func(), 256),
	}
	s.wg.Add(1)
	go s.writer()
	return s, nil
}

// writer serializes all history writes so run updates never block the
// supervisor on database contention.
func (s *Store) writer() {
	defer s.wg.Done()
	for op := range s.ops {
		op()
	}
}

// enqueue hands a write to the background writer, falling back to a
// synchronous write when the queue is full.
func (s *Store) enqueue(op func()) {
	select {
	case s.ops <- op:
	default:
		op()
	}
}

// Close drains pending writes and closes the database
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ops)
	})
	s.wg.Wait()
	return s.db.Close()
}

// RecordCreate records a freshly registered run
func (s *Store) RecordCreate(run domain.Run) {
	s.enqueue(func() {
		if err := s.upsert(run); err != nil {
			s.logger.Warn("history write failed", "run_id", run.ID, "error", err)
		}
	})
}

// RecordUpdate records a run state change
func (s *Store) RecordUpdate(run domain.Run) {
	s.RecordCreate(run)
}

func (s *Store) upsert(run domain.Run) error {
	var finishedAt interface{}
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, status, total, success, failed, last_error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total = excluded.total,
			success = excluded.success,
			failed = excluded.failed,
			last_error = excluded.last_error,
			finished_at = excluded.finished_at
	`,
		run.ID,
		string(run.Status),
		run.Total,
		run.Success,
		run.Failed,
		run.LastError,
		run.StartedAt,
		finishedAt,
	)
	return err
}

// Record is one persisted run summary
type Record struct {
	ID         string
	Status     domain.RunStatus
	Total      int
	Success    int
	Failed     int
	LastError  string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// ListRecent returns up to limit runs, most recently started first
func (s *Store) ListRecent(limit int) ([]Record, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, status, total, success, failed, last_error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var status string
		var lastError sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &status, &rec.Total, &rec.Success, &rec.Failed,
			&lastError, &rec.StartedAt, &finishedAt); err != nil {
			return nil, err
		}
		rec.Status = domain.RunStatus(status)
		if lastError.Valid {
			rec.LastError = lastError.String
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			rec.FinishedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
