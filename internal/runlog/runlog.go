// Package runlog persists one record per harvested agent session.
// Records survive abandons, so a future "give up after N attempts" policy
// can count how many times a feature has been tried.
package runlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// Record captures the outcome of one worker session.
type Record struct {
	ID         int64
	RunID      string
	Slot       int
	Role       models.WorkerRole
	FeatureIDs []int64
	Outcome    models.Outcome
	ExitCode   int
	StartedAt  time.Time
	Duration   time.Duration
}

// Log wraps the run-record database.
type Log struct {
	conn *sql.DB
	mu   sync.Mutex
}

// ProjectLogPath returns the path to the project-local run log database.
func ProjectLogPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".foreman", "runs.db")
}

// Open opens the run log at the given path, creating it if needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create runlog directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		slot INTEGER NOT NULL,
		role TEXT NOT NULL,
		feature_ids TEXT NOT NULL,
		outcome TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id);
	`
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	return &Log{conn: conn}, nil
}

// Close closes the run log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.Close()
}

// Append writes one session record.
func (l *Log) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids, err := json.Marshal(r.FeatureIDs)
	if err != nil {
		return fmt.Errorf("encode feature ids: %w", err)
	}

	_, err = l.conn.Exec(`
		INSERT INTO runs (run_id, slot, role, feature_ids, outcome, exit_code, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.Slot, string(r.Role), string(ids), string(r.Outcome), r.ExitCode,
		r.StartedAt.UTC().Format(time.RFC3339), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("append run record: %w", err)
	}
	return nil
}

// List returns every record, oldest first.
func (l *Log) List() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.conn.Query(`
		SELECT id, run_id, slot, role, feature_ids, outcome, exit_code, started_at, duration_ms
		FROM runs ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var role, ids, outcome, startedAt string
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Slot, &role, &ids, &outcome, &r.ExitCode, &startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		r.Role = models.WorkerRole(role)
		r.Outcome = models.Outcome(outcome)
		if err := json.Unmarshal([]byte(ids), &r.FeatureIDs); err != nil {
			r.FeatureIDs = nil
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, r)
	}
	return records, rows.Err()
}

// Attempts counts how many sessions have included the given feature.
func (l *Log) Attempts(featureID int64) (int, error) {
	records, err := l.List()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, r := range records {
		for _, id := range r.FeatureIDs {
			if id == featureID {
				count++
				break
			}
		}
	}
	return count, nil
}
