package runlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

func setupTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open run log: %v", err)
	}
	t.Cleanup(func() {
		l.Close()
	})
	return l
}

func TestAppendAndList(t *testing.T) {
	l := setupTestLog(t)

	err := l.Append(Record{
		RunID:      "run1",
		Slot:       0,
		Role:       models.RoleCoding,
		FeatureIDs: []int64{1, 2},
		Outcome:    models.OutcomeSuccess,
		ExitCode:   0,
		StartedAt:  time.Now(),
		Duration:   3 * time.Second,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := l.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.Role != models.RoleCoding || r.Outcome != models.OutcomeSuccess {
		t.Errorf("unexpected record: %+v", r)
	}
	if len(r.FeatureIDs) != 2 || r.FeatureIDs[0] != 1 {
		t.Errorf("feature ids did not round-trip: %v", r.FeatureIDs)
	}
	if r.Duration != 3*time.Second {
		t.Errorf("expected 3s duration, got %v", r.Duration)
	}
}

func TestAttempts(t *testing.T) {
	l := setupTestLog(t)

	for i := 0; i < 3; i++ {
		err := l.Append(Record{
			RunID:      "run1",
			Slot:       i,
			Role:       models.RoleCoding,
			FeatureIDs: []int64{7},
			Outcome:    models.OutcomeFailure,
			ExitCode:   1,
			StartedAt:  time.Now(),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	err := l.Append(Record{
		RunID:      "run1",
		Slot:       0,
		Role:       models.RoleCoding,
		FeatureIDs: []int64{8},
		Outcome:    models.OutcomeSuccess,
		StartedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	n, err := l.Attempts(7)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 attempts for feature 7, got %d", n)
	}

	n, _ = l.Attempts(9)
	if n != 0 {
		t.Errorf("expected 0 attempts for unknown feature, got %d", n)
	}
}
