package store

import (
	"fmt"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// Orphaned returns features left in_progress with no live owner. After an
// orchestrator crash these rows are stuck: the store cannot distinguish
// "still running elsewhere" from "crashed" on its own.
func (s *Store) Orphaned() ([]*models.Feature, error) {
	items, err := s.ListFeatures()
	if err != nil {
		return nil, err
	}

	var orphaned []*models.Feature
	for _, f := range items {
		if f.InProgress && !f.Passes {
			orphaned = append(orphaned, f)
		}
	}
	return orphaned, nil
}

// ResetOrphaned clears every orphaned in_progress claim, returning the
// number of features reset. The orchestrator runs this at startup, after
// acquiring the project lock, so claims left by a crashed run become
// eligible again. With the lock held, no other run on this machine can own
// those rows, which is what makes the blanket reset safe.
func (s *Store) ResetOrphaned() (int64, error) {
	res, err := s.Exec(`
		UPDATE features SET in_progress = 0, claimed_by = NULL
		WHERE in_progress = 1 AND passes = 0
	`)
	if err != nil {
		return 0, fmt.Errorf("reset orphaned claims: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rows affected: %w", err)
	}
	return count, nil
}
