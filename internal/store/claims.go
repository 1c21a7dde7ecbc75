package store

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// ErrClaimFailed indicates another slot (or a concurrent external actor)
// claimed the feature first. This is expected under contention and the
// caller should simply move on to the next ready ID.
var ErrClaimFailed = errors.New("feature already claimed")

// TryClaim atomically transitions a feature from available to claimed by
// the given worker slot. The conditional UPDATE is the only mechanism that
// ever sets in_progress; the store, not the orchestrator, is the
// serialization point. Returns the full feature on success for use as the
// session's work order, or ErrClaimFailed when zero rows changed.
func (s *Store) TryClaim(id int64, slot int) (*models.Feature, error) {
	res, err := s.Exec(`
		UPDATE features SET in_progress = 1, claimed_by = ?
		WHERE id = ? AND in_progress = 0 AND passes = 0
	`, slot, id)
	if err != nil {
		return nil, fmt.Errorf("claim feature %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrClaimFailed
	}

	f, err := s.GetFeature(id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		// Claimed a row that no longer reads back; data inconsistency.
		return nil, fmt.Errorf("claimed feature %d not found", id)
	}
	return f, nil
}

// TryClaimBatch attempts TryClaim for the given ready IDs in order,
// stopping once maxBatch claims are collected. Partial success is normal:
// IDs lost to contention are skipped without unwinding earlier claims.
func (s *Store) TryClaimBatch(ids []int64, slot int, maxBatch int) ([]*models.Feature, error) {
	if maxBatch <= 0 {
		return nil, nil
	}

	var claimed []*models.Feature
	for _, id := range ids {
		if len(claimed) >= maxBatch {
			break
		}
		f, err := s.TryClaim(id, slot)
		if errors.Is(err, ErrClaimFailed) {
			continue
		}
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, f)
	}
	return claimed, nil
}

// Complete releases a claim and marks the feature verified. Idempotent:
// completing a feature that is not currently in progress is a no-op,
// because a slot may race with an external reset.
func (s *Store) Complete(id int64) error {
	_, err := s.Exec(`
		UPDATE features SET passes = 1, in_progress = 0, claimed_by = NULL
		WHERE id = ? AND in_progress = 1
	`, id)
	if err != nil {
		return fmt.Errorf("complete feature %d: %w", id, err)
	}
	return nil
}

// Abandon releases a claim without marking the feature complete, making it
// eligible again. Used when a session crashes, is soft-stopped mid-item, or
// fails. Idempotent for the same reason Complete is; in particular a
// last-moment completion race leaves passes untouched.
func (s *Store) Abandon(id int64) error {
	_, err := s.Exec(`
		UPDATE features SET in_progress = 0, claimed_by = NULL
		WHERE id = ? AND in_progress = 1
	`, id)
	if err != nil {
		return fmt.Errorf("abandon feature %d: %w", id, err)
	}
	return nil
}

// Release applies the given outcome to a claimed feature: success
// completes it, anything else abandons it.
func (s *Store) Release(id int64, outcome models.Outcome) error {
	if outcome == models.OutcomeSuccess {
		return s.Complete(id)
	}
	return s.Abandon(id)
}
