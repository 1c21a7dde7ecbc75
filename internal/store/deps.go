package store

import (
	"database/sql"
	"fmt"

	"github.com/ShayCichocki/foreman/internal/graph"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// AddDependency records that featureID must wait for dependsOnID to pass.
// The cycle check and the edge write happen inside one transaction, so a
// cycle-introducing edge cannot interleave with a concurrent add. Returns a
// *graph.CycleError when the edge would close a cycle; the store is left
// unchanged in that case.
func (s *Store) AddDependency(featureID, dependsOnID int64) error {
	return s.Transaction(func(tx *sql.Tx) error {
		items, err := listFeaturesTx(tx)
		if err != nil {
			return err
		}

		if !featureExists(items, featureID) {
			return fmt.Errorf("feature %d not found", featureID)
		}
		if !featureExists(items, dependsOnID) {
			return fmt.Errorf("dependency target %d not found", dependsOnID)
		}

		if err := graph.ValidateAcyclic(items, featureID, dependsOnID); err != nil {
			return err
		}

		return insertDep(tx, featureID, dependsOnID)
	})
}

// checkAcyclic validates a full snapshot, used by bulk creation.
func checkAcyclic(items []*models.Feature) error {
	return graph.CheckAcyclic(items)
}

func featureExists(items []*models.Feature, id int64) bool {
	for _, f := range items {
		if f.ID == id {
			return true
		}
	}
	return false
}
