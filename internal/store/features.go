package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// NewFeature describes a feature to be created. Dependencies reference
// already-assigned IDs; use CreateFeatures for batches whose members
// depend on each other.
type NewFeature struct {
	Priority     int
	Category     string
	Name         string
	Description  string
	Steps        []string
	Dependencies []int64
}

// CreateFeature appends a single feature and returns its assigned ID.
func (s *Store) CreateFeature(nf NewFeature) (int64, error) {
	var id int64
	err := s.Transaction(func(tx *sql.Tx) error {
		var err error
		id, err = insertFeature(tx, nf)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CreateFeatures appends a batch of features in one transaction.
// Dependencies expressed as negative values -(n+1) refer to the nth
// feature of the batch itself, letting callers create a self-referencing
// backlog atomically. Returns the assigned IDs in batch order.
func (s *Store) CreateFeatures(batch []NewFeature) ([]int64, error) {
	ids := make([]int64, len(batch))
	err := s.Transaction(func(tx *sql.Tx) error {
		// First pass: insert rows without dependencies so every batch
		// member has an ID before edges are written.
		for i, nf := range batch {
			deps := nf.Dependencies
			nf.Dependencies = nil
			id, err := insertFeature(tx, nf)
			if err != nil {
				return err
			}
			ids[i] = id
			batch[i].Dependencies = deps
		}

		// Second pass: resolve batch-relative references and insert edges.
		for i, nf := range batch {
			for _, dep := range nf.Dependencies {
				resolved := dep
				if dep < 0 {
					idx := int(-dep) - 1
					if idx < 0 || idx >= len(batch) {
						return fmt.Errorf("feature %q: batch reference %d out of range", nf.Name, dep)
					}
					resolved = ids[idx]
				}
				if err := insertDep(tx, ids[i], resolved); err != nil {
					return err
				}
			}
		}

		// Cycle check over the full graph including the new rows.
		items, err := listFeaturesTx(tx)
		if err != nil {
			return err
		}
		if err := checkAcyclic(items); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// insertFeature inserts one feature row plus its dependency edges.
func insertFeature(tx *sql.Tx, nf NewFeature) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO features (priority, category, name, description, steps, passes, in_progress, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?)
	`, nf.Priority, nf.Category, nf.Name, nf.Description, encodeSteps(nf.Steps), formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert feature %q: %w", nf.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("feature id for %q: %w", nf.Name, err)
	}
	for _, dep := range nf.Dependencies {
		if err := insertDep(tx, id, dep); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func insertDep(tx *sql.Tx, featureID, dependsOn int64) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO feature_deps (feature_id, depends_on) VALUES (?, ?)
	`, featureID, dependsOn)
	if err != nil {
		return fmt.Errorf("insert dependency %d -> %d: %w", featureID, dependsOn, err)
	}
	return nil
}

// GetFeature retrieves a feature by ID, or nil if not found.
func (s *Store) GetFeature(id int64) (*models.Feature, error) {
	row := s.QueryRow(`
		SELECT id, priority, category, name, description, steps, passes, in_progress, claimed_by, created_at
		FROM features WHERE id = ?
	`, id)

	f, err := scanFeature(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feature %d: %w", id, err)
	}

	deps, err := s.featureDeps(id)
	if err != nil {
		return nil, err
	}
	f.Dependencies = deps
	return f, nil
}

// ListFeatures returns a snapshot of every feature with dependencies
// loaded, ordered by ID.
func (s *Store) ListFeatures() ([]*models.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	return listFeaturesTx(tx)
}

// listFeaturesTx reads the full snapshot inside an open transaction.
func listFeaturesTx(tx *sql.Tx) ([]*models.Feature, error) {
	rows, err := tx.Query(`
		SELECT id, priority, category, name, description, steps, passes, in_progress, claimed_by, created_at
		FROM features ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*models.Feature)
	var features []*models.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		byID[f.ID] = f
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate features: %w", err)
	}

	depRows, err := tx.Query(`SELECT feature_id, depends_on FROM feature_deps ORDER BY feature_id, depends_on`)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer depRows.Close()

	for depRows.Next() {
		var fid, dep int64
		if err := depRows.Scan(&fid, &dep); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		if f, ok := byID[fid]; ok {
			f.Dependencies = append(f.Dependencies, dep)
		}
	}
	if err := depRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependencies: %w", err)
	}

	return features, nil
}

// featureDeps returns the dependency IDs for one feature.
func (s *Store) featureDeps(id int64) ([]int64, error) {
	rows, err := s.Query(`SELECT depends_on FROM feature_deps WHERE feature_id = ? ORDER BY depends_on`, id)
	if err != nil {
		return nil, fmt.Errorf("feature deps %d: %w", id, err)
	}
	defer rows.Close()

	var deps []int64
	for rows.Next() {
		var dep int64
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("scan dep: %w", err)
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

// Counts summarizes the store for status reporting.
type Counts struct {
	Total      int
	Passing    int
	InProgress int
}

// CountFeatures returns store-wide feature counts.
func (s *Store) CountFeatures() (Counts, error) {
	var c Counts
	row := s.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(passes), 0),
		       COALESCE(SUM(in_progress), 0)
		FROM features
	`)
	if err := row.Scan(&c.Total, &c.Passing, &c.InProgress); err != nil {
		return Counts{}, fmt.Errorf("count features: %w", err)
	}
	return c, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFeature(sc scanner) (*models.Feature, error) {
	var f models.Feature
	var steps, createdAt string
	var passes, inProgress int
	var claimedBy sql.NullInt64
	err := sc.Scan(&f.ID, &f.Priority, &f.Category, &f.Name, &f.Description,
		&steps, &passes, &inProgress, &claimedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	f.Steps = decodeSteps(steps)
	f.Passes = passes == 1
	f.InProgress = inProgress == 1
	if claimedBy.Valid {
		slot := int(claimedBy.Int64)
		f.ClaimedBy = &slot
	}
	f.CreatedAt, _ = parseTime(createdAt)
	return &f, nil
}
