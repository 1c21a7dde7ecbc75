// Package graph provides dependency resolution over a snapshot of features.
// All functions are pure computations over the snapshot passed in; the
// caller owns reading the snapshot from the store and acting on the result.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// CycleError indicates a proposed dependency edge would close a cycle.
// Path holds the offending cycle, starting and ending at the same ID.
type CycleError struct {
	Path []int64
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "circular dependency: " + strings.Join(parts, " -> ")
}

// ComputeReady returns the IDs of features that are eligible to be claimed:
// not passing, not in progress, and with every declared dependency passing.
// A dependency on an unknown ID is treated as permanently unsatisfied, so
// the feature is never ready; see Orphans for surfacing those.
// The result is sorted by (priority asc, ID asc), which is the single
// global priority policy used everywhere ready work is chosen.
func ComputeReady(items []*models.Feature) []int64 {
	byID := index(items)

	var ready []*models.Feature
	for _, f := range items {
		if f.Passes || f.InProgress {
			continue
		}
		if depsSatisfied(f, byID) {
			ready = append(ready, f)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].ID < ready[j].ID
	})

	ids := make([]int64, len(ready))
	for i, f := range ready {
		ids[i] = f.ID
	}
	return ids
}

// ComputeBlocked returns, for every not-yet-passing feature, the subset of
// its declared dependencies that are not yet passing. Unknown dependency IDs
// are included in the blocking set since they can never be satisfied.
// A feature with an empty blocking set, Passes=false and InProgress=false
// is exactly the ready set.
func ComputeBlocked(items []*models.Feature) map[int64][]int64 {
	byID := index(items)

	blocked := make(map[int64][]int64)
	for _, f := range items {
		if f.Passes {
			continue
		}
		var blocking []int64
		for _, dep := range f.Dependencies {
			d, ok := byID[dep]
			if !ok || !d.Passes {
				blocking = append(blocking, dep)
			}
		}
		blocked[f.ID] = blocking
	}
	return blocked
}

// Orphans returns, per feature, declared dependencies that reference no
// existing feature. These leave the feature permanently blocked and should
// be surfaced as a warning, never a crash.
func Orphans(items []*models.Feature) map[int64][]int64 {
	byID := index(items)

	orphans := make(map[int64][]int64)
	for _, f := range items {
		for _, dep := range f.Dependencies {
			if _, ok := byID[dep]; !ok {
				orphans[f.ID] = append(orphans[f.ID], dep)
			}
		}
	}
	return orphans
}

// ValidateAcyclic checks whether adding "featureID depends on dependsOnID"
// would close a cycle, using depth-first search over the existing dependency
// edges. It returns a *CycleError carrying the cycle path on rejection and
// never mutates anything. A self-dependency is rejected as a degenerate
// cycle of length one. This check runs on every dependency add, not just at
// bulk-creation time, because edges can be added incrementally.
func ValidateAcyclic(items []*models.Feature, featureID, dependsOnID int64) error {
	if featureID == dependsOnID {
		return &CycleError{Path: []int64{featureID, featureID}}
	}

	byID := index(items)

	// The new edge closes a cycle exactly when featureID is already
	// reachable from dependsOnID by following depends-on edges.
	path := findPath(byID, dependsOnID, featureID)
	if path == nil {
		return nil
	}

	// Prepend the proposed edge so the reported cycle reads
	// featureID -> dependsOnID -> ... -> featureID.
	cycle := append([]int64{featureID}, path...)
	return &CycleError{Path: cycle}
}

// CheckAcyclic verifies the whole snapshot is free of dependency cycles,
// using depth-first search with coloring to detect back edges. Returns a
// *CycleError carrying the first cycle found, or nil. Used by bulk creation,
// where edges arrive as a set rather than one at a time.
func CheckAcyclic(items []*models.Feature) error {
	byID := index(items)

	// Color states: 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[int64]int)

	var visit func(id int64, trail []int64) []int64
	visit = func(id int64, trail []int64) []int64 {
		colors[id] = 1
		trail = append(trail, id)

		f := byID[id]
		if f != nil {
			for _, dep := range f.Dependencies {
				switch colors[dep] {
				case 1:
					// Back edge: close the cycle at dep.
					start := 0
					for i, t := range trail {
						if t == dep {
							start = i
							break
						}
					}
					cycle := append([]int64{}, trail[start:]...)
					return append(cycle, dep)
				case 0:
					if _, ok := byID[dep]; ok {
						if found := visit(dep, trail); found != nil {
							return found
						}
					}
				}
			}
		}

		colors[id] = 2
		return nil
	}

	for _, f := range items {
		if colors[f.ID] == 0 {
			if cycle := visit(f.ID, nil); cycle != nil {
				return &CycleError{Path: cycle}
			}
		}
	}
	return nil
}

// findPath returns a path from src to dst along dependency edges, or nil
// if dst is unreachable. Uses DFS with coloring to avoid revisiting nodes.
func findPath(byID map[int64]*models.Feature, src, dst int64) []int64 {
	visited := make(map[int64]bool)

	var visit func(id int64, trail []int64) []int64
	visit = func(id int64, trail []int64) []int64 {
		if visited[id] {
			return nil
		}
		visited[id] = true
		trail = append(trail, id)

		if id == dst {
			out := make([]int64, len(trail))
			copy(out, trail)
			return out
		}

		f, ok := byID[id]
		if !ok {
			return nil
		}
		for _, dep := range f.Dependencies {
			if found := visit(dep, trail); found != nil {
				return found
			}
		}
		return nil
	}

	return visit(src, nil)
}

// depsSatisfied reports whether every declared dependency exists and passes.
func depsSatisfied(f *models.Feature, byID map[int64]*models.Feature) bool {
	for _, dep := range f.Dependencies {
		d, ok := byID[dep]
		if !ok || !d.Passes {
			return false
		}
	}
	return true
}

// index maps the snapshot by feature ID.
func index(items []*models.Feature) map[int64]*models.Feature {
	byID := make(map[int64]*models.Feature, len(items))
	for _, f := range items {
		byID[f.ID] = f
	}
	return byID
}
