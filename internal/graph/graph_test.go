package graph

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/foreman/pkg/models"
)

func feat(id int64, priority int, deps ...int64) *models.Feature {
	return &models.Feature{ID: id, Priority: priority, Dependencies: deps}
}

func TestComputeReadyNoDependencies(t *testing.T) {
	items := []*models.Feature{feat(1, 1), feat(2, 1), feat(3, 1)}

	ready := ComputeReady(items)
	if len(ready) != 3 {
		t.Fatalf("expected 3 ready features, got %d: %v", len(ready), ready)
	}
}

func TestComputeReadyBlockedThenUnblocked(t *testing.T) {
	one := feat(1, 1)
	two := feat(2, 1, 1)
	items := []*models.Feature{one, two}

	ready := ComputeReady(items)
	if len(ready) != 1 || ready[0] != 1 {
		t.Fatalf("expected ready={1}, got %v", ready)
	}

	one.Passes = true
	ready = ComputeReady(items)
	if len(ready) != 1 || ready[0] != 2 {
		t.Fatalf("expected ready={2} after 1 passes, got %v", ready)
	}
}

func TestComputeReadySkipsInProgressAndPassing(t *testing.T) {
	claimed := feat(1, 1)
	claimed.InProgress = true
	done := feat(2, 1)
	done.Passes = true
	items := []*models.Feature{claimed, done, feat(3, 1)}

	ready := ComputeReady(items)
	if len(ready) != 1 || ready[0] != 3 {
		t.Fatalf("expected ready={3}, got %v", ready)
	}
}

func TestComputeReadyPriorityOrdering(t *testing.T) {
	items := []*models.Feature{
		feat(5, 2),
		feat(3, 1),
		feat(9, 1),
		feat(1, 3),
	}

	ready := ComputeReady(items)
	want := []int64{3, 9, 5, 1}
	if len(ready) != len(want) {
		t.Fatalf("expected %d ready, got %v", len(want), ready)
	}
	for i := range want {
		if ready[i] != want[i] {
			t.Errorf("position %d: expected %d, got %d", i, want[i], ready[i])
		}
	}
}

func TestComputeReadyOrphanDependencyNeverReady(t *testing.T) {
	items := []*models.Feature{feat(1, 1, 999)}

	ready := ComputeReady(items)
	if len(ready) != 0 {
		t.Fatalf("feature with orphan dependency must never be ready, got %v", ready)
	}

	orphans := Orphans(items)
	if len(orphans[1]) != 1 || orphans[1][0] != 999 {
		t.Errorf("expected orphan dep 999 reported for feature 1, got %v", orphans)
	}
}

func TestComputeBlocked(t *testing.T) {
	one := feat(1, 1)
	one.Passes = true
	items := []*models.Feature{
		one,
		feat(2, 1, 1),    // dep satisfied
		feat(3, 1, 2),    // dep not passing
		feat(4, 1, 2, 1), // one satisfied, one not
	}

	blocked := ComputeBlocked(items)
	if len(blocked[2]) != 0 {
		t.Errorf("feature 2 should have empty blocking set, got %v", blocked[2])
	}
	if len(blocked[3]) != 1 || blocked[3][0] != 2 {
		t.Errorf("feature 3 should be blocked on {2}, got %v", blocked[3])
	}
	if len(blocked[4]) != 1 || blocked[4][0] != 2 {
		t.Errorf("feature 4 should be blocked on {2}, got %v", blocked[4])
	}
	if _, ok := blocked[1]; ok {
		t.Errorf("passing feature 1 should not appear in blocked map")
	}
}

func TestValidateAcyclicAllowsValidEdge(t *testing.T) {
	items := []*models.Feature{feat(1, 1), feat(2, 1)}

	if err := ValidateAcyclic(items, 2, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAcyclicRejectsSelfDependency(t *testing.T) {
	items := []*models.Feature{feat(1, 1)}

	err := ValidateAcyclic(items, 1, 1)
	var cycErr *CycleError
	if !errors.As(err, &cycErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cycErr.Path) != 2 {
		t.Errorf("expected degenerate cycle path of length 2, got %v", cycErr.Path)
	}
}

func TestValidateAcyclicRejectsDirectCycle(t *testing.T) {
	// 3 depends on 4; adding "4 depends on 3" must fail.
	items := []*models.Feature{feat(3, 1, 4), feat(4, 1)}

	err := ValidateAcyclic(items, 4, 3)
	var cycErr *CycleError
	if !errors.As(err, &cycErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	// Path starts and ends at the same ID.
	if cycErr.Path[0] != cycErr.Path[len(cycErr.Path)-1] {
		t.Errorf("cycle path should close on itself, got %v", cycErr.Path)
	}
}

func TestValidateAcyclicRejectsTransitiveCycle(t *testing.T) {
	// 1 -> 2 -> 3; adding "3 depends on 1" closes the loop.
	items := []*models.Feature{feat(1, 1, 2), feat(2, 1, 3), feat(3, 1)}

	err := ValidateAcyclic(items, 3, 1)
	var cycErr *CycleError
	if !errors.As(err, &cycErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
}

func TestValidateAcyclicDoesNotMutate(t *testing.T) {
	three := feat(3, 1, 4)
	four := feat(4, 1)
	items := []*models.Feature{three, four}

	_ = ValidateAcyclic(items, 4, 3)

	if len(four.Dependencies) != 0 {
		t.Errorf("rejected edge must leave dependency set unchanged, got %v", four.Dependencies)
	}
	if len(three.Dependencies) != 1 || three.Dependencies[0] != 4 {
		t.Errorf("existing dependencies must be untouched, got %v", three.Dependencies)
	}
}

func TestValidateAcyclicDiamondIsNotCycle(t *testing.T) {
	// 4 depends on 2 and 3, both depend on 1. Adding another path to 1 is fine.
	items := []*models.Feature{
		feat(1, 1),
		feat(2, 1, 1),
		feat(3, 1, 1),
		feat(4, 1, 2, 3),
	}

	if err := ValidateAcyclic(items, 4, 1); err != nil {
		t.Fatalf("diamond dependency is acyclic, got %v", err)
	}
}
