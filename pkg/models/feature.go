package models

import "time"

// Feature represents one schedulable unit of agent work.
// Features are append-only: they are created once and then mutated only
// through claim, abandon, and complete transitions. They are never deleted,
// so IDs remain stable for historical traceability.
type Feature struct {
	// ID is the unique, strictly increasing identifier assigned at creation.
	ID int64 `json:"id"`
	// Priority orders scheduling; lower values are more urgent.
	// Ties are broken by ID ascending.
	Priority int `json:"priority"`
	// Category is a free-form grouping label.
	Category string `json:"category,omitempty"`
	// Name is the short description of the feature.
	Name string `json:"name"`
	// Description provides detailed information about the feature.
	Description string `json:"description,omitempty"`
	// Steps is the ordered list of instructions for the agent.
	Steps []string `json:"steps,omitempty"`
	// Passes is true once the feature has been verified complete.
	Passes bool `json:"passes"`
	// InProgress is true while a worker slot holds the claim.
	// Passes and InProgress are never both true.
	InProgress bool `json:"in_progress"`
	// ClaimedBy is the slot index holding the claim, nil when unclaimed.
	ClaimedBy *int `json:"claimed_by,omitempty"`
	// Dependencies lists feature IDs that must pass before this
	// feature is eligible to be claimed.
	Dependencies []int64 `json:"dependencies,omitempty"`
	// CreatedAt is when the feature was created.
	CreatedAt time.Time `json:"created_at"`
}

// DependsOn returns true if the feature declares a dependency on id.
func (f *Feature) DependsOn(id int64) bool {
	for _, dep := range f.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}
