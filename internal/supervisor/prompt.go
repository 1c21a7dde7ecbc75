package supervisor

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// codingPreamble frames a coding session: implement the batch, report a
// verdict, touch nothing else.
const codingPreamble = `You are a coding session working on one batch of features.
Implement every feature listed below. Stay within their scope; if you
discover unrelated work, note it and move on.

When finished, print exactly one line:
  FOREMAN_STATUS: success   if every feature is implemented and its steps pass
  FOREMAN_STATUS: failure   otherwise
`

// testingPreamble frames a verification session over already-completed work.
const testingPreamble = `You are a testing session verifying features that were
marked complete. Re-run each feature's verification steps from scratch.
Do not fix anything; only verify and report.

When finished, print exactly one line:
  FOREMAN_STATUS: success   if every feature verifies cleanly
  FOREMAN_STATUS: failure   otherwise
`

// initializerPreamble frames the one-time project bootstrap session.
const initializerPreamble = `You are an initializer session. Set up the project
scaffolding described below so later coding sessions can start immediately.

When finished, print exactly one line:
  FOREMAN_STATUS: success   or   FOREMAN_STATUS: failure
`

// DefaultPrompt renders the standard prompt for a session. It satisfies
// PromptFunc and is what runs unless the caller injects its own renderer.
func DefaultPrompt(role models.WorkerRole, batch []*models.Feature) (string, error) {
	var preamble string
	switch role {
	case models.RoleCoding:
		preamble = codingPreamble
	case models.RoleTesting:
		preamble = testingPreamble
	case models.RoleInitializer:
		preamble = initializerPreamble
	default:
		return "", fmt.Errorf("no prompt template for role %q", role)
	}

	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n## Features\n")
	for _, f := range batch {
		fmt.Fprintf(&b, "\n### [%d] %s\n", f.ID, f.Name)
		if f.Category != "" {
			fmt.Fprintf(&b, "Category: %s\n", f.Category)
		}
		if f.Description != "" {
			b.WriteString(f.Description)
			b.WriteString("\n")
		}
		if len(f.Steps) > 0 {
			b.WriteString("Verification steps:\n")
			for _, step := range f.Steps {
				fmt.Fprintf(&b, "  - %s\n", step)
			}
		}
	}
	return b.String(), nil
}
