package supervisor

import (
	"strings"
	"testing"

	"github.com/ShayCichocki/foreman/pkg/models"
)

func TestStatusMarker(t *testing.T) {
	tests := []struct {
		line   string
		want   string
		wantOK bool
	}{
		{"FOREMAN_STATUS: success", "success", true},
		{"  FOREMAN_STATUS:failure  ", "failure", true},
		{"FOREMAN_STATUS: PASSED", "passed", true},
		{"status: success", "", false},
		{"compiling main.go", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := statusMarker(tt.line)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("statusMarker(%q) = %q, %v; want %q, %v", tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestScanLinesSurvivesOversizedLines(t *testing.T) {
	// One line far past the read buffer, then a normal marker line. The
	// oversized line must arrive chunked and the stream must keep flowing.
	input := strings.Repeat("x", 300*1024) + "\nFOREMAN_STATUS: success\n"

	var lines []string
	scanLines(strings.NewReader(input), func(line string) {
		lines = append(lines, line)
	})

	if len(lines) < 3 {
		t.Fatalf("expected the oversized line in chunks plus the marker, got %d callbacks", len(lines))
	}
	last := lines[len(lines)-1]
	if marker, ok := statusMarker(last); !ok || marker != "success" {
		t.Errorf("marker line after oversized line not delivered, last callback %q", last)
	}
	var total int
	for _, l := range lines[:len(lines)-1] {
		total += len(l)
	}
	if total != 300*1024 {
		t.Errorf("oversized line bytes dropped: got %d, want %d", total, 300*1024)
	}
}

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		name     string
		marker   string
		exitCode int
		signaled bool
		want     models.Outcome
	}{
		{"marker success", "success", 0, false, models.OutcomeSuccess},
		{"marker failure", "failure", 0, false, models.OutcomeFailure},
		{"marker passed alias", "passed", 0, false, models.OutcomeSuccess},
		{"signal overrides marker", "success", -1, true, models.OutcomeCrashed},
		{"clean exit without marker is unknown", "", 0, false, models.OutcomeUnknown},
		{"nonzero exit without marker", "", 1, false, models.OutcomeFailure},
		{"garbage marker clean exit", "maybe", 0, false, models.OutcomeUnknown},
		{"garbage marker dirty exit", "maybe", 2, false, models.OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseOutcome(tt.marker, tt.exitCode, tt.signaled); got != tt.want {
				t.Errorf("parseOutcome(%q, %d, %v) = %s, want %s", tt.marker, tt.exitCode, tt.signaled, got, tt.want)
			}
		})
	}
}
