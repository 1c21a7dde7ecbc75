package supervisor

import (
	"bufio"
	"io"
	"os/exec"
	"strings"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// statusMarkerPrefix is the line prefix agents use to report their own
// verdict before exiting. Everything after the prefix is the verdict word.
const statusMarkerPrefix = "FOREMAN_STATUS:"

// statusMarker extracts the verdict from a status line, if present.
func statusMarker(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, statusMarkerPrefix) {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(trimmed[len(statusMarkerPrefix):])), true
}

// parseOutcome maps a session's exit disposition to an outcome. The rules,
// in order:
//
//	killed by signal            -> crashed
//	recognized status marker    -> marker verdict
//	clean exit, no marker       -> unknown (never assumed success)
//	nonzero exit, no marker     -> failure
func parseOutcome(marker string, exitCode int, signaled bool) models.Outcome {
	if signaled {
		return models.OutcomeCrashed
	}
	switch marker {
	case "success", "passed":
		return models.OutcomeSuccess
	case "failure", "failed":
		return models.OutcomeFailure
	}
	if exitCode == 0 {
		return models.OutcomeUnknown
	}
	return models.OutcomeFailure
}

// exitDisposition reduces cmd.Wait's error to an exit code and whether the
// process died to a signal. A non-exit error (pipe failure, wait error)
// counts as signaled so it surfaces as a crash rather than a verdict.
func exitDisposition(waitErr error) (code int, signaled bool) {
	if waitErr == nil {
		return 0, false
	}
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return -1, true
	}
	if exitErr.ExitCode() < 0 {
		return exitErr.ExitCode(), true
	}
	return exitErr.ExitCode(), false
}

// scanLines feeds each line of r to fn. Lines longer than the buffer arrive
// as multiple chunks instead of ending the read loop, so one oversized line
// cannot stall heartbeat and marker tracking for the rest of the session.
func scanLines(r io.Reader, fn func(line string)) {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, _, err := br.ReadLine()
		if len(line) > 0 {
			fn(string(line))
		}
		if err != nil {
			return
		}
	}
}
