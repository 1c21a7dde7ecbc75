package supervisor

import "sync"

// Logger receives debug output from the supervisor. The orchestrator's
// file-backed debug logger satisfies this.
type Logger interface {
	Log(format string, args ...interface{})
}

var pkgLogger Logger
var pkgLoggerMu sync.RWMutex

// SetLogger installs the package-level debug logger. A nil logger silences
// debug output.
func SetLogger(l Logger) {
	pkgLoggerMu.Lock()
	defer pkgLoggerMu.Unlock()
	pkgLogger = l
}

func debugLog(format string, args ...interface{}) {
	pkgLoggerMu.RLock()
	l := pkgLogger
	pkgLoggerMu.RUnlock()

	if l != nil {
		l.Log(format, args...)
	}
}
