package goslab

import (
	"sync"

	"go.uber.org/zap"
)

// log is the package-wide sink. It defaults to a no-op logger so the
// allocator stays silent unless a host opts in via SetLogger, the same
// posture the teacher implementation takes with its build-tag-gated trace
// prints, but backed by a real structured logger instead of os.Stderr.
var (
	logMu sync.RWMutex
	log   = zap.NewNop().Sugar()
)

// SetLogger installs l as the destination for lifecycle and error events
// (Kmem init and destroy, shrink errors, malloc failures, double-free
// detection). Passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	if l == nil {
		log = zap.NewNop().Sugar()
		return
	}
	log = l.Sugar()
}

func logger() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return log
}
