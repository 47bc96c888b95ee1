package retrieval

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/peardrive/peardrive/internal/logging"
	"github.com/peardrive/peardrive/internal/metrics"
)

// StagingManager hands out per-request directories under a local staging
// root. Session locations are derived from a unique per-request key, so
// concurrent sessions never collide; each request mutates only its own
// subtree.
type StagingManager struct {
	root   string
	active int64
}

// NewStagingManager creates a manager rooted at dir.
func NewStagingManager(dir string) *StagingManager {
	return &StagingManager{root: dir}
}

// Session is the unit of temporary-resource ownership for one retrieval.
// It must be released exactly once on every path out of the pipeline.
type Session struct {
	dir     string
	mgr     *StagingManager
	release sync.Once
}

// Acquire creates a uniquely-named staging directory for key, creating
// the staging root if absent.
func (m *StagingManager) Acquire(key string) (*Session, error) {
	dir := filepath.Join(m.root, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir %s: %w", dir, err)
	}

	metrics.SetStagingSessionsActive(atomic.AddInt64(&m.active, 1))
	return &Session{dir: dir, mgr: m}, nil
}

// Dir returns the session's directory. The location is request-scoped and
// must not be handed out past the request.
func (s *Session) Dir() string {
	return s.dir
}

// Path returns a location inside the session for the given name.
func (s *Session) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Release removes everything under the session's directory. Removal is
// best-effort and asynchronous; failures are logged, never escalated, so
// cleanup cannot mask the transfer's own outcome. Safe to call more than
// once; only the first call acts.
func (s *Session) Release() {
	s.release.Do(func() {
		metrics.SetStagingSessionsActive(atomic.AddInt64(&s.mgr.active, -1))
		go func() {
			if err := os.RemoveAll(s.dir); err != nil {
				logging.Warn("staging cleanup failed",
					zap.String("dir", s.dir),
					zap.Error(err))
			}
		}()
	})
}
