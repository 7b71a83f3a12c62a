package guard

import (
	"sync"

	"github.com/lawrns/camp-sub015/internal/domain"
)

// VersionTracker implements optimistic locking: it remembers the last seen
// version per entity and rejects stale writes. The comparison is monotonic
// (>= accepted, not strictly greater) so idempotent replays of the latest
// write pass the check.
type VersionTracker struct {
	mu       sync.Mutex
	versions map[string]int64
}

// NewVersionTracker creates an empty VersionTracker.
func NewVersionTracker() *VersionTracker {
	return &VersionTracker{versions: make(map[string]int64)}
}

// Check accepts incoming if it is at least the tracked version, recording it
// as the new tracked version. A stale version returns a ConflictError and
// the caller should refetch before retrying.
func (t *VersionTracker) Check(entityID string, incoming int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked := t.versions[entityID]
	if incoming < tracked {
		return &domain.ConflictError{
			EntityID:        entityID,
			IncomingVersion: incoming,
			TrackedVersion:  tracked,
		}
	}
	t.versions[entityID] = incoming
	return nil
}

// Observe records a committed version without a check, keeping the tracker
// in step with writes that happened elsewhere. Lower versions are ignored.
func (t *VersionTracker) Observe(entityID string, version int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if version > t.versions[entityID] {
		t.versions[entityID] = version
	}
}

// Current returns the tracked version for entityID, zero if never seen.
func (t *VersionTracker) Current(entityID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.versions[entityID]
}

// Forget drops tracking for entityID, for entities reaching terminal states.
func (t *VersionTracker) Forget(entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.versions, entityID)
}
