package dispatch

import "sync"

// sessionLocks serializes turn processing per session. TryLock never
// blocks: a trigger that loses the race is re-enqueued instead of waiting.
type sessionLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{held: make(map[string]struct{})}
}

func (l *sessionLocks) TryLock(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[sessionID]; ok {
		return false
	}
	l.held[sessionID] = struct{}{}
	return true
}

func (l *sessionLocks) Unlock(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, sessionID)
}
