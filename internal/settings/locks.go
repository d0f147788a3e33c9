package settings

import "sync"

// recordLocks hands out one mutex per session id so read-modify-write cycles
// on the same record never interleave. Idle entries are removed.
type recordLocks struct {
	mu sync.Mutex
	m  map[string]*recordLock
}

type recordLock struct {
	sync.Mutex
	waiters int
}

// lock blocks until sessionID is free and returns the matching unlock.
func (l *recordLocks) lock(sessionID string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*recordLock)
	}
	rl, ok := l.m[sessionID]
	if !ok {
		rl = &recordLock{}
		l.m[sessionID] = rl
	}
	rl.waiters++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.waiters--
		if rl.waiters == 0 {
			delete(l.m, sessionID)
		}
		l.mu.Unlock()
	}
}

// size returns the number of sessions currently held or waited on.
func (l *recordLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
