package line

import "sync"

// sessionTable is the bidirectional session-id to port-id binding. It has
// its own lock so the media path can resolve sessions without taking the
// registry lock; mutations happen only while the registry lock is also held.
type sessionTable struct {
	mu     sync.RWMutex
	byID   map[string]int
	byPort map[int]string
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		byID:   make(map[string]int),
		byPort: make(map[int]string),
	}
}

func (t *sessionTable) add(sessionID string, port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[sessionID] = port
	t.byPort[port] = sessionID
}

func (t *sessionTable) removeByID(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if port, ok := t.byID[sessionID]; ok {
		delete(t.byID, sessionID)
		delete(t.byPort, port)
	}
}

func (t *sessionTable) removeByPort(port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byPort[port]; ok {
		delete(t.byPort, port)
		delete(t.byID, id)
	}
}

func (t *sessionTable) portOf(sessionID string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	port, ok := t.byID[sessionID]
	return port, ok
}

func (t *sessionTable) sessionOf(port int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byPort[port]
	return id, ok
}
