package checkpoint

import "sync"

// issueLocks serializes checkpoint review transitions per issue, without
// serializing across issues.
type issueLocks struct {
	mu    sync.Mutex
	byKey map[string]*sync.Mutex
}

func newIssueLocks() *issueLocks {
	return &issueLocks{byKey: make(map[string]*sync.Mutex)}
}

func (l *issueLocks) lock(issueID string) func() {
	l.mu.Lock()
	m, ok := l.byKey[issueID]
	if !ok {
		m = &sync.Mutex{}
		l.byKey[issueID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
