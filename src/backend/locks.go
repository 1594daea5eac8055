package backend

import "sync"

// lockTable records which consumer locked a path. A lock covers the path
// and everything below it.
type lockTable struct {
	mu     sync.Mutex
	owners map[string]string
}

func newLockTable() *lockTable {
	return &lockTable{owners: make(map[string]string)}
}

// conflict returns the owner of a lock held by someone other than
// consumer on name, an ancestor of name or a descendant of it.
func (l *lockTable) conflict(consumer, name string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for locked, owner := range l.owners {
		if owner == consumer {
			continue
		}
		if within(name, locked) || within(locked, name) {
			return owner, true
		}
	}
	return "", false
}

func (l *lockTable) lock(consumer, name string) error {
	if owner, ok := l.conflict(consumer, name); ok {
		return failf(CodeLocked, "%s is locked by %s", clientPath(name), owner)
	}
	l.mu.Lock()
	l.owners[name] = consumer
	l.mu.Unlock()
	return nil
}

// clear releases the consumer's lock on name. Clearing a path nobody
// locked succeeds.
func (l *lockTable) clear(consumer, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[name]
	if !ok {
		return nil
	}
	if owner != consumer {
		return failf(CodeLocked, "%s is locked by %s", clientPath(name), owner)
	}
	delete(l.owners, name)
	return nil
}

// check fails when name is locked by another consumer.
func (l *lockTable) check(consumer, name string) error {
	if owner, ok := l.conflict(consumer, name); ok {
		return failf(CodeLocked, "%s is locked by %s", clientPath(name), owner)
	}
	return nil
}

// drop forgets every lock at or below name.
func (l *lockTable) drop(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for locked := range l.owners {
		if within(locked, name) {
			delete(l.owners, locked)
		}
	}
}

func (l *lockTable) owner(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owners[name]
}
