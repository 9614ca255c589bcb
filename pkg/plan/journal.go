package plan

import "sync"

// Entry is one operation that changed OS state, with what it overwrote.
type Entry struct {
	Op    Op
	Prior Prior
}

// Journal is the ordered record of operations that completed and changed
// state. It drives rollback. Safe for concurrent use.
type Journal struct {
	mu      sync.Mutex
	entries []Entry
}

func (j *Journal) Record(op Op, prior Prior) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, Entry{Op: op, Prior: prior})
}

// Entries returns the journal in the order operations completed.
func (j *Journal) Entries() []Entry {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Entry(nil), j.entries...)
}

func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
