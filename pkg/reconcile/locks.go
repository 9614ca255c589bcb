package reconcile

import "sync"

// keyedMutex serializes writers of the same namespace or interface.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*sync.Mutex{}}
}

// lock takes the locks for keys, which must be sorted, and returns the
// function releasing them.
func (k *keyedMutex) lock(keys []string) func() {
	held := make([]*sync.Mutex, 0, len(keys))
	k.mu.Lock()
	for i, key := range keys {
		if i > 0 && keys[i-1] == key {
			continue
		}
		l, ok := k.locks[key]
		if !ok {
			l = &sync.Mutex{}
			k.locks[key] = l
		}
		held = append(held, l)
	}
	k.mu.Unlock()

	for _, l := range held {
		l.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
