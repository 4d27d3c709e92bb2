package util

import "sync"

// KeyedMutex provides one mutex per string key so that operations on
// different resources never contend. Mutexes are created lazily and kept for
// the lifetime of the process; the key space (products, coupons, orders) is
// small enough that eviction is not worth the complexity.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates an empty keyed mutex set.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use.
func (km *KeyedMutex) Lock(key string) {
	km.get(key).Lock()
}

// Unlock releases the mutex for key.
func (km *KeyedMutex) Unlock(key string) {
	km.get(key).Unlock()
}

func (km *KeyedMutex) get(key string) *sync.Mutex {
	km.mu.Lock()
	defer km.mu.Unlock()

	m, ok := km.locks[key]
	if !ok {
		m = &sync.Mutex{}
		km.locks[key] = m
	}
	return m
}
