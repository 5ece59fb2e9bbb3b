package service

import (
	"sync"
)

// keyedMutex serialises mutations per key. The status machine keys it by
// job listing, the matching engine by cycle.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	return lock
}

// Lock acquires the mutex for one key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	lock := k.get(key)
	lock.Lock()
	return lock.Unlock
}
