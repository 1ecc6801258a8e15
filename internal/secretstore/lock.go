package secretstore

import "sync"

// locks maps a store instance to its mutex.
var locks sync.Map

// Lock enters the critical section of store and returns the function that leaves it.
// The section is keyed on the store instance, not on individual keys, so it is shared
// by every authenticator bound to the same store. Stores must be comparable (pointer types).
func Lock(store any) (unlock func()) {
	mu, _ := locks.LoadOrStore(store, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
