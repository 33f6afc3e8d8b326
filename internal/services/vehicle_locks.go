package services

import "sync"

// vehicleLocks hands out one mutex per vehicle id. Entries are reference
// counted and dropped once nobody holds or waits on them.
type vehicleLocks struct {
	mu    sync.Mutex
	locks map[string]*vehicleLock
}

type vehicleLock struct {
	mu   sync.Mutex
	refs int
}

func newVehicleLocks() *vehicleLocks {
	return &vehicleLocks{locks: make(map[string]*vehicleLock)}
}

// Lock blocks until vehicleID is free and returns the matching unlock func
func (l *vehicleLocks) Lock(vehicleID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[vehicleID]
	if !ok {
		entry = &vehicleLock{}
		l.locks[vehicleID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, vehicleID)
		}
		l.mu.Unlock()
	}
}

func (l *vehicleLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
