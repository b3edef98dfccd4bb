package midi

import (
	"errors"
	"fmt"
	"sync"
)

type registeredDriver struct {
	id     int
	driver Driver
}

// Registry maps driver IDs to drivers in registration order. The first
// registered driver is the fallback for ports asking for an unknown ID.
//
// Drivers are added once at startup and released by Close at shutdown;
// the registry owns them from AddDriver on. IDs are not checked for
// uniqueness, lookups return the first match.
type Registry struct {
	mu      sync.RWMutex
	drivers []registeredDriver
}

func NewRegistry() *Registry {
	return &Registry{}
}

// AddDriver registers d under id. It panics if d is nil.
func (r *Registry) AddDriver(id int, d Driver) {
	if d == nil {
		panic("midi: AddDriver called with nil driver")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers = append(r.drivers, registeredDriver{id: id, driver: d})
}

// DriverIDs returns the registered IDs in registration order.
func (r *Registry) DriverIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.drivers))
	for _, rd := range r.drivers {
		ids = append(ids, rd.id)
	}
	return ids
}

// Driver looks up a driver by ID.
func (r *Registry) Driver(id int) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rd := range r.drivers {
		if rd.id == id {
			return rd.driver, true
		}
	}
	return nil, false
}

// Fallback returns the first registered driver.
func (r *Registry) Fallback() (int, Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.drivers) == 0 {
		return -1, nil, false
	}
	return r.drivers[0].id, r.drivers[0].driver, true
}

// Close closes and forgets every driver. Ports still bound to them must
// have been closed first.
func (r *Registry) Close() error {
	r.mu.Lock()
	drivers := r.drivers
	r.drivers = nil
	r.mu.Unlock()

	var errs []error
	for _, rd := range drivers {
		if err := rd.driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close driver %d (%s): %w", rd.id, rd.driver.Name(), err))
		}
	}
	return errors.Join(errs...)
}
