package device

import (
	"sort"
	"sync"
	"time"
)

// Registry is the authoritative set of known peers. The local device is
// never a member. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	selfID  string
	devices map[string]Device
}

func NewRegistry(selfID string) *Registry {
	return &Registry{
		selfID:  selfID,
		devices: make(map[string]Device),
	}
}

// Upsert inserts or wholesale-replaces a device record, stamping
// LastSeen with the local clock. Reports whether membership or
// addressing changed, heartbeat-only refreshes return false.
func (r *Registry) Upsert(d Device) bool {
	if d.ID == "" || d.ID == r.selfID {
		return false
	}

	d.LastSeen = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, known := r.devices[d.ID]
	r.devices[d.ID] = d

	return !known || prev.IP != d.IP || prev.Port != d.Port || prev.Name != d.Name
}

// Remove drops a device by id. Reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.devices[id]
	delete(r.devices, id)
	return ok
}

// Get returns the device with the given id.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	return d, ok
}

// Len returns the number of known peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Snapshot returns a copy of all known peers, sorted by name then id.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sortDevices(out)
	return out
}

// EvictStale removes every device not seen within maxAge and returns
// the evicted records, so the caller can announce each eviction exactly once.
func (r *Registry) EvictStale(maxAge time.Duration) []Device {
	deadline := time.Now().UTC().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Device
	for id, d := range r.devices {
		if d.LastSeen.Before(deadline) {
			evicted = append(evicted, d)
			delete(r.devices, id)
		}
	}
	sortDevices(evicted)
	return evicted
}

func sortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
}
