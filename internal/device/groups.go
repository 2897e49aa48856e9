package device

import "sync"

// Groups manages named sets of device IDs for bulk command addressing.
//
// Membership is not validated against the registry: a group may reference
// devices that have since been removed; the command dispatcher reports
// those per-device as not found.
//
// All methods are thread-safe.
type Groups struct {
	mu     sync.RWMutex
	groups map[string]map[string]struct{}
}

// NewGroups creates an empty group table.
func NewGroups() *Groups {
	return &Groups{
		groups: make(map[string]map[string]struct{}),
	}
}

// Create creates an empty group. Returns ErrGroupExists if the name is taken.
func (g *Groups) Create(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.groups[name]; ok {
		return ErrGroupExists
	}
	g.groups[name] = make(map[string]struct{})
	return nil
}

// Add inserts a device ID into a group.
func (g *Groups) Add(name, deviceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.groups[name]
	if !ok {
		return ErrGroupNotFound
	}
	members[deviceID] = struct{}{}
	return nil
}

// Remove removes a device ID from a group. Removing an absent member is
// not an error.
func (g *Groups) Remove(name, deviceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.groups[name]
	if !ok {
		return ErrGroupNotFound
	}
	delete(members, deviceID)
	return nil
}

// Delete removes the whole group.
func (g *Groups) Delete(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.groups[name]; !ok {
		return ErrGroupNotFound
	}
	delete(g.groups, name)
	return nil
}

// Members returns the device IDs in a group.
func (g *Groups) Members(name string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	members, ok := g.groups[name]
	if !ok {
		return nil, ErrGroupNotFound
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids, nil
}

// Names returns all group names.
func (g *Groups) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.groups))
	for name := range g.groups {
		names = append(names, name)
	}
	return names
}
