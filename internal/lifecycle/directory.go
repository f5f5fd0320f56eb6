package lifecycle

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknownProvider is returned when the directory has no record for an id.
var ErrUnknownProvider = errors.New("unknown provider")

// MemoryDirectory is a static in-process directory for local runs and tests.
// Production deployments point the controller at the real provider service.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[string]ProviderProfile
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{profiles: make(map[string]ProviderProfile)}
}

func (d *MemoryDirectory) Put(p ProviderProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

func (d *MemoryDirectory) Profile(ctx context.Context, providerID string) (ProviderProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[providerID]
	if !ok {
		return ProviderProfile{}, ErrUnknownProvider
	}
	return p, nil
}
