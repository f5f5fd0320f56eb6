// Package mirror holds the low-latency broadcast projection of job status.
// Entries are disposable: the durable job store is authoritative and the
// mirror can be rebuilt from it at any time. Subscribers only receive
// incremental pushes; resuming readers must re-fetch durably first.
package mirror

import (
	"context"
	"sync"

	"github.com/example/job-dispatch/internal/models"
)

type Mirror interface {
	// MirrorJob records the projection for a job and pushes it to job and
	// provider subscribers. Called by the controller after every durable write.
	MirrorJob(ctx context.Context, jobID string, e models.MirrorEntry) error
	// JobEntry returns the current projection, if any.
	JobEntry(ctx context.Context, jobID string) (models.MirrorEntry, bool)
	SubscribeJob(jobID string, fn func(models.MirrorEntry)) (cancel func())
	SubscribeProvider(providerID string, fn func(jobID string, e models.MirrorEntry)) (cancel func())
}

type subscriber[T any] struct {
	id int
	fn T
}

// MemoryMirror is the single-process implementation used in tests and
// redis-less runs.
type MemoryMirror struct {
	mu      sync.RWMutex
	entries map[string]models.MirrorEntry

	nextID       int
	jobSubs      map[string][]subscriber[func(models.MirrorEntry)]
	providerSubs map[string][]subscriber[func(string, models.MirrorEntry)]
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{
		entries:      make(map[string]models.MirrorEntry),
		jobSubs:      make(map[string][]subscriber[func(models.MirrorEntry)]),
		providerSubs: make(map[string][]subscriber[func(string, models.MirrorEntry)]),
	}
}

func (m *MemoryMirror) MirrorJob(ctx context.Context, jobID string, e models.MirrorEntry) error {
	m.mu.Lock()
	m.entries[jobID] = e
	jobSubs := append([]subscriber[func(models.MirrorEntry)](nil), m.jobSubs[jobID]...)
	provSubs := append([]subscriber[func(string, models.MirrorEntry)](nil), m.providerSubs[e.ProviderID]...)
	m.mu.Unlock()

	for _, s := range jobSubs {
		s.fn(e)
	}
	for _, s := range provSubs {
		s.fn(jobID, e)
	}
	return nil
}

func (m *MemoryMirror) JobEntry(ctx context.Context, jobID string) (models.MirrorEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[jobID]
	return e, ok
}

func (m *MemoryMirror) SubscribeJob(jobID string, fn func(models.MirrorEntry)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.jobSubs[jobID] = append(m.jobSubs[jobID], subscriber[func(models.MirrorEntry)]{id: id, fn: fn})
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.jobSubs[jobID]
		for i, s := range subs {
			if s.id == id {
				m.jobSubs[jobID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

func (m *MemoryMirror) SubscribeProvider(providerID string, fn func(string, models.MirrorEntry)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.providerSubs[providerID] = append(m.providerSubs[providerID], subscriber[func(string, models.MirrorEntry)]{id: id, fn: fn})
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.providerSubs[providerID]
		for i, s := range subs {
			if s.id == id {
				m.providerSubs[providerID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}
