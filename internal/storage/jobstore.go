package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/job-dispatch/internal/models"
)

// ErrJobNotFound is returned when a job id is unknown to the store.
var ErrJobNotFound = errors.New("job not found")

// JobStore defines persistence operations for job cards. The durable store is
// the single source of truth; the mirror is derived from it.
type JobStore interface {
	CreateJob(ctx context.Context, j *models.JobCard) error
	GetJob(ctx context.Context, id string) (*models.JobCard, error)
	UpdateJob(ctx context.Context, j *models.JobCard) error
	ListByProvider(ctx context.Context, providerID string) ([]*models.JobCard, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*models.JobCard, error)
}

type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]models.JobCard
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]models.JobCard)}
}

func (m *MemoryStore) CreateJob(ctx context.Context, j *models.JobCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = *j
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*models.JobCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	out := j
	return &out, nil
}

func (m *MemoryStore) UpdateJob(ctx context.Context, j *models.JobCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return ErrJobNotFound
	}
	m.jobs[j.ID] = *j
	return nil
}

func (m *MemoryStore) ListByProvider(ctx context.Context, providerID string) ([]*models.JobCard, error) {
	return m.list(func(j models.JobCard) bool { return j.ProviderID == providerID })
}

func (m *MemoryStore) ListByCustomer(ctx context.Context, customerID string) ([]*models.JobCard, error) {
	return m.list(func(j models.JobCard) bool { return j.CustomerID == customerID })
}

func (m *MemoryStore) list(keep func(models.JobCard) bool) ([]*models.JobCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.JobCard
	for _, j := range m.jobs {
		if keep(j) {
			cp := j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}
