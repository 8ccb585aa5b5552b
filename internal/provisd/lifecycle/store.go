package lifecycle

import (
	"context"
	"sort"
	"sync"

	"github.com/provisboard/provisd/internal/provisd/domain"
	"github.com/provisboard/provisd/pkg/errors"
)

// Store defines the interface for install job storage.
// Terminal jobs are archived in place, never deleted.
type Store interface {
	// Create a new install job
	Create(ctx context.Context, job *domain.InstallJob) error

	// Get a job by ID
	Get(ctx context.Context, jobID string) (*domain.InstallJob, error)

	// Update an existing job
	Update(ctx context.Context, job *domain.InstallJob) error

	// List jobs matching a filter, most recently created first
	List(ctx context.Context, filter *Filter) ([]*domain.InstallJob, error)

	// Close the store
	Close() error
}

// Filter narrows List results
type Filter struct {
	Owner      string // Filter by owner account id
	Target     string // Filter by target address
	ActiveOnly bool   // Only jobs not yet in a terminal state
	Limit      int    // Max number of results (0 = unlimited)
}

// memoryStore is an in-memory implementation of Store.
// All jobs are lost on restart - suitable for a single-node core where the
// durable system of record lives with the external storage collaborator.
type memoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.InstallJob
}

// NewMemoryStore creates a new in-memory job store
func NewMemoryStore() Store {
	return &memoryStore{
		jobs: make(map[string]*domain.InstallJob),
	}
}

func (m *memoryStore) Create(ctx context.Context, job *domain.InstallJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.Id]; exists {
		return errors.WrapJobError(job.Id, "create", errors.ErrInvalidTransition)
	}

	m.jobs[job.Id] = job.DeepCopy()
	return nil
}

func (m *memoryStore) Get(ctx context.Context, jobID string) (*domain.InstallJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return nil, errors.NewJobNotFoundError(jobID)
	}

	return job.DeepCopy(), nil
}

func (m *memoryStore) Update(ctx context.Context, job *domain.InstallJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.Id]; !exists {
		return errors.NewJobNotFoundError(job.Id)
	}

	m.jobs[job.Id] = job.DeepCopy()
	return nil
}

func (m *memoryStore) List(ctx context.Context, filter *Filter) ([]*domain.InstallJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.InstallJob
	for _, job := range m.jobs {
		if matchesFilter(job, filter) {
			result = append(result, job.DeepCopy())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter != nil && filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = make(map[string]*domain.InstallJob)
	return nil
}

func matchesFilter(job *domain.InstallJob, filter *Filter) bool {
	if filter == nil {
		return true
	}
	if filter.Owner != "" && job.Owner != filter.Owner {
		return false
	}
	if filter.Target != "" && job.Target != filter.Target {
		return false
	}
	if filter.ActiveOnly && !job.Active() {
		return false
	}
	return true
}
