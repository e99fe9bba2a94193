package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound indicates no submission exists for the requested key.
var ErrNotFound = errors.New("submission not found")

// Repository provides submission persistence. Implementations must be
// safe for concurrent use across independent submissions; the engine
// never mutates one submission from two goroutines.
type Repository interface {
	Get(ctx context.Context, id string) (*Submission, error)
	GetByPeriod(ctx context.Context, facilityID, period string) (*Submission, error)
	Save(ctx context.Context, sub *Submission) error
}

// MemoryRepository keeps submissions in process memory. It is the
// reference store; durable backends can replace it without changing the
// workflow contracts.
type MemoryRepository struct {
	mu       sync.RWMutex
	byID     map[string]*Submission
	byPeriod map[string]*Submission
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[string]*Submission),
		byPeriod: make(map[string]*Submission),
	}
}

// Get retrieves a submission by id.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sub, nil
}

// GetByPeriod retrieves a submission by facility and period label.
func (r *MemoryRepository) GetByPeriod(_ context.Context, facilityID, period string) (*Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byPeriod[facilityID+"|"+period]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, facilityID, period)
	}
	return sub, nil
}

// Save stores a submission, indexing it by id and facility/period.
func (r *MemoryRepository) Save(_ context.Context, sub *Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[sub.ID()] = sub
	r.byPeriod[sub.FacilityID()+"|"+sub.Period().String()] = sub
	return nil
}

// List returns all stored submissions in unspecified order.
func (r *MemoryRepository) List(_ context.Context) []*Submission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Submission, 0, len(r.byID))
	for _, sub := range r.byID {
		out = append(out, sub)
	}
	return out
}
