package platformmap

import (
	"context"
	"sync"
)

// MemoryRepository keeps the stored document in process memory.
type MemoryRepository struct {
	mu  sync.Mutex
	raw []byte
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) LoadRaw(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.raw == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), r.raw...), nil
}

func (r *MemoryRepository) SaveRaw(ctx context.Context, raw []byte) error {
	r.mu.Lock()
	r.raw = append([]byte(nil), raw...)
	r.mu.Unlock()
	return nil
}
