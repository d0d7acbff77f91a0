package adapters

import (
	"context"
	"sync"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
)

// MemoryFragmentStore keeps every fragment instance in process memory.
type MemoryFragmentStore struct {
	mu        sync.RWMutex
	fragments map[string][]*ports.Fragment
}

// NewMemoryFragmentStore creates an empty in-memory store.
func NewMemoryFragmentStore() *MemoryFragmentStore {
	return &MemoryFragmentStore{fragments: make(map[string][]*ports.Fragment)}
}

// Fetch returns a copy of the latest fragment for key.
func (s *MemoryFragmentStore) Fetch(ctx context.Context, key string) (*ports.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances := s.fragments[key]
	if len(instances) == 0 {
		return nil, nil
	}
	return instances[len(instances)-1].Clone(), nil
}

// Save stores a copy of fragment and sets fragment.Instance to the slot it landed in.
func (s *MemoryFragmentStore) Save(ctx context.Context, key string, fragment *ports.Fragment, newFragment bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	instances := s.fragments[key]
	stored := fragment.Clone()
	if newFragment || len(instances) == 0 {
		stored.Instance = len(instances) + 1
		s.fragments[key] = append(instances, stored)
	} else {
		stored.Instance = len(instances)
		instances[len(instances)-1] = stored
	}
	fragment.Instance = stored.Instance
	return nil
}

// FetchInstance returns a copy of instance n (1-based) for key.
func (s *MemoryFragmentStore) FetchInstance(ctx context.Context, key string, instance int) (*ports.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances := s.fragments[key]
	if instance < 1 || instance > len(instances) {
		return nil, nil
	}
	return instances[instance-1].Clone(), nil
}

// Instances reports how many fragments key has gone through.
func (s *MemoryFragmentStore) Instances(ctx context.Context, key string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fragments[key]), nil
}

var (
	_ ports.FragmentStore   = (*MemoryFragmentStore)(nil)
	_ ports.FragmentArchive = (*MemoryFragmentStore)(nil)
)
