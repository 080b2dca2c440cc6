package formation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment"
	apperrors "github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/errors"
)

// MemoryStore is a process-local Store used when no database is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	formations map[string]Formation
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		formations: make(map[string]Formation),
		now:        time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, name string) (*Formation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.formations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrFormationNotFound, name)
	}
	f.Slots = append([]assignment.Point(nil), f.Slots...)
	return &f, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Formation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Formation, 0, len(s.formations))
	for _, f := range s.formations {
		f.Slots = append([]assignment.Point(nil), f.Slots...)
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, f Formation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.formations[f.Name]; exists {
		return fmt.Errorf("%w: %q", apperrors.ErrFormationExists, f.Name)
	}
	f.Slots = append([]assignment.Point(nil), f.Slots...)
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now().UTC()
	}
	s.formations[f.Name] = f
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.formations[name]; !ok {
		return fmt.Errorf("%w: %q", apperrors.ErrFormationNotFound, name)
	}
	delete(s.formations, name)
	return nil
}
