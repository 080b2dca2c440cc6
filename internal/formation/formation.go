// Package formation keeps the named slot layouts that agents are assigned
// to, in memory or in PostgreSQL.
package formation

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/errors"
)

var namePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Formation is a named, ordered set of target slots.
type Formation struct {
	Name      string
	Slots     []assignment.Point
	CreatedAt time.Time
}

// Store persists formations.
type Store interface {
	Get(ctx context.Context, name string) (*Formation, error)
	List(ctx context.Context) ([]Formation, error)
	Save(ctx context.Context, f Formation) error
	Delete(ctx context.Context, name string) error
}

// Validate checks the name format and slot count. maxSlots <= 0 disables
// the upper bound.
func Validate(f Formation, maxSlots int) error {
	if !namePattern.MatchString(f.Name) {
		return fmt.Errorf("%w: formation name %q must match %s", apperrors.ErrInvalidInput, f.Name, namePattern)
	}
	if len(f.Slots) == 0 {
		return fmt.Errorf("%w: formation %q has no slots", apperrors.ErrInvalidInput, f.Name)
	}
	if maxSlots > 0 && len(f.Slots) > maxSlots {
		return fmt.Errorf("%w: formation %q has %d slots, limit is %d", apperrors.ErrInvalidInput, f.Name, len(f.Slots), maxSlots)
	}
	// Slots double as targets, so reuse the matcher's finiteness check.
	if err := assignment.Validate(f.Slots, f.Slots); err != nil {
		return fmt.Errorf("formation %q: %w", f.Name, err)
	}
	return nil
}

// FromConfig converts the configured seed formations.
func FromConfig(seeds []config.FormationConfig) ([]Formation, error) {
	out := make([]Formation, 0, len(seeds))
	for _, seed := range seeds {
		f := Formation{Name: seed.Name, Slots: make([]assignment.Point, 0, len(seed.Slots))}
		for i, s := range seed.Slots {
			if len(s) != 2 {
				return nil, fmt.Errorf("%w: formation %q slot %d has %d coordinates", apperrors.ErrInvalidInput, seed.Name, i, len(s))
			}
			f.Slots = append(f.Slots, assignment.Point{X: s[0], Y: s[1]})
		}
		out = append(out, f)
	}
	return out, nil
}

// Seed saves every formation that is not already stored.
func Seed(ctx context.Context, store Store, formations []Formation, maxSlots int) (int, error) {
	added := 0
	for _, f := range formations {
		if err := Validate(f, maxSlots); err != nil {
			return added, err
		}
		if _, err := store.Get(ctx, f.Name); err == nil {
			continue
		}
		if err := store.Save(ctx, f); err != nil {
			return added, fmt.Errorf("seeding %q: %w", f.Name, err)
		}
		added++
	}
	return added, nil
}
