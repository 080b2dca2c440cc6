package formation

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/errors"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		f       Formation
		wantErr bool
	}{
		{name: "ok", f: Formation{Name: "wedge-5", Slots: []assignment.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}},
		{name: "uppercase name", f: Formation{Name: "Wedge", Slots: []assignment.Point{{X: 0, Y: 0}}}, wantErr: true},
		{name: "empty name", f: Formation{Name: "", Slots: []assignment.Point{{X: 0, Y: 0}}}, wantErr: true},
		{name: "no slots", f: Formation{Name: "empty"}, wantErr: true},
		{name: "too many slots", f: Formation{Name: "big", Slots: make([]assignment.Point, 4)}, wantErr: true},
		{name: "nan slot", f: Formation{Name: "nan", Slots: []assignment.Point{{X: math.NaN(), Y: 0}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.f, 3)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	got, err := FromConfig([]config.FormationConfig{
		{Name: "line", Slots: [][]float64{{0, 0}, {2, 0}}},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []assignment.Point{{X: 0, Y: 0}, {X: 2, Y: 0}}, got[0].Slots)

	_, err = FromConfig([]config.FormationConfig{{Name: "bad", Slots: [][]float64{{1}}}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Save(ctx, Formation{Name: "wedge", Slots: []assignment.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}))
	require.NoError(t, s.Save(ctx, Formation{Name: "box", Slots: []assignment.Point{{X: 0, Y: 0}}}))
	assert.ErrorIs(t, s.Save(ctx, Formation{Name: "box", Slots: []assignment.Point{{X: 5, Y: 5}}}), apperrors.ErrFormationExists)

	f, err := s.Get(ctx, "wedge")
	require.NoError(t, err)
	assert.Len(t, f.Slots, 2)
	assert.False(t, f.CreatedAt.IsZero())

	// Callers get a copy.
	f.Slots[0] = assignment.Point{X: 99, Y: 99}
	again, err := s.Get(ctx, "wedge")
	require.NoError(t, err)
	assert.Equal(t, assignment.Point{}, again.Slots[0])

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "box", list[0].Name)

	require.NoError(t, s.Delete(ctx, "box"))
	assert.ErrorIs(t, s.Delete(ctx, "box"), apperrors.ErrFormationNotFound)
	_, err = s.Get(ctx, "box")
	assert.ErrorIs(t, err, apperrors.ErrFormationNotFound)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	formations := []Formation{
		{Name: "kickoff", Slots: []assignment.Point{{X: -14, Y: 0}, {X: -9, Y: -5}}},
		{Name: "line", Slots: []assignment.Point{{X: 0, Y: 0}}},
	}

	added, err := Seed(ctx, s, formations, 11)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = Seed(ctx, s, formations, 11)
	require.NoError(t, err)
	assert.Zero(t, added)

	_, err = Seed(ctx, s, []Formation{{Name: "BAD"}}, 11)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
