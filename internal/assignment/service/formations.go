package service

import (
	"context"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment/cache"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/formation"
	apperrors "github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/resilience"
)

// withStore bounds a registry call by the configured store timeout. A
// missed deadline surfaces as ErrTimeout.
func (s *Service) withStore(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return resilience.WithTimeout(ctx, s.cfg.StoreTimeout, "formation "+op, fn)
}

func (s *Service) lookup(ctx context.Context, name string) (*formation.Formation, error) {
	var f *formation.Formation
	err := s.withStore(ctx, "get", func(ctx context.Context) error {
		var err error
		f, err = s.formations.Get(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) list(ctx context.Context) ([]formation.Formation, error) {
	var list []formation.Formation
	err := s.withStore(ctx, "list", func(ctx context.Context) error {
		var err error
		list, err = s.formations.List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Service) CreateFormation(ctx context.Context, req proto.FormationRequest) (*proto.FormationResponse, error) {
	f := formation.Formation{Name: req.Name, Slots: req.Slots, CreatedAt: time.Now().UTC()}
	if err := formation.Validate(f, s.cfg.MaxAgents); err != nil {
		return nil, err
	}
	err := s.withStore(ctx, "save", func(ctx context.Context) error {
		return s.formations.Save(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("formation created", "name", f.Name, "slots", len(f.Slots))
	s.refreshGauge(ctx)
	resp := toResponse(f)
	return &resp, nil
}

func (s *Service) GetFormation(ctx context.Context, name string) (*proto.FormationResponse, error) {
	f, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	resp := toResponse(*f)
	return &resp, nil
}

func (s *Service) ListFormations(ctx context.Context) (*proto.FormationListResponse, error) {
	list, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	resp := &proto.FormationListResponse{Formations: make([]proto.FormationResponse, 0, len(list)), Total: len(list)}
	for _, f := range list {
		resp.Formations = append(resp.Formations, toResponse(f))
	}
	return resp, nil
}

func (s *Service) DeleteFormation(ctx context.Context, name string) error {
	err := s.withStore(ctx, "delete", func(ctx context.Context) error {
		return s.formations.Delete(ctx, name)
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("formation deleted", "name", name)
	s.refreshGauge(ctx)
	return nil
}

// CacheStats reports the cache counters, or ErrUnavailable when caching is
// off.
func (s *Service) CacheStats() (cache.Stats, error) {
	if s.cache == nil {
		return cache.Stats{}, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "cache not configured")
	}
	return s.cache.Stats(), nil
}

func (s *Service) InvalidateCache(ctx context.Context) (int64, error) {
	if s.cache == nil {
		return 0, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "cache not configured")
	}
	return s.cache.Invalidate(ctx)
}

// RefreshFormationCount updates the stored-formations gauge.
func (s *Service) RefreshFormationCount(ctx context.Context) {
	s.refreshGauge(ctx)
}

func (s *Service) refreshGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	list, err := s.list(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("counting formations failed", "error", err)
		return
	}
	s.metrics.FormationsStored.Set(float64(len(list)))
}

func toResponse(f formation.Formation) proto.FormationResponse {
	return proto.FormationResponse{Name: f.Name, Slots: f.Slots, CreatedAt: f.CreatedAt}
}
