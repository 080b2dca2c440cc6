// Package service is the application layer shared by the HTTP handlers and
// the RPC server. It wraps the matcher with request limits, the formation
// registry, the result cache, metrics, analytics and result publishing.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment/cache"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/dispatch"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/formation"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/tracing"
)

// ResultPublisher receives every successful assignment.
type ResultPublisher interface {
	Publish(result dispatch.AssignmentResult)
}

// Deps are the collaborators of a Service. Only Formations is required.
type Deps struct {
	Formations formation.Store
	Cache      *cache.AssignmentCache
	Tracker    analytics.Tracker
	Results    ResultPublisher
	Metrics    *metrics.Metrics
}

type Service struct {
	cfg        config.AssignmentConfig
	formations formation.Store
	cache      *cache.AssignmentCache
	tracker    analytics.Tracker
	results    ResultPublisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(cfg config.AssignmentConfig, deps Deps) *Service {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 1
	}
	s := &Service{
		cfg:        cfg,
		formations: deps.Formations,
		tracker:    deps.Tracker,
		results:    deps.Results,
		metrics:    deps.Metrics,
		logger:     logger.WithComponent("assignment-service"),
	}
	if cfg.CacheEnabled {
		s.cache = deps.Cache
	}
	return s
}

// Assign solves one ad-hoc instance.
func (s *Service) Assign(ctx context.Context, req proto.AssignRequest) (*proto.AssignResponse, error) {
	resp, err := s.solve(ctx, "", req.Agents, req.Targets, req.Verify)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, resp)
	return resp, nil
}

// AssignFormation solves the instance formed by the agents and the slots
// of a stored formation.
func (s *Service) AssignFormation(ctx context.Context, req proto.FormationAssignRequest) (*proto.AssignResponse, error) {
	f, err := s.lookup(ctx, req.Formation)
	if err != nil {
		s.track(ctx, analytics.AssignmentEvent{Type: analytics.EventAssignError, Formation: req.Formation, Agents: len(req.Agents)}, err)
		return nil, err
	}
	if len(req.Agents) != len(f.Slots) {
		err := apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "formation %q has %d slots, got %d agents", f.Name, len(f.Slots), len(req.Agents))
		s.observe("invalid", 0)
		s.track(ctx, analytics.AssignmentEvent{Type: analytics.EventAssignError, Formation: f.Name, Agents: len(req.Agents)}, err)
		return nil, err
	}
	resp, err := s.solve(ctx, f.Name, req.Agents, f.Slots, req.Verify)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, resp)
	return resp, nil
}

// AssignBatch solves independent instances concurrently, at most
// BatchConcurrency at a time. The first failure cancels the rest and is
// returned with the index of the failing instance. Results are published
// only when every instance succeeded.
func (s *Service) AssignBatch(ctx context.Context, req proto.BatchAssignRequest) (*proto.BatchAssignResponse, error) {
	n := len(req.Instances)
	if n == 0 {
		return nil, fmt.Errorf("%w: batch has no instances", apperrors.ErrInvalidInput)
	}
	if s.cfg.MaxBatchSize > 0 && n > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch has %d instances, limit is %d", apperrors.ErrInvalidInput, n, s.cfg.MaxBatchSize)
	}

	results := make([]proto.AssignResponse, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, inst := range req.Instances {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			resp, err := s.solve(gctx, "", inst.Agents, inst.Targets, inst.Verify)
			if err != nil {
				return fmt.Errorf("instance %d: %w", i, err)
			}
			results[i] = *resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i := range results {
		s.publish(ctx, &results[i])
	}
	return &proto.BatchAssignResponse{Results: results}, nil
}

func (s *Service) solve(ctx context.Context, formationName string, agents, targets []assignment.Point, verify bool) (*proto.AssignResponse, error) {
	start := time.Now()
	eventType := analytics.EventAssign
	if formationName != "" {
		eventType = analytics.EventAssignFormation
	}
	event := analytics.AssignmentEvent{Type: eventType, Formation: formationName, Agents: len(agents)}

	if s.cfg.MaxAgents > 0 && len(agents) > s.cfg.MaxAgents {
		err := fmt.Errorf("%w: %d agents, limit is %d", apperrors.ErrInvalidInput, len(agents), s.cfg.MaxAgents)
		s.observe("invalid", 0)
		s.track(ctx, event, err)
		return nil, err
	}

	_, span := tracing.StartChildSpan(ctx, "assignment.solve")
	span.SetAttr("agents", len(agents))
	m, hit, err := s.compute(ctx, agents, targets)
	span.SetAttr("cache_hit", hit)
	span.End()
	if err != nil {
		s.observe(outcome(err), 0)
		s.track(ctx, event, err)
		logger.FromContext(ctx).Debug("assignment failed", "formation", formationName, "agents", len(agents), "error", err)
		return nil, err
	}

	resp := &proto.AssignResponse{
		Formation:     formationName,
		Assignments:   m.Positions(targets),
		AgentTarget:   slices.Clone(m.AgentTarget),
		Proposals:     m.Proposals,
		Rejections:    m.Rejections,
		Displacements: m.Displacements,
		TotalCost:     m.TotalCost,
		CacheHit:      hit,
	}
	if verify {
		pairs, err := assignment.BlockingPairs(agents, targets, m.AgentTarget)
		if err != nil {
			return nil, fmt.Errorf("verifying matching: %w", err)
		}
		stable := len(pairs) == 0
		resp.Stable = &stable
		resp.BlockingPairs = pairs
		if !stable {
			logger.FromContext(ctx).Error("unstable matching produced", "blocking_pairs", len(pairs))
		}
	}

	elapsed := time.Since(start)
	status := "ok"
	if hit {
		status = "cached"
	}
	s.observe(status, elapsed)
	if s.metrics != nil {
		s.metrics.AssignmentAgents.Observe(float64(len(agents)))
		if !hit {
			s.metrics.AssignmentProposals.Observe(float64(m.Proposals))
		}
	}

	event.Proposals = m.Proposals
	event.Rejections = m.Rejections
	event.Displacements = m.Displacements
	event.TotalCost = m.TotalCost
	event.CacheHit = hit
	event.LatencyMs = float64(elapsed.Microseconds()) / 1000
	s.track(ctx, event, nil)
	return resp, nil
}

// publish hands a finished assignment to the result publisher.
func (s *Service) publish(ctx context.Context, resp *proto.AssignResponse) {
	if s.results == nil {
		return
	}
	s.results.Publish(dispatch.AssignmentResult{
		Formation:   resp.Formation,
		Assignments: resp.Assignments,
		TotalCost:   resp.TotalCost,
		RequestID:   logger.RequestID(ctx),
	})
}

func (s *Service) compute(ctx context.Context, agents, targets []assignment.Point) (*assignment.Matching, bool, error) {
	if s.cache == nil {
		m, err := assignment.Solve(agents, targets)
		return m, false, err
	}
	// Invalid instances never reach the cache.
	if err := assignment.Validate(agents, targets); err != nil {
		return nil, false, err
	}
	return s.cache.GetOrCompute(ctx, agents, targets, func() (*assignment.Matching, error) {
		return assignment.Solve(agents, targets)
	})
}

func (s *Service) observe(result string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.AssignmentsTotal.WithLabelValues(result).Inc()
	if elapsed > 0 {
		cacheStatus := "miss"
		if result == "cached" {
			cacheStatus = "hit"
		}
		s.metrics.AssignmentLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
	}
}

func (s *Service) track(ctx context.Context, event analytics.AssignmentEvent, err error) {
	if s.tracker == nil {
		return
	}
	if err != nil {
		event.Type = analytics.EventAssignError
		event.Error = err.Error()
	}
	event.RequestID = logger.RequestID(ctx)
	s.tracker.Track(event)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, apperrors.ErrMatchingExhausted):
		return "exhausted"
	default:
		return "error"
	}
}
