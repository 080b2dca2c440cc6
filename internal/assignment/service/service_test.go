package service

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/rpc"
)

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.AssignmentEvent
}

func (r *recordingTracker) Track(e analytics.AssignmentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingTracker) all() []analytics.AssignmentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]analytics.AssignmentEvent(nil), r.events...)
}

type recordingResults struct {
	mu      sync.Mutex
	results []dispatch.AssignmentResult
}

func (r *recordingResults) Publish(res dispatch.AssignmentResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recordingResults) all() []dispatch.AssignmentResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.results)
}

type mapBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (b *mapBackend) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

func (b *mapBackend) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = data
	return nil
}

func (b *mapBackend) FlushByPattern(context.Context, string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := int64(len(b.data))
	b.data = map[string][]byte{}
	return n, nil
}

type fixture struct {
	svc     *Service
	tracker *recordingTracker
	results *recordingResults
	metrics *metrics.Metrics
}

func testConfig() config.AssignmentConfig {
	return config.AssignmentConfig{
		MaxAgents:        8,
		MaxBatchSize:     4,
		BatchConcurrency: 2,
		CacheEnabled:     true,
		StoreTimeout:     time.Second,
	}
}

func newFixture(t *testing.T, cfg config.AssignmentConfig) *fixture {
	t.Helper()
	store := formation.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), formation.Formation{
		Name:  "kickoff",
		Slots: []assignment.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 5, Y: 5}},
	}))
	m := metrics.New(prometheus.NewRegistry())
	f := &fixture{tracker: &recordingTracker{}, results: &recordingResults{}, metrics: m}
	f.svc = New(cfg, Deps{
		Formations: store,
		Cache:      cache.New(&mapBackend{data: map[string][]byte{}}, time.Minute, m),
		Tracker:    f.tracker,
		Results:    f.results,
		Metrics:    m,
	})
	return f
}

func TestAssign(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := logger.WithRequestID(context.Background(), "req-1")
	req := proto.AssignRequest{
		Agents:  []assignment.Point{{X: 0, Y: 0}, {X: 1, Y: 0}},
		Targets: []assignment.Point{{X: 0, Y: 1}, {X: 1, Y: 1}},
		Verify:  true,
	}

	resp, err := f.svc.Assign(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, map[int]assignment.Point{1: {X: 0, Y: 1}, 2: {X: 1, Y: 1}}, resp.Assignments)
	assert.Equal(t, []int{0, 1}, resp.AgentTarget)
	assert.False(t, resp.CacheHit)
	require.NotNil(t, resp.Stable)
	assert.True(t, *resp.Stable)
	assert.InDelta(t, 2.0, resp.TotalCost, 1e-9)

	again, err := f.svc.Assign(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, resp.Assignments, again.Assignments)

	events := f.tracker.all()
	require.Len(t, events, 2)
	assert.Equal(t, analytics.EventAssign, events[0].Type)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, 2, events[0].Agents)
	assert.True(t, events[1].CacheHit)

	require.Len(t, f.results.results, 2)
	assert.Equal(t, "req-1", f.results.results[0].RequestID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AssignmentsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AssignmentsTotal.WithLabelValues("cached")))
}

func TestAssignErrors(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.svc.Assign(ctx, proto.AssignRequest{
		Agents:  []assignment.Point{{X: 0, Y: 0}},
		Targets: []assignment.Point{{X: 0, Y: 0}, {X: 1, Y: 1}},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.Assign(ctx, proto.AssignRequest{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	big := make([]assignment.Point, 9)
	_, err = f.svc.Assign(ctx, proto.AssignRequest{Agents: big, Targets: big})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	events := f.tracker.all()
	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, analytics.EventAssignError, e.Type)
		assert.NotEmpty(t, e.Error)
	}
	assert.Empty(t, f.results.results)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.AssignmentsTotal.WithLabelValues("invalid")))
}

func TestAssignWithoutCache(t *testing.T) {
	cfg := testConfig()
	cfg.CacheEnabled = false
	f := newFixture(t, cfg)
	req := proto.AssignRequest{Agents: []assignment.Point{{X: 0, Y: 0}}, Targets: []assignment.Point{{X: 3, Y: 4}}}

	for range 2 {
		resp, err := f.svc.Assign(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, resp.CacheHit)
		assert.InDelta(t, 5.0, resp.TotalCost, 1e-9)
	}
	_, err := f.svc.CacheStats()
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
}

func TestAssignFormation(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	resp, err := f.svc.AssignFormation(ctx, proto.FormationAssignRequest{
		Formation: "kickoff",
		Agents:    []assignment.Point{{X: 9, Y: 1}, {X: 1, Y: 1}, {X: 5, Y: 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, "kickoff", resp.Formation)
	assert.Equal(t, map[int]assignment.Point{1: {X: 10, Y: 0}, 2: {X: 0, Y: 0}, 3: {X: 5, Y: 5}}, resp.Assignments)

	_, err = f.svc.AssignFormation(ctx, proto.FormationAssignRequest{Formation: "missing", Agents: []assignment.Point{{X: 0, Y: 0}}})
	assert.ErrorIs(t, err, apperrors.ErrFormationNotFound)

	_, err = f.svc.AssignFormation(ctx, proto.FormationAssignRequest{Formation: "kickoff", Agents: []assignment.Point{{X: 0, Y: 0}}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.EqualError(t, err, `invalid input: formation "kickoff" has 3 slots, got 1 agents`)
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatusCode(err))

	events := f.tracker.all()
	require.Len(t, events, 3)
	assert.Equal(t, analytics.EventAssignFormation, events[0].Type)
	assert.Equal(t, "kickoff", events[0].Formation)
	assert.Equal(t, analytics.EventAssignError, events[1].Type)
}

func TestAssignBatch(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	inst := func(offset float64) proto.AssignRequest {
		return proto.AssignRequest{
			Agents:  []assignment.Point{{X: offset, Y: 0}, {X: offset + 1, Y: 0}},
			Targets: []assignment.Point{{X: offset + 1, Y: 1}, {X: offset, Y: 1}},
		}
	}

	resp, err := f.svc.AssignBatch(ctx, proto.BatchAssignRequest{
		Instances: []proto.AssignRequest{inst(0), inst(10), inst(20)},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	for i, r := range resp.Results {
		off := float64(i * 10)
		assert.Equal(t, assignment.Point{X: off, Y: 1}, r.Assignments[1])
		assert.Equal(t, assignment.Point{X: off + 1, Y: 1}, r.Assignments[2])
	}

	_, err = f.svc.AssignBatch(ctx, proto.BatchAssignRequest{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.AssignBatch(ctx, proto.BatchAssignRequest{
		Instances: []proto.AssignRequest{inst(0), inst(1), inst(2), inst(3), inst(4)},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	bad := proto.AssignRequest{Agents: []assignment.Point{{X: 0, Y: 0}}}
	_, err = f.svc.AssignBatch(ctx, proto.BatchAssignRequest{Instances: []proto.AssignRequest{inst(0), bad}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.ErrorContains(t, err, "instance 1")
}

func TestAssignBatchPublishesOnlyOnSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.BatchConcurrency = 1
	f := newFixture(t, cfg)
	ctx := context.Background()
	good := proto.AssignRequest{
		Agents:  []assignment.Point{{X: 0, Y: 0}, {X: 1, Y: 0}},
		Targets: []assignment.Point{{X: 0, Y: 1}, {X: 1, Y: 1}},
	}
	noTargets := proto.AssignRequest{Agents: []assignment.Point{{X: 0, Y: 0}}}

	_, err := f.svc.AssignBatch(ctx, proto.BatchAssignRequest{Instances: []proto.AssignRequest{good, noTargets}})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.ErrorContains(t, err, "instance 1")
	assert.Empty(t, f.results.all(), "failed batch must not publish any result")

	resp, err := f.svc.AssignBatch(ctx, proto.BatchAssignRequest{Instances: []proto.AssignRequest{good, good}})
	require.NoError(t, err)
	published := f.results.all()
	require.Len(t, published, 2)
	for i, res := range published {
		assert.Equal(t, resp.Results[i].Assignments, res.Assignments)
	}
}

// blockingStore holds every call until the caller's context ends.
type blockingStore struct {
	formation.Store
}

func (blockingStore) Get(ctx context.Context, _ string) (*formation.Formation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) List(ctx context.Context) ([]formation.Formation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSlowRegistryTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.StoreTimeout = 10 * time.Millisecond
	svc := New(cfg, Deps{Formations: blockingStore{Store: formation.NewMemoryStore()}})
	ctx := context.Background()

	_, err := svc.GetFormation(ctx, "kickoff")
	require.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatusCode(err))
	assert.Equal(t, "operation timed out", apperrors.PublicMessage(err))

	_, err = svc.ListFormations(ctx)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)

	_, err = svc.AssignFormation(ctx, proto.FormationAssignRequest{Formation: "kickoff", Agents: []assignment.Point{{X: 0, Y: 0}}})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
}

func TestFormationCRUD(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	created, err := f.svc.CreateFormation(ctx, proto.FormationRequest{Name: "line", Slots: []assignment.Point{{X: 0, Y: 0}, {X: 1, Y: 0}}})
	require.NoError(t, err)
	assert.Equal(t, "line", created.Name)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.FormationsStored))

	_, err = f.svc.CreateFormation(ctx, proto.FormationRequest{Name: "line", Slots: []assignment.Point{{X: 0, Y: 0}}})
	assert.ErrorIs(t, err, apperrors.ErrFormationExists)

	_, err = f.svc.CreateFormation(ctx, proto.FormationRequest{Name: "huge", Slots: make([]assignment.Point, 9)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	got, err := f.svc.GetFormation(ctx, "line")
	require.NoError(t, err)
	assert.Len(t, got.Slots, 2)

	list, err := f.svc.ListFormations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)

	require.NoError(t, f.svc.DeleteFormation(ctx, "line"))
	assert.ErrorIs(t, f.svc.DeleteFormation(ctx, "line"), apperrors.ErrFormationNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FormationsStored))
}

func TestCacheOperations(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	_, err := f.svc.Assign(ctx, proto.AssignRequest{Agents: []assignment.Point{{X: 0, Y: 0}}, Targets: []assignment.Point{{X: 1, Y: 1}}})
	require.NoError(t, err)

	stats, err := f.svc.CacheStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Misses)

	deleted, err := f.svc.InvalidateCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestRegisterRPC(t *testing.T) {
	f := newFixture(t, testConfig())
	srv := rpc.NewServer(time.Second)
	f.svc.RegisterRPC(srv)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.ServeListener(ln)
	t.Cleanup(srv.Stop)

	client, err := rpc.Dial(ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var resp proto.AssignResponse
	require.NoError(t, client.Call(ctx, proto.MethodAssignFormation, proto.FormationAssignRequest{
		Formation: "kickoff",
		Agents:    []assignment.Point{{X: 0, Y: 1}, {X: 9, Y: 1}, {X: 5, Y: 6}},
	}, &resp))
	assert.Equal(t, assignment.Point{X: 0, Y: 0}, resp.Assignments[1])

	var batch proto.BatchAssignResponse
	require.NoError(t, client.Call(ctx, proto.MethodAssignBatch, proto.BatchAssignRequest{
		Instances: []proto.AssignRequest{{Agents: []assignment.Point{{X: 0, Y: 0}}, Targets: []assignment.Point{{X: 2, Y: 2}}}},
	}, &batch))
	require.Len(t, batch.Results, 1)

	err = client.Call(ctx, proto.MethodAssign, proto.AssignRequest{Agents: []assignment.Point{{X: 0, Y: 0}}}, &resp)
	assert.ErrorContains(t, err, "invalid input")
}
