package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/metrics"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (p *fakePublisher) Publish(ctx context.Context, event kafka.Event) error {
	return p.PublishBatch(ctx, []kafka.Event{event})
}

func (p *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, events)
	return nil
}

func (p *fakePublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func result(formation string) AssignmentResult {
	return AssignmentResult{
		Formation:   formation,
		Assignments: map[int]assignment.Point{1: {X: 0, Y: 1}},
	}
}

func TestFlushOnBatchSize(t *testing.T) {
	pub := &fakePublisher{}
	m := metrics.New(prometheus.NewRegistry())
	p := NewBatchPublisher(pub, 3, time.Hour, m)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	for range 3 {
		p.Publish(result("kickoff"))
	}
	require.Eventually(t, func() bool { return pub.published() == 3 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, p.BufferLen())

	cancel()
	p.Close()
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ResultsPublishedTotal.WithLabelValues("ok")))
	assert.Equal(t, "kickoff", pub.batches[0][0].Key)
	ar := pub.batches[0][0].Value.(AssignmentResult)
	assert.False(t, ar.Timestamp.IsZero())
}

func TestFlushOnInterval(t *testing.T) {
	pub := &fakePublisher{}
	p := NewBatchPublisher(pub, 100, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		p.Close()
	}()
	p.Start(ctx)

	p.Publish(result(""))
	require.Eventually(t, func() bool { return pub.published() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "adhoc-1", pub.batches[0][0].Key)
}

func TestFinalFlushOnShutdown(t *testing.T) {
	pub := &fakePublisher{}
	p := NewBatchPublisher(pub, 100, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	p.Publish(result("line"))
	p.Publish(result("line"))

	cancel()
	p.Close()
	assert.Equal(t, 2, pub.published())
}

func TestFailedBatchIsRequeuedAndCapped(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	m := metrics.New(prometheus.NewRegistry())
	p := NewBatchPublisher(pub, 2, time.Hour, m)

	for range 8 {
		p.Publish(result("wedge"))
	}
	p.flush(context.Background())
	assert.Equal(t, 6, p.BufferLen())
	assert.Equal(t, 8.0, testutil.ToFloat64(m.ResultsPublishedTotal.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResultsPublishedTotal.WithLabelValues("dropped")))

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	p.flush(context.Background())
	assert.Zero(t, p.BufferLen())
	assert.Equal(t, 6, pub.published())
}
