// Package dispatch streams finished assignments to the Kafka topic that
// motion controllers consume. Results are buffered and written in batches.
package dispatch

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/metrics"
)

// AssignmentResult is the record written to the assignments topic.
type AssignmentResult struct {
	Formation   string                   `json:"formation,omitempty"`
	Assignments map[int]assignment.Point `json:"assignments"`
	TotalCost   float64                  `json:"total_cost"`
	RequestID   string                   `json:"request_id,omitempty"`
	Timestamp   time.Time                `json:"timestamp"`
}

// key groups results of one formation on one partition.
func (r AssignmentResult) key() string {
	if r.Formation != "" {
		return r.Formation
	}
	return "adhoc-" + strconv.Itoa(len(r.Assignments))
}

// BatchPublisher flushes when the buffer reaches batchSize results or
// every flushInterval, whichever comes first. A failed batch goes back to
// the front of the buffer, which is capped at three batches.
type BatchPublisher struct {
	publisher     kafka.Publisher
	metrics       *metrics.Metrics
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	flushCh       chan struct{}
	logger        *slog.Logger
	done          chan struct{}
}

// NewBatchPublisher creates a BatchPublisher. m may be nil.
func NewBatchPublisher(publisher kafka.Publisher, batchSize int, flushInterval time.Duration, m *metrics.Metrics) *BatchPublisher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &BatchPublisher{
		publisher:     publisher,
		metrics:       m,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flushCh:       make(chan struct{}, 1),
		logger:        slog.Default().With("component", "assignment-publisher"),
		done:          make(chan struct{}),
	}
}

// Start launches the flush loop. When ctx is cancelled the loop makes one
// last flush with a short deadline and exits.
func (p *BatchPublisher) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.flush(ctx)
			case <-p.flushCh:
				p.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				p.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	p.logger.Info("assignment publisher started",
		"batch_size", p.batchSize,
		"flush_interval", p.flushInterval,
	)
}

// Publish queues a result. It never blocks on Kafka.
func (p *BatchPublisher) Publish(result AssignmentResult) {
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}
	p.mu.Lock()
	p.buffer = append(p.buffer, kafka.Event{Key: result.key(), Value: result})
	full := len(p.buffer) >= p.batchSize
	p.mu.Unlock()

	if full {
		select {
		case p.flushCh <- struct{}{}:
		default:
		}
	}
}

// Close waits for the flush loop to exit. Cancel the Start context first.
func (p *BatchPublisher) Close() {
	<-p.done
}

// BufferLen returns the number of results waiting to be flushed.
func (p *BatchPublisher) BufferLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

func (p *BatchPublisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.buffer
	p.buffer = make([]kafka.Event, 0, p.batchSize)
	p.mu.Unlock()

	if err := p.publisher.PublishBatch(ctx, batch); err != nil {
		p.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		p.count("error", len(batch))

		p.mu.Lock()
		p.buffer = append(batch, p.buffer...)
		if limit := p.batchSize * 3; len(p.buffer) > limit {
			dropped := len(p.buffer) - limit
			p.buffer = p.buffer[:limit]
			p.count("dropped", dropped)
			p.logger.Warn("buffer overflow, results dropped", "dropped", dropped)
		}
		p.mu.Unlock()
		return
	}
	p.count("ok", len(batch))
	p.logger.Debug("batch flushed", "results", len(batch))
}

func (p *BatchPublisher) count(status string, n int) {
	if p.metrics != nil {
		p.metrics.ResultsPublishedTotal.WithLabelValues(status).Add(float64(n))
	}
}
