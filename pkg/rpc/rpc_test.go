package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoParams struct {
	Agents int `json:"agents"`
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer(time.Second)
	s.Register("Test.Echo", func(ctx context.Context, req json.RawMessage) (any, error) {
		var p echoParams
		if err := json.Unmarshal(req, &p); err != nil {
			return nil, err
		}
		return echoParams{Agents: p.Agents * 2}, nil
	})
	s.Register("Test.Fail", func(ctx context.Context, req json.RawMessage) (any, error) {
		return nil, errors.New("invalid input: 2 agents but 3 targets")
	})
	s.Register("Test.Panic", func(ctx context.Context, req json.RawMessage) (any, error) {
		var agents []int
		return agents[3], nil
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.ServeListener(ln)
	t.Cleanup(s.Stop)
	return s, ln.Addr().String()
}

func TestRoundTrip(t *testing.T) {
	s, addr := startServer(t)
	var mu sync.Mutex
	observed := map[string]int{}
	s.Observe(func(method string, err error) {
		mu.Lock()
		observed[method]++
		mu.Unlock()
	})

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out echoParams
	require.NoError(t, c.Call(ctx, "Test.Echo", echoParams{Agents: 5}, &out))
	assert.Equal(t, 10, out.Agents)

	err = c.Call(ctx, "Test.Fail", nil, nil)
	assert.ErrorContains(t, err, "2 agents but 3 targets")

	err = c.Call(ctx, "Test.Missing", nil, nil)
	assert.ErrorContains(t, err, "unknown method")

	assert.Equal(t, 3, s.MethodCount())
	mu.Lock()
	assert.Equal(t, 1, observed["Test.Echo"])
	mu.Unlock()
}

func TestConcurrentCalls(t *testing.T) {
	_, addr := startServer(t)
	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var out echoParams
			if assert.NoError(t, c.Call(context.Background(), "Test.Echo", echoParams{Agents: n}, &out)) {
				assert.Equal(t, 2*n, out.Agents)
			}
		}(i)
	}
	wg.Wait()
}

func TestHandlerPanicKeepsConnection(t *testing.T) {
	_, addr := startServer(t)
	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = c.Call(ctx, "Test.Panic", nil, nil)
	assert.ErrorContains(t, err, "internal error: Test.Panic failed")

	var out echoParams
	require.NoError(t, c.Call(ctx, "Test.Echo", echoParams{Agents: 4}, &out))
	assert.Equal(t, 8, out.Agents)
}

func TestStopIsIdempotent(t *testing.T) {
	s, addr := startServer(t)
	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
}
