package main

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/proto"
)

func TestBuildBodies(t *testing.T) {
	bodies, err := buildBodies(rand.New(rand.NewSource(7)), 3, 4, 10, false)
	require.NoError(t, err)
	require.Len(t, bodies, 3)

	var req proto.AssignRequest
	require.NoError(t, json.Unmarshal(bodies[0], &req))
	assert.Len(t, req.Agents, 4)
	assert.Len(t, req.Targets, 4)
	for _, p := range append(req.Agents, req.Targets...) {
		assert.LessOrEqual(t, p.X, 10.0)
		assert.GreaterOrEqual(t, p.Y, -10.0)
	}

	agentsOnly, err := buildBodies(rand.New(rand.NewSource(7)), 1, 2, 10, true)
	require.NoError(t, err)
	assert.NotContains(t, string(agentsOnly[0]), "targets")
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "http://h/api/v1/assign", Config{BaseURL: "http://h"}.endpoint())
	assert.Equal(t, "http://h/api/v1/formations/kickoff/assign", Config{BaseURL: "http://h", Formation: "kickoff"}.endpoint())
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 99))
	assert.Equal(t, time.Duration(0), percentile(nil, 50))
}

func TestRecordRequest(t *testing.T) {
	s := NewStats()
	s.RecordRequest(time.Millisecond, 200, true, nil)
	s.RecordRequest(time.Millisecond, 400, false, nil)
	s.RecordRequest(0, 0, false, assert.AnError)
	assert.Equal(t, int64(3), s.totalRequests.Load())
	assert.Equal(t, int64(1), s.successCount.Load())
	assert.Equal(t, int64(2), s.errorCount.Load())
	assert.Equal(t, int64(1), s.cacheHits.Load())
	assert.Len(t, s.latencies, 2)
}
