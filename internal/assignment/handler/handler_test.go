package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment/service"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/formation"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/proto"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := formation.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), formation.Formation{
		Name:  "kickoff",
		Slots: []assignment.Point{{X: -14, Y: 0}, {X: -9, Y: -5}, {X: -9, Y: 5}},
	}))
	svc := service.New(config.AssignmentConfig{
		MaxAgents:        16,
		MaxBatchSize:     4,
		BatchConcurrency: 2,
		StoreTimeout:     time.Second,
	}, service.Deps{Formations: store})

	mux := http.NewServeMux()
	New(svc).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAssignEndpoint(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "three agents no contention",
			body:       `{"agents":[[0,0],[10,0],[5,5]],"targets":[[1,1],[9,1],[5,6]],"verify":true}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "object points",
			body:       `{"agents":[{"x":0,"y":0}],"targets":[{"x":3,"y":4}]}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "length mismatch",
			body:       `{"agents":[[0,0],[1,1]],"targets":[[0,0]]}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid input",
		},
		{
			name:       "empty",
			body:       `{"agents":[],"targets":[]}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid input",
		},
		{
			name:       "malformed json",
			body:       `{"agents":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid JSON body",
		},
		{
			name:       "unknown field",
			body:       `{"agents":[[0,0]],"targets":[[0,0]],"limit":3}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid JSON body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, srv, http.MethodPost, "/api/v1/assign", tt.body)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			if tt.wantError != "" {
				body := decodeBody[map[string]string](t, resp)
				assert.Contains(t, body["error"], tt.wantError)
			}
		})
	}
}

func TestAssignEndpointBody(t *testing.T) {
	srv := newServer(t)
	resp := do(t, srv, http.MethodPost, "/api/v1/assign",
		`{"agents":[[0,0],[10,0],[5,5]],"targets":[[1,1],[9,1],[5,6]],"verify":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[proto.AssignResponse](t, resp)
	assert.Equal(t, map[int]assignment.Point{1: {X: 1, Y: 1}, 2: {X: 9, Y: 1}, 3: {X: 5, Y: 6}}, body.Assignments)
	assert.Equal(t, 3, body.Proposals)
	assert.Zero(t, body.Rejections)
	require.NotNil(t, body.Stable)
	assert.True(t, *body.Stable)
}

func TestAssignBatchEndpoint(t *testing.T) {
	srv := newServer(t)
	resp := do(t, srv, http.MethodPost, "/api/v1/assign/batch",
		`{"instances":[{"agents":[[0,0]],"targets":[[1,1]]},{"agents":[[0,0],[2,0]],"targets":[[2,1],[0,1]]}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[proto.BatchAssignResponse](t, resp)
	require.Len(t, body.Results, 2)
	assert.Equal(t, assignment.Point{X: 0, Y: 1}, body.Results[1].Assignments[1])

	resp = do(t, srv, http.MethodPost, "/api/v1/assign/batch", `{"instances":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFormationEndpoints(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodPost, "/api/v1/formations/kickoff/assign", `{"agents":[[-13,1],[-8,-4],[-8,6]]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assigned := decodeBody[proto.AssignResponse](t, resp)
	assert.Equal(t, "kickoff", assigned.Formation)
	assert.Equal(t, assignment.Point{X: -14, Y: 0}, assigned.Assignments[1])

	resp = do(t, srv, http.MethodPost, "/api/v1/formations/missing/assign", `{"agents":[[0,0]]}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/v1/formations", `{"name":"line","slots":[[0,0],[1,0]]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/api/v1/formations/line", resp.Header.Get("Location"))

	resp = do(t, srv, http.MethodPost, "/api/v1/formations", `{"name":"line","slots":[[0,0]]}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/v1/formations", `{"name":"Bad Name","slots":[[0,0]]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/api/v1/formations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[proto.FormationListResponse](t, resp)
	assert.Equal(t, 2, list.Total)

	resp = do(t, srv, http.MethodGet, "/api/v1/formations/line", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[proto.FormationResponse](t, resp)
	assert.Equal(t, []assignment.Point{{X: 0, Y: 0}, {X: 1, Y: 0}}, got.Slots)

	resp = do(t, srv, http.MethodDelete, "/api/v1/formations/line", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/api/v1/formations/line", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCacheEndpointsWithoutCache(t *testing.T) {
	srv := newServer(t)
	resp := do(t, srv, http.MethodGet, "/api/v1/cache/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/v1/cache/invalidate", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

type stalledStore struct {
	formation.Store
}

func (stalledStore) Get(ctx context.Context, _ string) (*formation.Formation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFormationLookupTimeout(t *testing.T) {
	svc := service.New(config.AssignmentConfig{
		MaxAgents:    16,
		StoreTimeout: 10 * time.Millisecond,
	}, service.Deps{Formations: stalledStore{Store: formation.NewMemoryStore()}})
	mux := http.NewServeMux()
	New(svc).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp := do(t, srv, http.MethodGet, "/api/v1/formations/kickoff", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "operation timed out", body["error"])
}
