// Package rpc provides a lightweight JSON-over-TCP RPC framework used by
// robot controllers that keep a persistent connection to the assigner.
//
// Protocol: newline-delimited JSON over a persistent TCP connection.
//
// Example server:
//
//	s := rpc.NewServer(5 * time.Second)
//	s.Register("AssignmentService.Assign", func(ctx context.Context, req json.RawMessage) (any, error) {
//	    var in proto.AssignRequest
//	    if err := json.Unmarshal(req, &in); err != nil {
//	        return nil, err
//	    }
//	    return svc.Assign(ctx, in)
//	})
//	s.Serve(":9000")
//
// Example client:
//
//	c, _ := rpc.Dial("localhost:9000")
//	var resp proto.AssignResponse
//	c.Call(ctx, "AssignmentService.Assign", &proto.AssignRequest{...}, &resp)
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/errors"
)

// HandlerFunc processes an RPC request and returns a response or error.
type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

// Request is the wire format for an RPC request.
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Response is the wire format for an RPC response.
type Response struct {
	ID    string `json:"id"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Server is a lightweight JSON-over-TCP RPC server.
type Server struct {
	handlers    map[string]HandlerFunc
	listener    net.Listener
	callTimeout time.Duration
	observe     func(method string, err error)
	logger      *slog.Logger
	mu          sync.RWMutex
	wg          sync.WaitGroup
	conns       map[net.Conn]struct{}
	done        chan struct{}
	stopOnce    sync.Once
}

// NewServer creates a new RPC server. callTimeout bounds each handler call;
// zero means no limit.
func NewServer(callTimeout time.Duration) *Server {
	return &Server{
		handlers:    make(map[string]HandlerFunc),
		callTimeout: callTimeout,
		logger:      slog.Default().With("component", "rpc-server"),
		conns:       make(map[net.Conn]struct{}),
		done:        make(chan struct{}),
	}
}

// Observe installs a hook called after every dispatched request.
func (s *Server) Observe(fn func(method string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observe = fn
}

// Register adds a handler for the given RPC method name.
// Method names follow the "Service.Method" convention.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

// Serve starts accepting TCP connections on the given address.
// It blocks until Stop is called.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ln)
}

// ServeListener accepts connections from ln until Stop is called.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return
		}

		resp := Response{ID: req.ID}
		data, err := s.dispatch(req)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Data = data
		}
		s.mu.RLock()
		observe := s.observe
		s.mu.RUnlock()
		if observe != nil {
			observe(req.Method, err)
		}

		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req Request) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "method", req.Method, "panic", r, "stack", string(debug.Stack()))
			data, err = nil, fmt.Errorf("%w: %s failed", apperrors.ErrInternal, req.Method)
		}
	}()

	s.mu.RLock()
	handler, exists := s.handlers[req.Method]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unknown method: %s", req.Method)
	}

	ctx := context.Background()
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}
	return handler(ctx, req.Params)
}

// MethodCount returns the number of registered methods.
func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to exit. Calls after the first are no-ops.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Info("rpc server stopped")
	})
}
