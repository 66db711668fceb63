// Package grpc is a small JSON-over-TCP RPC layer. The miner serves
// Miner.Mine on it for batch clients that keep one connection open across
// many runs, and the pfpgrowth CLI uses the client for -remote.
//
// Each message is one JSON value: the client writes a Request, the server
// answers with a Response carrying the same ID. Requests on a connection
// are handled in order.
//
//	s := grpc.NewServer()
//	s.Register(proto.MethodMine, mineHandler)
//	go s.Serve(":9100")
//	defer s.Stop()
//
//	c, _ := grpc.Dial(ctx, "localhost:9100")
//	var resp proto.MineResponse
//	err := c.Call(ctx, proto.MethodMine, proto.MineRequest{Dataset: "groceries"}, &resp)
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/errors"
)

// HandlerFunc serves one method. The returned value is JSON-encoded into
// Response.Data.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Response answers the Request with the same ID. Code is set alongside
// Error and carries the HTTP status the failure maps to.
type Response struct {
	ID    string `json:"id"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  int    `json:"code,omitempty"`
}

type Server struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
	logger *slog.Logger
}

func NewServer() *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handlers: make(map[string]HandlerFunc),
		ctx:      ctx,
		cancel:   cancel,
		logger:   slog.Default().With("component", "rpc-server"),
	}
}

// Register binds method, by convention "Service.Method", to h.
func (s *Server) Register(method string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Serve listens on addr and serves until Stop is called.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ln)
}

// ServeListener accepts connections from ln until Stop is called, then
// returns nil.
func (s *Server) ServeListener(ln net.Listener) error {
	defer context.AfterFunc(s.ctx, func() { ln.Close() })()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String(), "methods", s.MethodCount())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	// Closing the connection unblocks the decoder on Stop.
	defer context.AfterFunc(s.ctx, func() { conn.Close() })()

	log := s.logger.With("remote", conn.RemoteAddr().String())
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := s.dispatch(req)
		if err := enc.Encode(resp); err != nil {
			log.Warn("writing response failed", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req Request) (resp Response) {
	resp.ID = req.ID
	s.mu.RLock()
	h, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		resp.Error = "unknown method: " + req.Method
		resp.Code = http.StatusNotFound
		return resp
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("rpc handler panicked", "method", req.Method, "panic", p)
			resp.Data = nil
			resp.Error = "internal error"
			resp.Code = http.StatusInternalServerError
		}
	}()
	data, err := h(s.ctx, req.Params)
	if err != nil {
		resp.Error = err.Error()
		resp.Code = apperrors.HTTPStatusCode(err)
		return resp
	}
	resp.Data = data
	return resp
}

// Stop closes the listener, cancels in-flight handlers and waits for every
// connection to finish.
func (s *Server) Stop() {
	s.cancel()
	s.conns.Wait()
	s.logger.Info("rpc server stopped")
}
