// Package server exposes the gateway to other processes over JSON-RPC 2.0:
// plain HTTP POSTs on /jsonrpc and a push-enabled websocket on /ws, both
// behind a bearer token.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/warpdl/warpnet/pkg/logger"
)

const (
	rpcPath = "/jsonrpc"
	wsPath  = "/ws"
)

// Server serves an RPCServer over TCP.
type Server struct {
	rpc *RPCServer
	srv *http.Server
	log logger.Logger

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a Server for rs.
func NewServer(rs *RPCServer, l logger.Logger) *Server {
	s := &Server{rpc: rs, log: logger.OrNop(l)}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(rpcPath, requireToken(s.rpc.secret, s.log, s.rpc.bridge))
	mux.Handle(wsPath, requireToken(s.rpc.secret, s.log, http.HandlerFunc(s.rpc.serveWS)))
	return mux
}

// Listen opens a TCP listener on addr. Non-loopback addresses are allowed
// but logged, since the token is sent in clear text.
func (s *Server) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if ta, ok := ln.Addr().(*net.TCPAddr); ok && !ta.IP.IsLoopback() {
		s.log.Warning("Control server listening on non-loopback address %s", ta)
	}
	return ln, nil
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.log.Info("Control server listening on %s", ln.Addr())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Addr returns the bound address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown stops accepting connections, waits for active ones until ctx
// ends and releases the RPC bridge.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.rpc.Close()
	if err != nil {
		return fmt.Errorf("shutdown control server: %w", err)
	}
	return nil
}
