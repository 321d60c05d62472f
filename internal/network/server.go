package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"tagrelay/internal/metrics"
)

// contextKey is a type alias for context keys passed to server handlers.
type contextKey int

const (
	// ExchangeContextKey is the name of the context key holding the 1-based sequence number of
	// the connection being handled, as a uint64. It lets handlers correlate log lines belonging
	// to the same exchange.
	ExchangeContextKey contextKey = iota
)

// acceptBackoff is the pause after a failed accept, so that a persistent accept error does not
// spin the loop.
const acceptBackoff = 100 * time.Millisecond

// ServerHandler is a common interface that wraps logic for handling incoming connections.
type ServerHandler interface {
	// Handle describes the routine to run when the server accepts a connection from a client.
	// The passed conn is a TCPConn. The server closes the connection once Handle returns.
	Handle(ctx context.Context, conn net.Conn) error

	// ConsumeError is a callback invoked when the server fails to accept a connection, or when
	// the handler returns an error.
	ConsumeError(ctx context.Context, err error)
}

// TCPServer describes a server that listens on a TCP address and handles one connection at a
// time, in accept order.
type TCPServer struct {
	addr     string
	cxHook   metrics.ConnectionLifecycleHook
	opts     TCPServerOpts
	listener net.Listener
	mutex    sync.Mutex
}

// TCPServerOpts formalizes TCP server configuration options.
type TCPServerOpts struct {
	// ReadTimeout is the maximum amount of time the server will wait to read from a client
	// after it has accepted its connection. Zero waits indefinitely.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum amount of time the server is allowed to take to write to a
	// client. Zero waits indefinitely.
	WriteTimeout time.Duration
}

// NewTCPServer creates a TCP server for the specified address. It does not bind until Listen or
// ListenAndServe is called.
func NewTCPServer(addr string, cxHook metrics.ConnectionLifecycleHook, opts TCPServerOpts) *TCPServer {
	return &TCPServer{addr: addr, cxHook: cxHook, opts: opts}
}

// Listen binds the server to its configured address.
func (s *TCPServer) Listen(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener != nil {
		return fmt.Errorf("server: already listening: addr=%s", s.listener.Addr())
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen on TCP socket: addr=%s: %w", s.addr, err)
	}

	s.listener = ln

	return nil
}

// Addr returns the bound listening address, or nil if the server is not listening.
func (s *TCPServer) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// ListenAndServe binds the server and serves connections until the context is canceled.
func (s *TCPServer) ListenAndServe(ctx context.Context, handler ServerHandler) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}

	return s.Serve(ctx, handler)
}

// Serve accepts and handles connections one at a time until the context is canceled, at which
// point the listener is closed and nil is returned. Failures of individual connections are passed
// to the handler's ConsumeError and never stop the loop.
func (s *TCPServer) Serve(ctx context.Context, handler ServerHandler) error {
	s.mutex.Lock()
	ln := s.listener
	s.mutex.Unlock()

	if ln == nil {
		return fmt.Errorf("server: Serve called before Listen: addr=%s", s.addr)
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()

	for exchange := uint64(1); ; {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("server: listener closed: %w", err)
			}

			s.cxHook.EmitConnectionError()
			handler.ConsumeError(ctx, fmt.Errorf("server: error accepting connection: %w", err))
			time.Sleep(acceptBackoff)

			continue
		}

		s.serveConn(context.WithValue(ctx, ExchangeContextKey, exchange), conn, handler)
		exchange++
	}
}

// Close stops the server by closing its listener.
func (s *TCPServer) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Close()
}

// serveConn runs the handler for a single accepted connection and always closes it.
func (s *TCPServer) serveConn(ctx context.Context, conn net.Conn, handler ServerHandler) {
	tcpConn := NewTCPConn(conn, s.opts.ReadTimeout, s.opts.WriteTimeout)
	s.cxHook.EmitConnectionOpen(0, tcpConn.RemoteAddr())

	defer func() {
		s.cxHook.EmitConnectionClose(tcpConn.RemoteAddr())
		tcpConn.Close()
	}()

	if err := handler.Handle(ctx, tcpConn); err != nil {
		handler.ConsumeError(ctx, err)
	}
}
