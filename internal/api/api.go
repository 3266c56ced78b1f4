// Package api provides HTTP handlers and the main API server logic for MessagePipe.
//
// It exposes RESTful endpoints for sending messages, driving typing
// indicators, inspecting engine status, and streaming change events over a
// websocket. The API integrates with the send, helper, and notify modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/helper"
	"github.com/BTreeMap/MessagePipe/internal/send"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// StatusFunc reports a point-in-time snapshot of engine state for the status
// endpoint.
type StatusFunc func() interface{}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr   string
	Status StatusFunc
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStatusFunc sets the engine status snapshot provider.
func WithStatusFunc(fn StatusFunc) Option {
	return func(o *Opts) { o.Status = fn }
}

// Server hosts the MessagePipe HTTP API.
type Server struct {
	outbox *send.Outbox
	helper *helper.Channel
	stream http.Handler
	status StatusFunc

	httpServer *http.Server
}

// NewServer creates an API server. The stream handler may be nil when event
// streaming is disabled; its route then reports an error.
func NewServer(outbox *send.Outbox, helperCh *helper.Channel, stream http.Handler, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		outbox: outbox,
		helper: helperCh,
		stream: stream,
		status: cfg.Status,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/message/send", s.sendHandler)
	mux.HandleFunc("/api/v1/typing/start", s.typingStartHandler)
	mux.HandleFunc("/api/v1/typing/stop", s.typingStopHandler)
	mux.HandleFunc("/api/v1/status", s.statusHandler)
	mux.HandleFunc("/api/v1/stream", s.streamHandler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the underlying mux, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving the API in a background goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server terminated", "error", err)
		}
	}()
}

// Stop shuts the API server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	return nil
}
