package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 2 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Server wraps http.Server with validation and graceful shutdown.
type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

type Option func(*Server)

// WithWriteTimeout bounds how long a response may take. Dispatch requests
// wait for their whole batch, so this must exceed the longest tool timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.server.WriteTimeout = d
		}
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// New creates a new HTTP server with the given address and handler.
// The address is validated before creating the server.
func New(addr string, handler http.Handler, opts ...Option) (*Server, error) {
	if err := ValidateAddress(addr); err != nil {
		return nil, err
	}

	srv := &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  defaultReadTimeout,
			WriteTimeout: defaultWriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv, nil
}

func (s *Server) Addr() string {
	return s.server.Addr
}

// Start begins listening for HTTP requests.
// Returns an error unless the server is shut down cleanly.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Serve is Start on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	err := s.server.Serve(l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown waits for in-flight requests up to the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// ValidateAddress accepts host:port and :port forms. It satisfies
// validation.RuleFunc so config validation can reuse it.
func ValidateAddress(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cant be empty")
	}
	if err := is.Port.Validate(port); err != nil {
		return validation.NewError("validation_invalid_port", "invalid port")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
