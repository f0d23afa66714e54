// Package handlers provides the gRPC and HTTP servers of the audit service:
// the HTTP/JSON data routes and the fives.v1.SyncService control API.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gartstein/fives/internal/fives/auth"
	"github.com/gartstein/fives/internal/fives/metrics"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server holds references to both a gRPC server and an HTTP server.
type Server struct {
	grpcServer   *grpc.Server
	httpServer   *http.Server
	logger       *zap.Logger
	grpcEndpoint string
	httpEndpoint string

	mu       sync.Mutex
	listener net.Listener
}

// NewServer constructs a Server with separate endpoints for gRPC and HTTP.
func NewServer(
	grpcAddr string,
	httpAddr string,
	logger *zap.Logger,
	grpcOpts ...grpc.ServerOption,
) *Server {
	return &Server{
		grpcServer:   grpc.NewServer(grpcOpts...),
		httpServer:   &http.Server{ReadHeaderTimeout: 10 * time.Second},
		logger:       logger.Named("server"),
		grpcEndpoint: grpcAddr,
		httpEndpoint: httpAddr,
	}
}

// RegisterGRPCHandler registers the SyncService implementation.
func (s *Server) RegisterGRPCHandler(h SyncServiceServer) {
	s.grpcServer.RegisterService(&syncServiceDesc, h)
}

// RegisterHTTP mounts the API routes and /metrics, wrapped in the auth
// middleware and request instrumentation.
func (s *Server) RegisterHTTP(api *API, jwtSecret string, m *metrics.Metrics) error {
	mux := runtime.NewServeMux()
	if err := api.Register(mux); err != nil {
		return err
	}
	if m != nil {
		err := mux.HandlePath(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			m.Handler().ServeHTTP(w, r)
		})
		if err != nil {
			return err
		}
	}

	s.httpServer.Handler = m.Instrument(auth.HTTPMiddleware(mux, jwtSecret))
	s.httpServer.Addr = s.httpEndpoint
	return nil
}

// GRPCAddr returns the address the gRPC server listens on once started.
func (s *Server) GRPCAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.grpcEndpoint
}

// Start runs the gRPC and HTTP servers concurrently, returning on the first error.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.grpcEndpoint)
	if err != nil {
		return fmt.Errorf("gRPC listen error: %w", err)
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	errChan := make(chan error, 2)

	go func() {
		defer wg.Done()
		s.logger.Info("Starting gRPC server", zap.String("endpoint", lis.Addr().String()))
		if err := s.grpcServer.Serve(lis); err != nil {
			errChan <- fmt.Errorf("gRPC serve error: %w", err)
		}
	}()

	go func() {
		defer wg.Done()
		if s.httpServer.Handler == nil {
			return
		}
		s.logger.Info("Starting HTTP server", zap.String("endpoint", s.httpEndpoint))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP serve error: %w", err)
		}
	}()

	go func() {
		wg.Wait()
		close(errChan)
	}()

	for err := range errChan {
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop gracefully shuts down both gRPC and HTTP servers.
func (s *Server) Stop() {
	s.logger.Info("Shutting down servers...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.grpcServer.GracefulStop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	s.logger.Info("Servers stopped")
}
