package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/automap/internal/storage"
)

// HealthService is the service name reported by the gRPC health server.
const HealthService = "automap"

// NewHTTPService serves handler on addr until stopped.
//
// Precondition: handler and logger must be non-nil.
func NewHTTPService(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration, logger *zap.Logger) Service {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return &FuncService{
		StartFn: func() error {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", addr, err)
			}
			logger.Info("http server listening", zap.String("addr", lis.Addr().String()))
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: srv.Shutdown,
	}
}

// HealthServer reports serving status for the store over gRPC.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	store  storage.Store
	logger *zap.Logger
}

// NewHealthServer creates a gRPC server exposing only the health service.
//
// Precondition: store and logger must be non-nil.
func NewHealthServer(store storage.Store, logger *zap.Logger) *HealthServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{srv: srv, health: hs, store: store, logger: logger}
}

// Check pings the store and updates the reported status.
func (h *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("store health check failed", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthService, status)
	return status
}

// Serve accepts connections on lis, rechecking the store every interval
// until the server stops.
func (h *HealthServer) Serve(lis net.Listener, interval time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.Check(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, done := context.WithTimeout(ctx, interval)
				h.Check(checkCtx)
				done()
			}
		}
	}()
	return h.srv.Serve(lis)
}

// Stop marks the server as not serving and drains in-flight calls.
func (h *HealthServer) Stop(ctx context.Context) error {
	h.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		h.srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		h.srv.Stop()
		return ctx.Err()
	}
}

// Service wraps the health server for a Lifecycle.
func (h *HealthServer) Service(addr string, interval time.Duration) Service {
	return &FuncService{
		StartFn: func() error {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", addr, err)
			}
			h.logger.Info("gRPC health server listening", zap.String("addr", lis.Addr().String()))
			return h.Serve(lis, interval)
		},
		StopFn: h.Stop,
	}
}
