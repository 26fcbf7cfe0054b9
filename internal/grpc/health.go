package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name the cart service reports under in grpc.health.v1.
const ServiceName = "emailcart.CartService"

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ready(ctx context.Context) error
}

type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	log      *slog.Logger
}

func NewHealthServer(pinger Pinger, interval time.Duration, log *slog.Logger) *HealthServer {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(srv)

	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{
		server:   srv,
		health:   hs,
		pinger:   pinger,
		interval: interval,
		log:      log,
	}
}

// Serve blocks until the listener fails or Stop is called.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info("grpc health server listening", "addr", lis.Addr().String())
	return h.server.Serve(lis)
}

// Watch probes the store every interval and updates the serving status until
// ctx is done.
func (h *HealthServer) Watch(ctx context.Context) {
	h.check(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (h *HealthServer) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, h.interval/2)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.pinger.Ready(pingCtx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.log.Warn("store ping failed", "err", err)
	}
	h.health.SetServingStatus(ServiceName, status)
	h.health.SetServingStatus("", status)
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
