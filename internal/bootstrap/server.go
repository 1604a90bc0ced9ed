package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/templeseva/darshan/api"
	"github.com/templeseva/darshan/config"
	"github.com/templeseva/darshan/internal/service/booking"
	"github.com/templeseva/darshan/internal/service/settlement"
	"github.com/templeseva/darshan/internal/service/slots"
)

// Probe reports whether a backing dependency is reachable.
type Probe func(ctx context.Context) error

type Services struct {
	Slots      slots.SlotUseCase
	Bookings   booking.BookingUseCase
	Settlement settlement.SettlementUseCase
	Probes     map[string]Probe
}

type Servers struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
}

// Run starts the gRPC health server and the HTTP API and blocks until the
// context is cancelled or a server fails.
func Run(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, svc Services) error {
	s := newServers(cfg, log, svc)

	errCh := make(chan error, 2)

	if cfg.GRPC.Address != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Address)
		if err != nil {
			return fmt.Errorf("listen gRPC %s: %w", cfg.GRPC.Address, err)
		}
		log.WithField("address", cfg.GRPC.Address).Info("grpc health server listening")
		go func() { errCh <- s.grpcServer.Serve(lis) }()
	}

	log.WithField("address", cfg.HTTP.Address).Info("http server listening")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func newServers(cfg *config.Config, log logrus.FieldLogger, svc Services) *Servers {
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	return &Servers{
		grpcServer: grpcSrv,
		health:     healthSrv,
		httpServer: &http.Server{
			Addr:              cfg.HTTP.Address,
			Handler:           NewRouter(cfg, log, svc),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// NewRouter wires the HTTP API under /api/v1.
func NewRouter(cfg *config.Config, log logrus.FieldLogger, svc Services) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(log))

	router.GET("/healthz", healthz(svc.Probes))

	if cfg.HTTP.SwaggerDir != "" {
		router.Static("/swagger", cfg.HTTP.SwaggerDir)
		router.GET("/docs/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json"))))
	}

	auth := api.JWTAuth(cfg.Auth.JWTSecret)
	v1 := router.Group("/api/v1")

	bookings := v1.Group("/bookings")
	api.NewSlotHandler(svc.Slots, log).Register(bookings)
	api.NewBookingHandler(svc.Bookings, log).Register(bookings, auth)

	payments := v1.Group("/payments")
	api.NewPaymentHandler(svc.Settlement, svc.Bookings, log).Register(payments, auth)

	return router
}

func healthz(probes map[string]Probe) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(probes))
		for name, probe := range probes {
			if err := probe(ctx); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
	}
}
