package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	availabilitydomain "github.com/smallbiznis/reserva/internal/availability/domain"
	bookingdomain "github.com/smallbiznis/reserva/internal/booking/domain"
	"github.com/smallbiznis/reserva/internal/config"
	"github.com/smallbiznis/reserva/internal/observability"
	"github.com/smallbiznis/reserva/internal/ratelimit"
	webhookdomain "github.com/smallbiznis/reserva/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	bookingSvc      bookingdomain.Service
	availabilitySvc availabilitydomain.Service
	webhookSvc      webhookdomain.Service
	limiter         *ratelimit.TokenBucket
	metrics         *observability.Metrics
}

type Params struct {
	fx.In

	Engine          *gin.Engine
	Config          config.Config
	Log             *zap.Logger
	BookingSvc      bookingdomain.Service
	AvailabilitySvc availabilitydomain.Service
	WebhookSvc      webhookdomain.Service
	Limiter         *ratelimit.TokenBucket `optional:"true"`
	Metrics         *observability.Metrics
}

func NewEngine(metrics *observability.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metricsMiddleware(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	return r
}

func registerGin(metrics *observability.Metrics) *gin.Engine {
	return NewEngine(metrics)
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:          p.Engine,
		cfg:             p.Config,
		log:             p.Log.Named("http.server"),
		bookingSvc:      p.BookingSvc,
		availabilitySvc: p.AvailabilitySvc,
		webhookSvc:      p.WebhookSvc,
		limiter:         p.Limiter,
		metrics:         p.Metrics,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.engine.Group("/v1")

	tenants := v1.Group("/tenants/:tenant_id")
	tenants.Use(s.RateLimit())
	tenants.POST("/checkout", s.HandleCheckout)
	tenants.GET("/availability", s.HandleAvailability)
	tenants.GET("/bookings/:booking_id", s.HandleGetBooking)
	tenants.POST("/bookings/:booking_id/cancel", s.HandleCancelBooking)

	// Webhooks bypass the per-tenant limiter; throttling the payment
	// platform only delays reconciliation.
	v1.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func run(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, ErrInvalidRequest
	}
	return id, nil
}
