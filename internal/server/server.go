package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/observability"
	obslogger "github.com/smallbiznis/billingcore/internal/observability/logger"
	obstracing "github.com/smallbiznis/billingcore/internal/observability/tracing"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"github.com/smallbiznis/billingcore/internal/scheduler"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Params struct {
	fx.In

	Engine        *gin.Engine
	Log           *zap.Logger
	DB            *gorm.DB
	Node          *snowflake.Node
	Clock         clock.Clock
	Invoices      invoicedomain.Repository
	Subscriptions subscriptiondomain.Repository
	Plans         plandomain.Repository
	Scheduler     *scheduler.Scheduler
}

type Server struct {
	engine    *gin.Engine
	log       *zap.Logger
	db        *gorm.DB
	node      *snowflake.Node
	clock     clock.Clock
	invoices  invoicedomain.Repository
	subs      subscriptiondomain.Repository
	plans     plandomain.Repository
	scheduler *scheduler.Scheduler
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:    p.Engine,
		log:       p.Log.Named("http.server"),
		db:        p.DB,
		node:      p.Node,
		clock:     p.Clock,
		invoices:  p.Invoices,
		subs:      p.Subscriptions,
		plans:     p.Plans,
		scheduler: p.Scheduler,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	invoices := api.Group("/invoices", TenantRequired())
	invoices.GET("", s.ListInvoices)
	invoices.POST("", s.CreateInvoice)
	invoices.GET("/:id", s.GetInvoiceByID)
	invoices.POST("/:id/external-status", s.UpdateExternalStatus)

	plans := api.Group("/plan-versions", TenantRequired())
	plans.GET("/:id", s.GetPlanVersion)

	subscriptions := api.Group("/subscriptions", TenantRequired())
	subscriptions.POST("", s.CreateSubscription)
	subscriptions.GET("/:id", s.GetSubscription)
	subscriptions.POST("/:id/events", s.RecordSubscriptionEvent)

	api.POST("/jobs/:name/run", s.RunJob)
}
