package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/ordersync/internal/config"
	dailydomain "github.com/smallbiznis/ordersync/internal/dailysync/domain"
	"github.com/smallbiznis/ordersync/internal/observability"
	obslogger "github.com/smallbiznis/ordersync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ordersync/internal/observability/metrics"
	obstracing "github.com/smallbiznis/ordersync/internal/observability/tracing"
	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
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
			log.Info("http.listen", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	syncJobs  syncjobdomain.Service
	dailyJobs dailydomain.Service
	mux       *taskqueue.Mux
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	SyncJobs  syncjobdomain.Service
	DailyJobs dailydomain.Service
	Mux       *taskqueue.Mux
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		log:       p.Log.Named("http"),
		syncJobs:  p.SyncJobs,
		dailyJobs: p.DailyJobs,
		mux:       p.Mux,
	}

	svc.registerSyncRoutes()
	svc.registerTaskRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) registerSyncRoutes() {
	api := s.engine.Group("/api/sync", ActorContext())

	// -------- Aggregated --------
	api.POST("/aggregated", s.StartAggregatedSync)
	api.GET("/aggregated", s.ListAggregatedSyncs)
	api.GET("/aggregated/:id", s.GetAggregatedSync)
	api.GET("/aggregated/:id/details", s.ListAggregatedSyncDetails)
	api.GET("/aggregated/:id/report.pdf", s.AggregatedSyncReport)
	api.POST("/aggregated/:id/pause", s.PauseAggregatedSync)
	api.POST("/aggregated/:id/cancel", s.CancelAggregatedSync)
	api.POST("/aggregated/:id/resume", s.ResumeAggregatedSync)

	// -------- Daily --------
	api.POST("/daily", s.StartDailySync)
	api.GET("/daily", s.ListDailySyncs)
	api.GET("/daily/:id", s.GetDailySync)
	api.POST("/daily/:id/pause", s.PauseDailySync)
	api.POST("/daily/:id/cancel", s.CancelDailySync)
	api.POST("/daily/:id/resume", s.ResumeDailySync)
}

func (s *Server) registerTaskRoutes() {
	if s.cfg.TaskQueue.Mode != config.QueueModePubSub {
		return
	}
	s.engine.POST("/tasks/pubsub", taskqueue.PushHandler(s.mux, s.cfg.TaskQueue.PubSubPushToken, s.log))
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
