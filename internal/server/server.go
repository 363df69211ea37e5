package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/gatekeeper/internal/audit"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	"github.com/smallbiznis/gatekeeper/internal/auth"
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	authlocal "github.com/smallbiznis/gatekeeper/internal/auth/local"
	authoauth2provider "github.com/smallbiznis/gatekeeper/internal/auth/oauth2provider"
	"github.com/smallbiznis/gatekeeper/internal/auth/session"
	"github.com/smallbiznis/gatekeeper/internal/authorization"
	"github.com/smallbiznis/gatekeeper/internal/cache"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/oauth/code"
	"github.com/smallbiznis/gatekeeper/internal/oauth/consent"
	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
	"github.com/smallbiznis/gatekeeper/internal/observability"
	obsmiddleware "github.com/smallbiznis/gatekeeper/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	obstracing "github.com/smallbiznis/gatekeeper/internal/observability/tracing"
	"github.com/smallbiznis/gatekeeper/internal/pipeline"
	"github.com/smallbiznis/gatekeeper/internal/ratelimit"
	"github.com/smallbiznis/gatekeeper/internal/rbac"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	cache.Module,
	ratelimit.Module,
	audit.Module,
	auth.Module,
	session.Module,
	authlocal.Module,
	rbac.Module,
	authorization.Module,
	client.Module,
	code.Module,
	token.Module,
	consent.Module,
	pipeline.Module,
	authoauth2provider.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(RequestTimeout(cfg.HTTPRequestTimeout))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.NoRoute(noRoute)

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, cfg config.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics, cfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
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
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Server carries the administrative API. The OAuth and login endpoints
// register themselves from their own packages.
type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	chains   *pipeline.Chains
	authsvc  authdomain.Service
	rbac     *rbac.Service
	auditSvc auditdomain.Service
	log      *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Chains   *pipeline.Chains
	Authsvc  authdomain.Service
	RBAC     *rbac.Service
	AuditSvc auditdomain.Service
	Log      *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		chains:   p.Chains,
		authsvc:  p.Authsvc,
		rbac:     p.RBAC,
		auditSvc: p.AuditSvc,
		log:      p.Log.Named("server"),
	}

	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}
