package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/skilder-ai/identity/internal/audit/domain"
	"github.com/skilder-ai/identity/internal/authorization"
	"github.com/skilder-ai/identity/internal/config"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	"github.com/skilder-ai/identity/internal/oauthstate"
	"github.com/skilder-ai/identity/internal/observability"
	obsmiddleware "github.com/skilder-ai/identity/internal/observability/logger"
	obsmetrics "github.com/skilder-ai/identity/internal/observability/metrics"
	obstracing "github.com/skilder-ai/identity/internal/observability/tracing"
	"github.com/skilder-ai/identity/internal/ratelimit"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
		QuietPaths:      []string{"/health", "/metrics"},
		Fields:          logFields,
	}))
	r.Use(obstracing.GinMiddleware(obstracing.MiddlewareConfig{
		SkipPaths:  []string{"/health", "/metrics"},
		Attributes: spanAttributes,
	}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func logFields(c *gin.Context) []zap.Field {
	nature := c.GetString(contextKeyNature)
	if nature == "" {
		return nil
	}
	return []zap.Field{zap.String("key_nature", nature)}
}

func spanAttributes(c *gin.Context) []attribute.KeyValue {
	nature := c.GetString(contextKeyNature)
	if nature == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String("identity.nature", nature)}
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
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	identityKeys identitykeydomain.Service
	auditSvc     auditdomain.Service
	authz        authorization.Service
	oauthStates  *oauthstate.Manager
	probeLimiter *ratelimit.ProbeLimiter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	IdentityKeys identitykeydomain.Service
	AuditSvc     auditdomain.Service `optional:"true"`
	Authz        authorization.Service
	OAuthStates  *oauthstate.Manager
	ProbeLimiter *ratelimit.ProbeLimiter `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		identityKeys: p.IdentityKeys,
		auditSvc:     p.AuditSvc,
		authz:        p.Authz,
		oauthStates:  p.OAuthStates,
		probeLimiter: p.ProbeLimiter,
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerAdminRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AdminTokenRequired())

	keys := admin.Group("/identity-keys", s.Authorized(authorization.ObjectIdentityKey, authorization.ActionIdentityKeyAdmin))
	{
		keys.POST("", s.CreateIdentityKey)
		keys.GET("", s.ListIdentityKeys)
		keys.GET("/:id", s.GetIdentityKey)
		keys.POST("/:id/revoke", s.RevokeIdentityKey)
		keys.DELETE("/:id", s.DeleteIdentityKey)
	}

	admin.GET("/audit-logs", s.Authorized(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/whoami",
		s.IdentityKeyRequired(),
		s.Authorized(authorization.ObjectIdentity, authorization.ActionIdentityWhoAmI),
		s.WhoAmI,
	)
	api.POST("/runtime/session", s.RuntimeSession)

	oauth := api.Group("/oauth/:provider")
	{
		oauth.GET("/authorize",
			s.IdentityKeyRequired(),
			s.Authorized(authorization.ObjectOAuth, authorization.ActionOAuthAuthorize),
			s.OAuthAuthorize,
		)
		oauth.GET("/callback", s.OAuthCallback)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
