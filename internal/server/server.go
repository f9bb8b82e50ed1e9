package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/service"
	"github.com/ifuryst/murmur/internal/service/approval"
	"github.com/ifuryst/murmur/internal/service/orchestrator"
	"github.com/ifuryst/murmur/internal/store"
)

// Pipeline accepts requests and re-drives stalled content.
type Pipeline interface {
	Submit(ctx context.Context, req orchestrator.Request) (*orchestrator.Submission, error)
	Resume(ctx context.Context, contentID string) error
}

// Approver resolves reviewer links.
type Approver interface {
	Resolve(ctx context.Context, token string, decision approval.Decision) (*approval.Result, error)
}

// StatsProvider serves the monitoring endpoints.
type StatsProvider interface {
	GetStats(ctx context.Context) (*service.Stats, error)
	GetPlatformStats(ctx context.Context, days int) ([]models.PlatformStats, error)
	GetRecentErrors(ctx context.Context, limit int) ([]models.ErrorLog, error)
	ResolveError(ctx context.Context, id uint) error
}

type Deps struct {
	Store    store.Store
	Pipeline Pipeline
	Approver Approver
	Stats    StatsProvider
}

type Server struct {
	Config *config.Config
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	store    store.Store
	pipeline Pipeline
	approver Approver
	stats    StatsProvider
	auth     *service.AuthService

	// Services, nil when built from Deps
	Services *service.Pipeline
}

// NewServer opens the database and assembles the full pipeline behind the API.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	db, err := store.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	services := service.NewPipeline(cfg, db, logger)
	srv := New(cfg, Deps{
		Store:    services.Store,
		Pipeline: services.Orchestrator,
		Approver: services.Gate,
		Stats:    services.Monitoring,
	}, logger)
	srv.Services = services
	return srv, nil
}

// New builds the HTTP layer over already constructed services.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	srv := &Server{
		Config:   cfg,
		Router:   gin.New(),
		Logger:   logger,
		store:    deps.Store,
		pipeline: deps.Pipeline,
		approver: deps.Approver,
		stats:    deps.Stats,
		auth:     service.NewAuthService(logger, cfg.Server.APIKey, "/health", "/api/v1/approve/", "/api/v1/reject/"),
	}

	srv.Router.SetHTMLTemplate(approvalPage)
	srv.setupMiddleware()
	srv.setupRoutes()

	srv.Server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Router,
	}
	return srv
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				redactPath(param.Path),
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))

	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+service.APIKeyHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.Router.Use(s.auth.AuthMiddleware())
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", s.handleHealth)

	api := s.Router.Group("/api/v1")
	{
		api.POST("/requests", s.handleCreateRequest)
		api.GET("/tasks/:id", s.handleGetTask)

		contents := api.Group("/contents")
		{
			contents.GET("", s.handleListContents)
			contents.GET("/:id", s.handleGetContent)
			contents.POST("/:id/resume", s.handleResumeContent)
		}

		api.GET("/approve/:token", s.handleDecision(approval.DecisionApprove))
		api.GET("/reject/:token", s.handleDecision(approval.DecisionReject))

		api.GET("/stats", s.handleStats)
		api.GET("/stats/platforms", s.handlePlatformStats)
		api.GET("/errors", s.handleRecentErrors)
		api.POST("/errors/:id/resolve", s.handleResolveError)
	}
}

// Start starts the pipeline workers, if any, and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.Services != nil {
		if err := s.Services.Start(ctx); err != nil {
			return err
		}
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", s.Server.Addr))

	var err error
	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := s.Server.Shutdown(shutdownCtx)

	// Workers drain after the listener stops taking requests
	if s.Services != nil {
		s.Services.Stop()
	}
	return err
}
