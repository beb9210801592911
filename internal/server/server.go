package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"volleystat/config"
	"volleystat/internal/handler"
	"volleystat/internal/middleware"
	"volleystat/internal/transport/httpdto"
	"volleystat/internal/websocket"
	"volleystat/pkg/logger"

	"github.com/gin-gonic/gin"
	gorillaHandlers "github.com/gorilla/handlers"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
	onShutdown []func(ctx context.Context)
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Auth   *handler.AuthHandler
	Team   *handler.TeamHandler
	Video  *handler.VideoHandler
	Upload *handler.UploadHandler
	WS     *websocket.Handler
}

// HealthCheck is one dependency checked by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Dependencies struct {
	Auth    middleware.TokenParser
	Limiter middleware.Limiter
	Checks  []HealthCheck
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		config: cfg,
		logger: l,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.AppPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler is the gin engine behind the CORS wrapper.
func (s *Server) Handler() http.Handler {
	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins(origins),
		gorillaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorillaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-Id"}),
		gorillaHandlers.ExposedHeaders([]string{"X-Request-Id", "X-RateLimit-Remaining"}),
	)
	return cors(s.engine)
}

// OnShutdown registers fn to run after the HTTP server stopped accepting
// requests.
func (s *Server) OnShutdown(fn func(ctx context.Context)) {
	s.onShutdown = append(s.onShutdown, fn)
}

func (s *Server) SetupRoutes(handlers *Handlers, deps Dependencies) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		for _, hc := range deps.Checks {
			if err := hc.Check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(hc.Name+": "+err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	authRequired := middleware.AuthMiddleware(deps.Auth)

	auth := s.engine.Group("/v1/auth")
	if deps.Limiter != nil {
		auth.POST("/signup", middleware.AuthRateLimitMiddleware(deps.Limiter), handlers.Auth.SignUp)
		auth.POST("/signin", middleware.AuthRateLimitMiddleware(deps.Limiter), handlers.Auth.SignIn)
	} else {
		auth.POST("/signup", handlers.Auth.SignUp)
		auth.POST("/signin", handlers.Auth.SignIn)
	}
	auth.POST("/signout", authRequired, handlers.Auth.SignOut)
	auth.GET("/me", authRequired, handlers.Auth.Me)

	teams := s.engine.Group("/v1/teams", authRequired)
	{
		teams.POST("", handlers.Team.Create)
		teams.GET("", handlers.Team.List)
		teams.GET("/:id/members", handlers.Team.ListMembers)
		teams.POST("/:id/members", handlers.Team.AddMember)
		teams.DELETE("/:id/members", handlers.Team.RemoveMember)
	}

	videos := s.engine.Group("/v1/videos", authRequired)
	{
		videos.POST("", handlers.Video.Create)
		videos.GET("", handlers.Video.List)
		videos.GET("/:id", handlers.Video.Get)
		videos.POST("/delete", handlers.Video.Delete)
	}

	if handlers.Upload != nil {
		uploads := s.engine.Group("/v1/uploads", authRequired)
		start := []gin.HandlerFunc{handlers.Upload.Start}
		if deps.Limiter != nil {
			start = append([]gin.HandlerFunc{middleware.UploadRateLimitMiddleware(deps.Limiter)}, start...)
		}
		{
			uploads.POST("/staging", handlers.Upload.Staging)
			uploads.POST("", start...)
			uploads.GET("", handlers.Upload.List)
			uploads.GET("/:id", handlers.Upload.Get)
			uploads.POST("/:id/pause", handlers.Upload.Pause)
			uploads.POST("/:id/resume", handlers.Upload.Resume)
			uploads.POST("/:id/cancel", handlers.Upload.Cancel)
		}
	}

	if handlers.WS != nil {
		s.engine.GET("/v1/ws", handlers.WS.Connect)
	}
}

func (s *Server) Start() error {
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Errorf("Error in starting the server: %s", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	<-quit

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if s.logger != nil {
		s.logger.Infof("Quitting signal received.. Shutting down within %s", timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if err != nil && s.logger != nil {
		s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
	}
	for _, fn := range s.onShutdown {
		fn(ctx)
	}
	if err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}
	return nil
}
