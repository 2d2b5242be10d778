// Package httpserver предоставляет HTTP сервер сервиса на базе Gin.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/observability"
)

// Config конфигурация HTTP сервера
type Config struct {
	ServiceName     string
	Port            int
	BasePath        string
	EnableTracing   bool
	EnableMetrics   bool
	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию HTTP сервера по умолчанию
func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:     serviceName,
		Port:            8080,
		BasePath:        "/api/v1",
		EnableTracing:   true,
		EnableMetrics:   true,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server HTTP сервер сервиса: Gin router, health endpoints,
// prometheus /metrics и graceful shutdown
type Server struct {
	config  Config
	router  *gin.Engine
	server  *http.Server
	log     *slog.Logger
	checks  []core.HealthCheckable
	running bool
}

// NewServer создает новый HTTP сервер
func NewServer(config Config) (*Server, error) {
	if config.Port <= 0 {
		return nil, core.NewError(core.ErrInvalidConfig, "HTTP port must be positive")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig(config.ServiceName).ShutdownTimeout
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if config.EnableTracing {
		router.Use(observability.HTTPTracingMiddleware(config.ServiceName))
	}

	s := &Server{
		config: config,
		router: router,
		log:    slog.Default().With(slog.String("component", "http_server"), slog.String("service", config.ServiceName)),
	}

	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)
	if config.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	return s, nil
}

// Router возвращает router для регистрации маршрутов сервиса
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Group возвращает группу маршрутов с базовым путем сервиса
func (s *Server) Group() *gin.RouterGroup {
	return s.router.Group(s.config.BasePath)
}

// AddHealthCheck регистрирует компонент для проверки готовности
func (s *Server) AddHealthCheck(check core.HealthCheckable) {
	s.checks = append(s.checks, check)
}

// Start запускает HTTP сервер
func (s *Server) Start(ctx context.Context) error {
	if s.running {
		return nil
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http_server_failed", slog.String("error", err.Error()))
		}
	}()

	s.running = true
	s.log.InfoContext(ctx, "http_server_started", slog.Int("port", s.config.Port))
	return nil
}

// Stop останавливает HTTP сервер с graceful shutdown
func (s *Server) Stop(ctx context.Context) error {
	if !s.running || s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.running = false
	return s.server.Shutdown(shutdownCtx)
}

// IsRunning проверяет, запущен ли сервер
func (s *Server) IsRunning() bool {
	return s.running
}

// Name возвращает имя компонента
func (s *Server) Name() string {
	return fmt.Sprintf("http-server-%s", s.config.ServiceName)
}

// Type возвращает тип компонента
func (s *Server) Type() core.ComponentType {
	return core.ComponentTypeTransport
}

// handleHealth живость процесса
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": s.config.ServiceName,
	})
}

// handleReady готовность: все зарегистрированные проверки проходят
func (s *Server) handleReady(c *gin.Context) {
	for _, check := range s.checks {
		if err := check.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": s.config.ServiceName,
	})
}
