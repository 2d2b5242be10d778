// Package bootstrap собирает процесс сервиса из конфигурации:
// логирование, метрики, трассировку, message bus, хранилища и dedup guard.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/cargoflow/cargoflow/adapters/httpserver"
	"github.com/cargoflow/cargoflow/adapters/messagebus"
	"github.com/cargoflow/cargoflow/config"
	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/dedup"
	"github.com/cargoflow/cargoflow/events"
	"github.com/cargoflow/cargoflow/logging"
	"github.com/cargoflow/cargoflow/metrics"
	"github.com/cargoflow/cargoflow/observability"
)

// Runtime собранная инфраструктура процесса сервиса
type Runtime struct {
	Config    config.Config
	Bus       messagebus.BusAdapter
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Guard     dedup.Guard
	Publisher *events.Publisher
	Server    *httpserver.Server

	tracing  *observability.TracingManager
	meters   *sdkmetric.MeterProvider
	log      *slog.Logger
	stoppers []func(ctx context.Context) error
}

// New загружает конфигурацию и собирает инфраструктуру сервиса.
// Компоненты создаются, но не запускаются: запуск делает Run
func New(serviceName string) (*Runtime, error) {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	if cfg.IsDevelopment() {
		logCfg.Format = "text"
		logCfg.Level = slog.LevelDebug
	}
	logging.Setup(logCfg)

	rt := &Runtime{
		Config: cfg,
		log:    logging.ForService(serviceName),
	}

	rt.meters, err = metrics.Setup(&metrics.Config{ServiceName: serviceName})
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to set up metrics")
	}

	rt.tracing, err = observability.NewTracingManager(observability.TracingConfig{
		Enabled:          cfg.TracingEnabled,
		ServiceName:      serviceName,
		Exporter:         cfg.TracingExporter,
		ExporterEndpoint: cfg.OTLPEndpoint,
		SamplingRate:     1.0,
		Environment:      cfg.Environment,
	})
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to set up tracing")
	}

	rt.Bus, err = messagebus.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Store == "postgres" || cfg.Dedup == "postgres" {
		rt.Pool, err = pgxpool.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to create postgres pool")
		}
	}

	if cfg.Dedup == "redis" {
		rt.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	rt.Guard, err = buildGuard(cfg, rt)
	if err != nil {
		return nil, err
	}

	rt.Publisher, err = events.NewPublisher(rt.Bus, events.DefaultPublisherConfig(serviceName))
	if err != nil {
		return nil, err
	}

	serverCfg := httpserver.DefaultConfig(serviceName)
	serverCfg.Port = cfg.HTTPPort
	serverCfg.EnableTracing = cfg.TracingEnabled
	rt.Server, err = httpserver.NewServer(serverCfg)
	if err != nil {
		return nil, err
	}
	rt.Server.AddHealthCheck(rt.Bus)

	return rt, nil
}

// NewConsumer создает потребителя очереди сервиса с настройками процесса
func (rt *Runtime) NewConsumer(queue string) (*events.Consumer, error) {
	consumerCfg := events.DefaultConsumerConfig(queue)
	consumerCfg.HandlerTimeout = rt.Config.HandlerTimeout
	consumerCfg.MaxRedeliveries = rt.Config.MaxRedeliveries
	consumerCfg.EnableTracing = rt.Config.TracingEnabled
	return events.NewConsumer(rt.Bus, consumerCfg)
}

// Run запускает инфраструктуру и переданные компоненты, затем блокируется
// до SIGINT/SIGTERM. Остановка идет в обратном порядке запуска
func (rt *Runtime) Run(ctx context.Context, components ...core.Lifecycle) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ordered := make([]core.Lifecycle, 0, len(components)+3)
	ordered = append(ordered, rt.tracing, rt.Bus)
	ordered = append(ordered, components...)
	ordered = append(ordered, rt.Server)

	for _, c := range ordered {
		if err := c.Start(ctx); err != nil {
			rt.shutdown(context.Background())
			return fmt.Errorf("failed to start %T: %w", c, err)
		}
		rt.stoppers = append(rt.stoppers, c.Stop)
	}

	rt.log.Info("service_started",
		slog.String("broker", rt.Config.Broker),
		slog.String("store", rt.Config.Store),
		slog.Int("http_port", rt.Config.HTTPPort))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		rt.log.Info("shutdown_signal_received", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	rt.shutdown(stopCtx)

	rt.log.Info("service_stopped")
	return nil
}

func (rt *Runtime) shutdown(ctx context.Context) {
	for i := len(rt.stoppers) - 1; i >= 0; i-- {
		if err := rt.stoppers[i](ctx); err != nil {
			rt.log.Error("component_stop_failed", slog.String("error", err.Error()))
		}
	}
	rt.stoppers = nil

	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.log.Error("redis_close_failed", slog.String("error", err.Error()))
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if err := metrics.Shutdown(ctx, rt.meters); err != nil {
		rt.log.Error("metrics_shutdown_failed", slog.String("error", err.Error()))
	}
}

func buildGuard(cfg config.Config, rt *Runtime) (dedup.Guard, error) {
	switch cfg.Dedup {
	case "inmemory":
		return dedup.NewInMemoryGuard(), nil
	case "redis":
		return dedup.NewRedisGuard(rt.Redis, dedup.DefaultRedisGuardConfig())
	case "postgres":
		return dedup.NewPostgresGuard(rt.Pool)
	default:
		return nil, core.NewError(core.ErrInvalidConfig,
			fmt.Sprintf("unknown dedup guard: %s", cfg.Dedup))
	}
}
