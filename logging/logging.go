// Package logging настраивает структурированное логирование через log/slog.
package logging

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// Config конфигурация логирования
type Config struct {
	Level  slog.Level
	Format string // "json" или "text"
}

// DefaultConfig возвращает конфигурацию логирования по умолчанию
func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		Format: "json",
	}
}

// Setup настраивает глобальный логгер
func Setup(cfg Config) {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(NewTraceHandler(handler)))
}

// TraceHandler обогащает записи идентификаторами trace/span из контекста
type TraceHandler struct {
	slog.Handler
}

// NewTraceHandler создает новый TraceHandler
func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

// Handle добавляет trace_id и span_id к записи
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs возвращает handler с дополнительными атрибутами
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup возвращает handler с группой
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

// ForService возвращает логгер с атрибутом service
func ForService(name string) *slog.Logger {
	return slog.Default().With(slog.String("service", name))
}
