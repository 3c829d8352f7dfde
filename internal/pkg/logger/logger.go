// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Init 配置全局 zerolog，所有组件都从这里派生 logger。
func Init(serviceName, level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var base zerolog.Logger
	if pretty {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		base = zerolog.New(os.Stderr)
	}
	zlog.Logger = base.With().Timestamp().Str("service", serviceName).Logger()
	zerolog.DefaultContextLogger = &zlog.Logger
}

// Ctx 返回 context 中的 logger；没有时退回全局 logger，并补上 trace_id。
func Ctx(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled && l != zerolog.DefaultContextLogger {
		return l
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return &zlog.Logger
	}
	withTrace := zlog.With().Str("trace_id", spanCtx.TraceID().String()).Logger()
	return &withTrace
}

// Middleware 先提取上游的 trace 上下文，再把带 trace_id 的 logger 存入 context。
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		l := zlog.With().Str("method", r.Method).Str("path", r.URL.Path)
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.HasTraceID() {
			l = l.Str("trace_id", spanCtx.TraceID().String())
		}
		reqLogger := l.Logger()
		next.ServeHTTP(w, r.WithContext(reqLogger.WithContext(ctx)))
	})
}
