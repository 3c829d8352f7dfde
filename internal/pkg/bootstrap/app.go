// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"kiosk/internal/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

// Worker 是随服务一起运行的后台任务，ctx 取消后应尽快返回。
type Worker func(ctx context.Context) error

// Closer 在关停时执行，按注册的相反顺序调用。
type Closer func(ctx context.Context) error

// AppInfo 包含启动服务所需的全部信息。
type AppInfo struct {
	ServiceName     string
	Server          *http.Server
	Workers         []Worker
	Closers         []Closer
	ShutdownTimeout time.Duration
}

// Run 启动 HTTP 服务和后台任务，收到 SIGINT/SIGTERM 或 ctx 取消后优雅关停。
// 任一组件返回错误也会触发关停，错误原样返回。
func Run(ctx context.Context, info AppInfo) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	timeout := info.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	g, gctx := errgroup.WithContext(ctx)

	if info.Server != nil {
		g.Go(func() error {
			logger.Ctx(gctx).Info().Str("service", info.ServiceName).Str("addr", info.Server.Addr).Msg("http server listening")
			if err := info.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrapf(err, "listen on %s", info.Server.Addr)
			}
			return nil
		})
	}

	for _, worker := range info.Workers {
		worker := worker
		g.Go(func() error { return worker(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Ctx(ctx).Info().Str("service", info.ServiceName).Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if info.Server != nil {
			if err := info.Server.Shutdown(shutdownCtx); err != nil {
				logger.Ctx(shutdownCtx).Error().Err(err).Msg("error shutting down http server")
			}
		}
		// 后进先出，先注册的依赖最后关闭
		for i := len(info.Closers) - 1; i >= 0; i-- {
			if err := info.Closers[i](shutdownCtx); err != nil {
				logger.Ctx(shutdownCtx).Error().Err(err).Msg("error during shutdown")
			}
		}
		logger.Ctx(shutdownCtx).Info().Str("service", info.ServiceName).Msg("gracefully shut down")
		return nil
	})

	return g.Wait()
}
