package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"MarketPull/internal/engine"
	"MarketPull/internal/usecase"
	pkgch "MarketPull/pkg/clickhouse"
	"MarketPull/pkg/config"
	xhttp "MarketPull/pkg/http"
	applogger "MarketPull/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	eng         *engine.Engine
	collector   *usecase.QuoteCollector
	proc        *usecase.QuoteProcessor
	chClient    *pkgch.Client
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	eng *engine.Engine,
	collector *usecase.QuoteCollector,
	proc *usecase.QuoteProcessor,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		eng:       eng,
		collector: collector,
		proc:      proc,
		chClient:  chClient,
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			a.log.Error("collector start error", applogger.Error(err))
			return err
		}
		a.log.Info("collector started",
			applogger.String("category", a.cfg.Poll.Category),
			applogger.Strings("symbols", a.cfg.Poll.Symbols),
			applogger.Bool("stream", a.cfg.Stream.Enabled),
		)
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	if a.collector != nil {
		a.collector.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	// Engine stops its cache sweeper.
	a.eng.Close()

	// Processor closes its publisher or storage.
	if a.proc != nil {
		a.proc.Close()
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
