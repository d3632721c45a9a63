package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FareCast/internal/repository"
	"FareCast/internal/services/fx"
	"FareCast/internal/usecase"
	"FareCast/pkg/cache"
	pkgch "FareCast/pkg/clickhouse"
	"FareCast/pkg/config"
	xhttp "FareCast/pkg/http"
	pkgkafka "FareCast/pkg/kafka"
	applogger "FareCast/pkg/logger"
	"FareCast/pkg/queue"
)

// Components are the long-running parts of the application. Everything except
// HTTP, Series and Registry is optional.
type Components struct {
	HTTP       *xhttp.Server
	Series     *repository.SeriesStore
	Registry   *repository.ModelRegistry
	FX         *fx.Converter
	Scheduler  *usecase.Scheduler
	Collector  *usecase.FeedCollector
	Consumer   *pkgkafka.Consumer
	Handler    pkgkafka.MessageHandler
	Queue      *queue.RedisQueue
	Producer   *pkgkafka.Producer
	ClickHouse *pkgch.Client
	Cache      cache.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg    *config.Config
	log    *applogger.Logger
	c      Components
	cancel context.CancelFunc
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	return &App{cfg: cfg, log: l, c: c}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Start restores persisted state and launches every configured component.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	since := time.Now().Add(-a.cfg.Pipeline.Series.Retention)
	n, err := a.c.Series.Restore(ctx, since)
	if err != nil {
		return err
	}
	versions, err := a.c.Registry.Restore(ctx)
	if err != nil {
		return err
	}
	a.log.Info("state restored", applogger.Int("observations", n), applogger.Int("model_versions", versions))

	if a.c.FX != nil {
		if err := a.c.FX.Refresh(ctx); err != nil {
			a.log.Warn("initial fx refresh failed, using configured rates", applogger.Error(err))
		}
		go a.c.FX.Run(ctx, a.cfg.Currency.RefreshInterval)
	}

	if a.c.Queue != nil {
		if err := a.c.Queue.Start(); err != nil {
			return err
		}
		a.log.Info("retrain queue started", applogger.Int("workers", a.cfg.Redis.Queue.Workers))
	}

	if a.c.Consumer != nil && a.c.Handler != nil {
		a.c.Consumer.RegisterHandler(a.c.Handler)
		if err := a.c.Consumer.Start(); err != nil {
			return err
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.c.Handler.Topic()))
	}

	if a.c.Collector != nil {
		if err := a.c.Collector.Start(ctx); err != nil {
			// the collector reconnects on stream errors once running; a failed
			// first connect is reported and the rest of the app keeps serving
			a.log.Error("fare feed start", applogger.Error(err))
		} else {
			a.log.Info("fare feed started", applogger.String("url", a.cfg.Feed.URL))
		}
	}

	if a.c.Scheduler != nil {
		a.c.Scheduler.Start(ctx)
		a.log.Info("scheduler started",
			applogger.Duration("interval", a.cfg.Pipeline.Scheduler.Interval),
			applogger.Int("workers", a.cfg.Pipeline.Scheduler.Workers))
	}

	return a.c.HTTP.Start()
}

// Shutdown stops intake first, then background work, then closes clients.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down...")

	if err := a.c.HTTP.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.c.Collector != nil {
		if err := a.c.Collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}

	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.c.Scheduler != nil {
		if err := a.c.Scheduler.Stop(ctx); err != nil {
			a.log.Warn("scheduler stop error", applogger.Error(err))
		}
	}

	if a.c.Queue != nil {
		if err := a.c.Queue.Stop(ctx); err != nil {
			a.log.Warn("retrain queue stop error", applogger.Error(err))
		}
	}

	if a.cancel != nil {
		a.cancel()
	}

	// flush aggregated warnings before the producer goes away
	a.log.RemoveCollector()

	if a.c.Producer != nil {
		if err := a.c.Producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.c.Cache != nil {
		if err := a.c.Cache.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}
	if a.c.ClickHouse != nil {
		if err := a.c.ClickHouse.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
