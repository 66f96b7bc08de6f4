package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"fear-greed-watch/internal/alerting"
	"fear-greed-watch/internal/config"
	"fear-greed-watch/internal/fetcher"
	"fear-greed-watch/internal/hub"
	"fear-greed-watch/internal/scheduler"
	"fear-greed-watch/internal/server"
	"fear-greed-watch/internal/service"
	"fear-greed-watch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newQuoteClient() *fetcher.CoinGecko {
	return fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
		BaseURL:   a.Config.CoinGecko.BaseURL,
		Currency:  a.Config.CoinGecko.Currency,
		Timeout:   a.Config.CoinGecko.RequestTimeout,
		UserAgent: a.Config.CoinGecko.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running sampling service: restore or seed the
// windows, start the HTTP/websocket listener and the hourly persistence job,
// then drive sampling cycles until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; snapshot persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var snapshots storage.SnapshotStore
	if store != nil {
		snapshots = store
	}

	svc := service.New(a.Config, a.newQuoteClient(), snapshots, a.newNotifier(), a.Logger)
	h := hub.New(svc.StateJSON, a.Logger)
	svc.AttachHub(h)

	svc.Restore(ctx, time.Now().UTC())

	persistJob := cron.New(cron.WithSeconds())
	if snapshots != nil {
		if _, err := persistJob.AddFunc(a.Config.Sampler.PersistCron, func() {
			svc.PersistAll(context.Background())
		}); err != nil {
			return err
		}
		persistJob.Start()
		defer persistJob.Stop()
	}

	srv := server.New(a.Config.Server, svc, h, a.Logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run(ctx)
	}()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Sampler.Interval,
		AlignToStart: a.Config.Sampler.AlignToStart,
		RunAtStart:   true,
	}, a.Logger)

	a.Logger.Info().Msg("starting sentiment service")
	err = sched.Run(ctx, svc.RunCycle)

	// Flush a final snapshot so at most the last few minutes are lost.
	if snapshots != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		svc.PersistAll(flushCtx)
		flushCancel()
	}

	if srvErr := <-serverErr; srvErr != nil {
		a.Logger.Error().Err(srvErr).Msg("http server terminated with error")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("sentiment service stopped")
	return nil
}

// ExportOptions hold parameters for exporting a persisted series.
type ExportOptions struct {
	Basket  string
	PNGPath string
	CSVPath string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Basket string
	Limit  int
}

// BackfillOptions configure the historical rebuild.
type BackfillOptions struct {
	Basket string
	Step   time.Duration
}
