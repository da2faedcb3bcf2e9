package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/inlet/internal/assets"
	"github.com/nextlevelbuilder/inlet/internal/buffer"
	"github.com/nextlevelbuilder/inlet/internal/bus"
	"github.com/nextlevelbuilder/inlet/internal/channels/telegram"
	"github.com/nextlevelbuilder/inlet/internal/collect"
	"github.com/nextlevelbuilder/inlet/internal/commands"
	"github.com/nextlevelbuilder/inlet/internal/config"
	"github.com/nextlevelbuilder/inlet/internal/handlers"
	"github.com/nextlevelbuilder/inlet/internal/metrics"
	"github.com/nextlevelbuilder/inlet/internal/plugins"
	"github.com/nextlevelbuilder/inlet/internal/router"
	"github.com/nextlevelbuilder/inlet/internal/sessions"
	"github.com/nextlevelbuilder/inlet/internal/store"
	"github.com/nextlevelbuilder/inlet/internal/tasks"
)

const shutdownTimeout = 15 * time.Second

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Telegram.Token == "" {
		slog.Error("no telegram token configured, set INLET_TELEGRAM_TOKEN or telegram.token")
		os.Exit(1)
	}

	tracker := tasks.NewTracker()
	modes := sessions.NewModes(cfg.Agent.Conversations)
	collectSvc := collect.NewService(cfg.Collect.Trigger)

	var archive *store.Archive
	if cfg.Store.Path != "" {
		archive, err = store.Open(config.ExpandHome(cfg.Store.Path))
		if err != nil {
			slog.Error("failed to open message archive", "error", err)
			os.Exit(1)
		}
		defer archive.Close()
	}

	// The channel feeds the buffer manager, which is built below once the
	// routing side exists; the indirection breaks the creation cycle.
	var mgr *buffer.Manager
	channel, err := telegram.New(cfg.Telegram, cfg.Media.MaxBytes, func(ev bus.InboundEvent) {
		mgr.OnEvent(ev)
	})
	if err != nil {
		slog.Error("failed to create telegram channel", "error", err)
		os.Exit(1)
	}

	var stt handlers.Transcriber
	if cfg.STT.ProxyURL != "" {
		stt = handlers.NewSTTClient(cfg.STT.ProxyURL, time.Duration(cfg.STT.TimeoutSec)*time.Second)
	}

	limits := handlers.Limits{
		MaxBytes:    cfg.Media.MaxBytes,
		AllowedExt:  cfg.Media.AllowedExt,
		MIMEPrefix:  cfg.Media.MIMEPrefix,
		MaxImageDim: cfg.Media.MaxImageDim,
	}
	forwarder := newForwarder(cfg.Agent.ForwardURL)
	set := handlers.NewSet(forwarder, assets.NewManager(channel), stt, limits)

	executor := commands.NewExecutor(channel, collectSvc, modes, nil, func() commands.Status {
		return commands.Status{
			Uptime:      metrics.Collector.Uptime(),
			ActiveTasks: tracker.ActiveCount(),
		}
	})
	classifier := commands.NewClassifier(nil, cfg.Telegram.BotUsername)

	rt := router.New(plugins.NewRegistry(), classifier, executor, collectSvc, set, modes, channel)

	mgr = buffer.NewManager(buffer.Config{
		Debounce:    cfg.Buffer.Debounce(),
		AbsoluteCap: cfg.Buffer.AbsoluteCap(),
		MaxCapacity: cfg.Buffer.MaxCapacity,
	}, func(ctx context.Context, msg *bus.CombinedMessage) {
		outcome, routeErr := rt.Route(ctx, msg)
		if routeErr != nil {
			slog.Debug("routing finished with error",
				"conversation_id", msg.ConversationID, "error", routeErr)
		}
		if archive != nil {
			tracker.Spawn("archive_message", func(ctx context.Context) error {
				return archive.SaveMessage(ctx, msg, outcome)
			})
		}
	})

	metrics.Collector.GaugeFunc("inlet_active_tasks", "Background tasks currently running", "", func() int64 {
		return int64(tracker.ActiveCount())
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(rootCtx)

	if err := channel.Start(ctx); err != nil {
		slog.Error("failed to start telegram channel", "error", err)
		os.Exit(1)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", metrics.Collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdown(channel, mgr, tracker, metricsSrv)
		return nil
	})

	slog.Info("inlet gateway running", "version", Version)
	if err := g.Wait(); err != nil {
		slog.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}

// shutdown runs the ordered stop sequence: stop intake, flush buffers,
// cancel background work, close the metrics listener.
func shutdown(channel *telegram.Channel, mgr *buffer.Manager, tracker *tasks.Tracker, metricsSrv *http.Server) {
	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := channel.Stop(ctx); err != nil {
		slog.Warn("channel stop incomplete", "error", err)
	}
	if err := mgr.Shutdown(ctx); err != nil {
		slog.Warn("buffer shutdown incomplete", "error", err)
	}
	if err := tracker.CancelAll(ctx); err != nil {
		slog.Warn("background tasks did not finish", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown failed", "error", err)
		}
	}
}
