package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/BeranItService/chatbot/internal/config"
	"github.com/BeranItService/chatbot/internal/handler"
	"github.com/BeranItService/chatbot/internal/observability"
	"github.com/BeranItService/chatbot/internal/service/ai"
	"github.com/BeranItService/chatbot/internal/service/arbiter"
	"github.com/BeranItService/chatbot/internal/service/chat"
	"github.com/BeranItService/chatbot/internal/service/fallback"
	"github.com/BeranItService/chatbot/internal/service/history"
	"github.com/BeranItService/chatbot/internal/service/pattern"
	"github.com/BeranItService/chatbot/internal/service/registry"
	"github.com/BeranItService/chatbot/internal/service/remote"
	"github.com/BeranItService/chatbot/internal/service/session"
	"github.com/BeranItService/chatbot/internal/service/translate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("no .env file loaded, using system environment only", "error", envErr)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("chatbot server stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(promRegistry)

	historyStore, err := history.Open(historyConfig(cfg.History, logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := historyStore.Close(); err != nil {
			logger.Warn("failed to close history store", "error", err)
		}
	}()

	chatModel := newChatModel(ctx, cfg.AI, logger)

	catalogue := registry.New(registry.Options{
		Path: cfg.Catalogue.Path,
		Factories: map[string]registry.Factory{
			pattern.Type: pattern.Factory,
			remote.Type:  remote.Factory,
			ai.Type:      ai.Factory(chatModel, logger),
		},
		Logger: logger,
	})
	if err := catalogue.Reload(ctx); err != nil {
		return err
	}

	sessions := session.NewStore(session.Options{
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
		MaxTurns:      cfg.Session.MaxTurns,
		Exporter:      historyStore,
		Metrics:       metrics,
		Logger:        logger,
	})

	engine := arbiter.New(engineOptions(cfg.Arbiter, metrics, logger))

	fallbackOpts := fallback.Options{MediumLang: cfg.Arbiter.FallbackLang, Metrics: metrics, Logger: logger}
	if chatModel != nil {
		translator, err := translate.New(ctx, chatModel, logger)
		if err != nil {
			logger.Warn("translation disabled", "error", err)
		} else {
			fallbackOpts.Translator = translator
		}
	}

	chatSvc := chat.NewService(chat.Options{
		Sessions:       sessions,
		Catalogue:      catalogue,
		Engine:         engine,
		Fallback:       fallback.New(fallbackOpts),
		History:        historyStore,
		ClearPinOnMiss: cfg.Arbiter.ClearPinOnMiss,
		Metrics:        metrics,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: handler.NewRouter(handler.Options{
			ChatService: chatSvc,
			AuthKey:     cfg.Server.AuthKey,
			Gatherer:    promRegistry,
			Logger:      logger,
			AccessLog:   cfg.Log.Level <= slog.LevelDebug,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("chatbot server listening", "addr", srv.Addr, "auth", cfg.Server.AuthKey != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return sessions.Run(gctx) })
	g.Go(func() error { return historyStore.RunGC(gctx) })
	if cfg.Catalogue.Watch {
		g.Go(func() error { return catalogue.Watch(gctx, registry.DefaultDebounce) })
	}

	err = g.Wait()

	dumpCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	chatSvc.DumpAll(dumpCtx)
	logger.Info("sessions flushed to history")
	return err
}

func historyConfig(cfg config.HistoryConfig, logger *slog.Logger) history.Config {
	hc := history.DefaultConfig(cfg.Dir)
	hc.Logger = logger
	return hc
}

// engineOptions maps the arbiter config; a zero seed is taken from the clock
// and a zero dismiss rate turns gambit dismissal off.
func engineOptions(cfg config.ArbiterConfig, metrics *observability.Metrics, logger *slog.Logger) arbiter.Options {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return arbiter.Options{
		Rand:                   arbiter.NewRand(seed),
		Timeout:                cfg.ResponderTimeout,
		QuibbleSuppression:     cfg.QuibbleSuppression,
		GambitDismissRate:      cfg.GambitDismissRate,
		DisableGambitDismissal: cfg.GambitDismissRate == 0,
		Metrics:                metrics,
		Logger:                 logger,
	}
}

// newChatModel returns nil when Ark is not configured; llm characters then
// stay silent and fallback translation is disabled.
func newChatModel(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) model.ChatModel {
	if !cfg.Enabled() {
		logger.Info("Ark 凭证未配置，跳过 AI 功能初始化")
		return nil
	}
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		logger.Warn("failed to initialize chat model, continuing without AI", "error", err)
		return nil
	}
	logger.Info("chat model initialized", "model", cfg.Model)
	return chatModel
}
