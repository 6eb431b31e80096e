package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"hyfa/internal/agent"
	"hyfa/internal/bus"
	"hyfa/internal/channel"
	"hyfa/internal/config"
	"hyfa/internal/domain"
	"hyfa/internal/memory"
	"hyfa/internal/metrics"
	"hyfa/internal/provider"

	"github.com/spf13/cobra"
)

const (
	busBufferSize   = 100
	shutdownTimeout = 10 * time.Second
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Slack and start answering messages",
		Long:  "Connects to Slack over Socket Mode and dispatches every message event. Press Ctrl+C to stop.",
		RunE:  runHyfa,
	}
}

func runHyfa(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.LoadOrDefaults(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := newLogger(cfg.General, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log
	slog.SetDefault(logger)

	if cfg.Slack.BotToken == "" || cfg.Slack.AppToken == "" {
		return errors.New("slack.botToken and slack.appToken are required (or SLACK_BOT_TOKEN / SLACK_APP_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history, closeHistory, err := openHistory(cfg.History, logger)
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	defer closeHistory()

	llm := provider.NewOpenAI(provider.OpenAIConfig{
		Endpoint:              cfg.LLM.Endpoint,
		AuthToken:             cfg.LLM.AuthToken,
		Model:                 cfg.LLM.Model,
		Timeout:               time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		MaxRetries:            cfg.LLM.MaxRetries,
		Logger:                logger,
		IncludeFunctionsInfo:  cfg.LLM.IncludeFunctionsInfo,
		IncludeRetrievalInfo:  cfg.LLM.IncludeRetrievalInfo,
		IncludeGuardrailsInfo: cfg.LLM.IncludeGuardrailsInfo,
	})
	if err := llm.Healthy(ctx); err != nil {
		logger.Warn("llm endpoint unhealthy at startup", "endpoint", cfg.LLM.Endpoint, "err", err)
	} else {
		logger.Info("llm endpoint healthy", "endpoint", cfg.LLM.Endpoint)
	}

	slackGW := channel.NewSlack(channel.SlackConfig{
		BotToken:   cfg.Slack.BotToken,
		AppToken:   cfg.Slack.AppToken,
		TypingText: cfg.Chat.TypingText,
		Debug:      cfg.Slack.Debug,
		Logger:     logger,
	})

	hyfa := agent.NewHyfa(agent.HyfaConfig{
		Gateway: slackGW,
		LLM:     llm,
		History: history,
		Typing: agent.NewTypingIndicators(agent.TypingConfig{
			Gateway: slackGW,
			Timeout: time.Duration(cfg.Chat.TypingTimeoutSeconds) * time.Second,
			Logger:  logger,
		}),
		Logger:           logger,
		TranscriptLimit:  cfg.Chat.TranscriptLimit,
		ThreadApology:    cfg.Chat.ThreadApology,
		SerializePerUser: cfg.Chat.SerializePerUser,
	})

	recorder := metrics.NewRecorder()
	messageBus := bus.New(busBufferSize, logger)
	loop := agent.NewLoop(agent.LoopConfig{
		Bus:      messageBus,
		Handler:  hyfa,
		Recorder: recorder,
		Logger:   logger,
	})

	// In-flight events keep running after a signal until the drain below times out.
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()
	go loop.Run(loopCtx)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg.Metrics, recorder, logger)
	}

	logger.Info("hyfa started. Press Ctrl+C to stop.", "version", version, "history", cfg.History.Backend)
	runErr := slackGW.Start(ctx, messageBus)
	if runErr != nil {
		logger.Error("slack gateway stopped", "err", runErr)
	}

	logger.Info("shutting down...")
	messageBus.Close()

	drained := make(chan struct{})
	go func() {
		loop.Wait()
		close(drained)
	}()

	var shutdownErr error
	select {
	case <-drained:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, cancelling in-flight events")
		cancelLoop()
		shutdownErr = errors.New("shutdown timed out")
	}

	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(sctx)
	}

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// openHistory builds the configured HistoryStore and a func that releases it.
func openHistory(cfg config.HistoryConfig, logger *slog.Logger) (domain.HistoryStore, func() error, error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := memory.NewSQLiteHistory(cfg.Size, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "", "memory":
		return memory.NewMemoryHistory(cfg.Size), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

func startMetricsServer(cfg config.MetricsConfig, recorder *metrics.Recorder, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Endpoint, recorder.Collector().Handler())

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()
	logger.Info("metrics endpoint enabled", "addr", addr, "path", cfg.Endpoint)
	return srv
}
