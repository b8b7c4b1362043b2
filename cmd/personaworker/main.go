// Command personaworker runs the persona worker: it consumes the firehose
// and observation streams, decides when each persona speaks, generates the
// replies, and publishes them onto the ingest stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"

	"github.com/itsDarianNgo/Chatter/internal/bus"
	"github.com/itsDarianNgo/Chatter/internal/config"
	"github.com/itsDarianNgo/Chatter/internal/generate"
	"github.com/itsDarianNgo/Chatter/internal/health"
	"github.com/itsDarianNgo/Chatter/internal/observe"
	"github.com/itsDarianNgo/Chatter/internal/safety"
	"github.com/itsDarianNgo/Chatter/internal/worker"
	"github.com/itsDarianNgo/Chatter/pkg/memory"
	memorypg "github.com/itsDarianNgo/Chatter/pkg/memory/postgres"
	"github.com/itsDarianNgo/Chatter/pkg/provider/embeddings"
	ollamaembed "github.com/itsDarianNgo/Chatter/pkg/provider/embeddings/ollama"
	oaembed "github.com/itsDarianNgo/Chatter/pkg/provider/embeddings/openai"
	"github.com/itsDarianNgo/Chatter/pkg/provider/llm/anyllm"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/worker.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "personaworker: %v\n", err)
		return 1
	}

	logger, logLevel := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	rooms, err := config.LoadRooms(cfg.RoomConfigPath)
	if err != nil {
		logger.Error("failed to load rooms", "path", cfg.RoomConfigPath, "err", err)
		return 1
	}
	personas, err := config.LoadPersonas(cfg.PersonaConfigDir)
	if err != nil {
		logger.Error("failed to load personas", "dir", cfg.PersonaConfigDir, "err", err)
		return 1
	}
	if len(personas) == 0 {
		logger.Error("no personas configured", "dir", cfg.PersonaConfigDir)
		return 1
	}

	rules := safety.DefaultRules()
	if cfg.ModerationRulesPath != "" {
		rules, err = safety.LoadRules(cfg.ModerationRulesPath)
		if err != nil {
			logger.Error("failed to load moderation rules", "path", cfg.ModerationRulesPath, "err", err)
			return 1
		}
	}
	filter, err := safety.NewFilter(rules)
	if err != nil {
		logger.Error("failed to build moderation filter", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "persona-worker"})
	if err != nil {
		logger.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Error("failed to create metrics", "err", err)
		return 1
	}

	b, err := bus.NewRedis(cfg.Bus.RedisURL, logger)
	if err != nil {
		logger.Error("failed to connect to the bus", "err", err)
		return 1
	}
	defer b.Close()

	gen, err := buildGenerator(cfg, metrics, logger)
	if err != nil {
		logger.Error("failed to build generator", "mode", cfg.Generation.Mode, "err", err)
		return 1
	}

	guard, err := buildMemory(ctx, cfg, filter, metrics, logger)
	if err != nil {
		logger.Error("failed to build memory", "backend", cfg.Memory.Backend, "err", err)
		return 1
	}
	if guard != nil {
		defer guard.Close()
	}

	consumer := consumerName("worker")
	w := worker.New(cfg, consumer, b, gen, guard, personas, rooms, logger,
		worker.WithMetrics(metrics))

	ready := health.Checker{Name: "bus", Check: b.Ping}
	srv := worker.NewServer(cfg.Server.ListenAddr, w, ready, metrics, logger)

	// Hot reload: auto-commentary tuning and log level apply live, anything
	// else logs a restart hint.
	if _, statErr := os.Stat(*configPath); statErr == nil {
		watcher, werr := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.AutoCommentaryChanged {
				w.UpdateAutoCommentary(d.NewAutoCommentary)
			}
			if d.LogLevelChanged {
				logLevel.Set(slogLevel(d.NewLogLevel))
				logger.Info("log level changed", "level", d.NewLogLevel)
			}
			if d.RestartRequired {
				logger.Warn("config change outside the hot-reload surface, restart to apply")
			}
		}, config.WithWatcherLogger(logger))
		if werr != nil {
			logger.Warn("config watcher not started", "err", werr)
		} else {
			defer watcher.Stop()
		}
	}

	logger.Info("persona worker starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"consumer", consumer,
		"personas", len(personas),
		"rooms", len(rooms),
		"generation_mode", cfg.Generation.Mode,
		"memory_backend", cfg.Memory.Backend,
		"auto_commentary", cfg.AutoCommentary.Enabled)

	errCh := make(chan error, 2)
	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("worker: %w", err)
		}
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	exit := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("fatal error", "err", err)
		exit = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "err", err)
	}
	logger.Info("persona worker stopped")
	return exit
}

// buildGenerator constructs the reply generator selected by the config.
func buildGenerator(cfg *config.Config, m *observe.Metrics, logger *slog.Logger) (generate.Generator, error) {
	switch cfg.Generation.Mode {
	case config.ModeDeterministic:
		return generate.NewDeterministic(), nil
	case config.ModeStub:
		return generate.NewStub(cfg.Generation.FixturesPath)
	case config.ModeLLM:
		prompts, err := generate.LoadPrompts(cfg.Generation.PromptDir)
		if err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
		logger.Info("prompts loaded", "dir", cfg.Generation.PromptDir, "combined_hash", prompts.CombinedHash())
		lc := cfg.Generation.LLM
		var opts []anyllmlib.Option
		if lc.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(lc.APIKey))
		}
		if lc.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(lc.BaseURL))
		}
		provider, err := anyllm.New(lc.Provider, lc.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", lc.Provider, err)
		}
		return generate.NewLLM(provider, prompts, lc.Timeout, lc.MaxConcurrent, m, logger), nil
	default:
		return nil, fmt.Errorf("unknown generation mode %q", cfg.Generation.Mode)
	}
}

// buildMemory constructs the memory guard around the configured backend.
func buildMemory(ctx context.Context, cfg *config.Config, filter *safety.Filter, m *observe.Metrics, logger *slog.Logger) (*memory.Guard, error) {
	mc := cfg.Memory
	var store memory.Adapter
	switch mc.Backend {
	case config.BackendMemory:
		store = memory.NewMemStore()
	case config.BackendPostgres:
		embed, err := buildEmbeddings(mc)
		if err != nil {
			return nil, err
		}
		store, err = memorypg.New(ctx, mc.PostgresDSN, embed)
		if err != nil {
			return nil, fmt.Errorf("connect memory store: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown memory backend %q", mc.Backend)
	}
	return memory.NewGuard(store, filter, mc.Deadline, mc.MaxConcurrent, m, logger), nil
}

// buildEmbeddings constructs the embeddings provider for the postgres
// backend. The OpenAI key comes from the environment, never the file.
func buildEmbeddings(mc config.MemoryConfig) (embeddings.Provider, error) {
	switch mc.Embeddings {
	case config.EmbeddingsOpenAI:
		return oaembed.New(os.Getenv("OPENAI_API_KEY"), mc.EmbeddingsModel)
	case config.EmbeddingsOllama:
		return ollamaembed.New(mc.OllamaURL, mc.EmbeddingsModel)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", mc.Embeddings)
	}
}

func consumerName(service string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%s", service, host, uuid.NewString()[:8])
}

func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
