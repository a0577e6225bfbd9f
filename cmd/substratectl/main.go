package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/collabmesh/substrate/internal/agentinvoker"
	"github.com/collabmesh/substrate/internal/arbitrate"
	"github.com/collabmesh/substrate/internal/arbitrate/plugins"
	"github.com/collabmesh/substrate/internal/audit"
	"github.com/collabmesh/substrate/internal/config"
	"github.com/collabmesh/substrate/internal/dispatch"
	"github.com/collabmesh/substrate/internal/memory"
	"github.com/collabmesh/substrate/internal/observability"
	"github.com/collabmesh/substrate/internal/orchestrate"
	"github.com/collabmesh/substrate/internal/roles"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

const Version = "0.1.0"

func main() {
	os.Exit(run())
}

// run wires the ambient stack and drives one pipeline invocation, returning
// a process exit code per spec.md §6: 0 success, 1 recoverable failure,
// 2 configuration error.
func run() int {
	var (
		prompt      = flag.String("prompt", "", "master prompt to fragment, dispatch, and compose")
		taskType    = flag.String("task-type", "general", "task type consulted by fragmentation and assignment")
		domain      = flag.String("domain", "", "task domain hint forwarded to the fragmenter")
		healthCheck = flag.Bool("health", false, "print an ambient-stack health check and exit, ignoring -prompt")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 2
	}

	if *healthCheck {
		return runHealthCheck(cfg)
	}

	if *prompt == "" {
		fmt.Fprintln(os.Stderr, "substratectl: -prompt is required")
		return 2
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		Output:        os.Stderr,
		AddSource:     true,
		SentryEnabled: cfg.Observability.Sentry.Enabled,
	})

	logger.Info("substratectl starting",
		"version", Version,
		"task_type", *taskType,
		"metrics_enabled", cfg.Observability.Metrics.Enabled,
		"tracing_enabled", cfg.Observability.Tracing.Enabled,
	)

	var metrics *observability.MetricsCollector
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetricsCollector("substrate")
		metrics.SetSystemStartTime(time.Now())
		go startMetricsServer(cfg, logger)
	}

	var tracerProvider *observability.TracerProvider
	if cfg.Observability.Tracing.Enabled {
		tp, err := observability.NewTracerProvider(observability.TracerConfig{
			ServiceName:  "substrate",
			Environment:  cfg.Observability.Sentry.Environment,
			OTLPEndpoint: cfg.Observability.Tracing.Endpoint,
			SamplingRate: cfg.Observability.Tracing.SampleRate,
			Enabled:      true,
		})
		if err != nil {
			logger.Error("Failed to initialize tracer provider", "error", err)
			return 1
		}
		tracerProvider = tp
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to shutdown tracer provider", "error", err)
			}
		}()
	} else {
		logger.Info("Tracing disabled")
	}

	if cfg.Observability.Sentry.Enabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Observability.Sentry.DSN,
			Environment:      cfg.Observability.Sentry.Environment,
			Release:          cfg.Observability.Sentry.Release,
			TracesSampleRate: cfg.Observability.Sentry.SampleRate,
			EnableTracing:    true,
		})
		if err != nil {
			logger.Error("Failed to initialize Sentry", "error", err)
			return 1
		}
		defer sentry.Flush(2 * time.Second)
	} else {
		logger.Info("Sentry disabled")
	}

	errHandler := observability.NewErrorHandler(logger, metrics, cfg.Observability.Sentry.Enabled)

	registry, err := roles.New(cfg.Roles.ConfigPath)
	if err != nil {
		logger.Error("Failed to load roles registry", "error", err, "path", cfg.Roles.ConfigPath)
		return 2
	}

	store, err := memory.NewSQLiteStore(cfg.Memory.DBPath)
	if err != nil {
		logger.Error("Failed to open memory store", "error", err, "path", cfg.Memory.DBPath)
		return 1
	}
	defer store.Close()

	memGraph, err := memory.New(store, cfg.Memory.CacheSize)
	if err != nil {
		logger.Error("Failed to build memory graph", "error", err)
		return 1
	}

	taskTypeStrategies := make(map[string]string, len(cfg.Arbitration.TaskTypeStrategies))
	for k, v := range cfg.Arbitration.TaskTypeStrategies {
		taskTypeStrategies[k] = v.Primary
	}
	loader := arbitrate.NewLoader(cfg.Plugins.Directory, cfg.Plugins.FileGlob, plugins.Factories(), plugins.Builtins())
	engine := arbitrate.NewEngine(loader, arbitrate.EngineConfig{
		DefaultStrategy:    cfg.Arbitration.DefaultStrategy,
		FallbackStrategy:   cfg.Arbitration.FallbackStrategy,
		FallbackConfidence: cfg.Arbitration.FallbackConfidence,
		MinorDisputeDelta:  cfg.Arbitration.MinorDisputeDelta,
		TaskTypeStrategies: taskTypeStrategies,
	})

	auditSink := audit.NewSink(audit.Config{
		Enabled:       cfg.Audit.Enabled,
		RedisAddr:     cfg.Audit.RedisAddr,
		RedisPassword: cfg.Audit.RedisPassword,
		RedisDB:       cfg.Audit.RedisDB,
		ChannelPrefix: cfg.Audit.ChannelPrefix,
	}, logger.Underlying(), errHandler)
	defer auditSink.Close()

	invokers := agentinvoker.NewStaticRegistry(defaultInvokers(registry, logger))

	pipeline := orchestrate.New(orchestrate.Deps{
		Registry: registry,
		Invokers: invokers,
		Memory:   memGraph,
		Engine:   engine,
		DispatchCfg: dispatch.Config{
			MaxConcurrency:  cfg.Dispatch.MaxConcurrency,
			SubtaskTimeout:  cfg.Dispatch.SubtaskTimeout,
			MaxRetries:      cfg.Dispatch.MaxRetries,
			RetryBaseDelay:  cfg.Dispatch.RetryBaseDelay,
			RetryMultiplier: cfg.Dispatch.RetryMultiplier,
		},
		Audit:      auditSink,
		Logger:     logger.Underlying(),
		ErrHandler: errHandler,
	})
	defer pipeline.Close()

	start := time.Now()
	envelope, err := pipeline.Run(ctx, *prompt, *taskType, *domain)
	duration := time.Since(start)

	errHandler.HandleError(ctx, err, observability.ErrorContext{
		Method:   "pipeline.run",
		Duration: duration,
	})

	if err != nil {
		fmt.Fprintf(os.Stderr, "substratectl: pipeline run failed: %v\n", err)
		return 1
	}

	out, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "substratectl: failed to marshal envelope: %v\n", err)
		return 1
	}
	fmt.Fprintln(os.Stdout, string(out))

	if len(envelope.FailedSubtaskIDs) > 0 {
		return 1
	}
	return 0
}

// runHealthCheck builds just enough of the ambient stack to report whether
// Sentry, metrics, and tracing are configured, then prints
// observability.ErrorHandler.CreateHealthCheck's response as JSON.
func runHealthCheck(cfg *config.Config) int {
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		Output:        os.Stderr,
		SentryEnabled: cfg.Observability.Sentry.Enabled,
	})

	var metrics *observability.MetricsCollector
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetricsCollector("substrate")
	}

	errHandler := observability.NewErrorHandler(logger, metrics, cfg.Observability.Sentry.Enabled)

	ctx := context.Background()
	if cfg.Observability.Tracing.Enabled {
		tp, err := observability.NewTracerProvider(observability.TracerConfig{
			ServiceName:  "substrate",
			Environment:  cfg.Observability.Sentry.Environment,
			OTLPEndpoint: cfg.Observability.Tracing.Endpoint,
			SamplingRate: cfg.Observability.Tracing.SampleRate,
			Enabled:      true,
		})
		if err == nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
			var span trace.Span
			ctx, span = tp.StartSpan(ctx, "health_check")
			defer span.End()
		}
	}

	health := errHandler.CreateHealthCheck(ctx, Version)
	out, err := json.MarshalIndent(health, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "substratectl: failed to marshal health check: %v\n", err)
		return 1
	}
	fmt.Fprintln(os.Stdout, string(out))
	if health.Status != "healthy" {
		return 1
	}
	return 0
}

// startMetricsServer mounts the Prometheus handler on a background HTTP
// server for the lifetime of the process; its failure does not fail the run.
func startMetricsServer(cfg *config.Config, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Observability.Metrics.Port)
	logger.Info("Metrics server listening", "addr", addr, "path", cfg.Observability.Metrics.Path)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server stopped", "error", err)
	}
}

// defaultInvokers builds a placeholder echo invoker for every agent in the
// loaded roles registry so a fresh checkout can run end to end without
// external AI provider credentials configured; production deployments
// replace this with the smart-router registry agentinvoker.Registry is
// designed to be swapped in for.
func defaultInvokers(registry *roles.Registry, logger *observability.Logger) map[string]agentinvoker.Invoker {
	invokers := make(map[string]agentinvoker.Invoker, len(registry.ListAgents()))
	for _, agent := range registry.ListAgents() {
		name := agent.AgentName
		invokers[agent.AgentID] = agentinvoker.FuncInvoker(func(ctx context.Context, req agentinvoker.Request) (agentinvoker.Response, error) {
			logger.Debug("echo invoker called", "agent_id", req.AgentID, "prompt_len", len(req.Prompt))
			content := fmt.Sprintf("%s response to: %s", name, req.Prompt)
			return agentinvoker.Response{
				Content:        content,
				Usage:          agentinvoker.TokenUsage{Prompt: len(req.Prompt) / 4, Completion: len(content) / 4, Total: (len(req.Prompt) + len(content)) / 4},
				LatencySeconds: 0.05,
				Model:          "echo-1",
			}, nil
		})
	}
	return invokers
}
