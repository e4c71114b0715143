// Package main is the entry point for the KWA console server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marketbytes-devops/kwa-console/internal/apiclient"
	"github.com/marketbytes-devops/kwa-console/internal/capability"
	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/internal/definition"
	"github.com/marketbytes-devops/kwa-console/internal/form"
	"github.com/marketbytes-devops/kwa-console/internal/lookup"
	"github.com/marketbytes-devops/kwa-console/internal/metadata"
	"github.com/marketbytes-devops/kwa-console/internal/observability"
	"github.com/marketbytes-devops/kwa-console/internal/openapi"
	"github.com/marketbytes-devops/kwa-console/internal/session"
	"github.com/marketbytes-devops/kwa-console/internal/transport"
	"github.com/marketbytes-devops/kwa-console/internal/workspace"
	"github.com/marketbytes-devops/kwa-console/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	checkOnly := flag.Bool("check", false, "validate configuration and page definitions, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Optional backend OpenAPI document, used to check definition endpoints.
	var oaIndex *openapi.Index
	if cfg.Specs.File != "" {
		oaIndex = openapi.NewIndex(cfg.Specs.PathPrefix)
		if err := oaIndex.LoadFile(cfg.Specs.File); err != nil {
			logger.Error("OpenAPI index load failed", zap.Error(err))
			return 1
		}
	}

	defs, err := loadDefinitions(cfg.Definitions, oaIndex, logger)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}
	if *checkOnly {
		logger.Info("configuration and definitions are valid", zap.Int("definitions", len(defs)))
		return 0
	}

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "kwa-console", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.InitMetrics(reg)

	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(registry.PageCount())
	if oaIndex != nil {
		metrics.SetOpenAPIPathsIndexed(oaIndex.Len())
	}

	persistent, closeStore, err := buildSessionStore(ctx, cfg.Session.Store, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}
	sessions := session.NewManager(persistent, session.NewMemoryStore(), cfg.Session.TTL, cfg.Session.RememberTTL)

	client := apiclient.New(cfg.Backend, sessions,
		apiclient.WithRecorder(metrics),
		apiclient.WithLogger(logger),
	)

	evaluator, err := buildEvaluator(cfg.Capability, client)
	if err != nil {
		logger.Error("capability evaluator initialization failed", zap.Error(err))
		return 1
	}
	capResolver := capability.NewResolver(evaluator, cfg.Capability.Cache.TTL,
		capability.WithMaxEntries(cfg.Capability.Cache.MaxEntries),
		capability.WithRecorder(metrics),
	)

	lookups := lookup.NewProvider(cfg.Lookup.Cache.TTL, cfg.Lookup.Cache.MaxEntries,
		lookup.WithRecorder(metrics),
	)

	pageProvider := metadata.NewPageProvider(registry)
	engines := workspace.New(pageProvider,
		func(sid string) form.Collaborator { return client.ForSession(sid) },
		cfg.Engine, cfg.Workspace,
		workspace.WithLogger(logger),
		workspace.WithRecorder(metrics),
		workspace.WithLookups(lookups),
	)

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return registry.PageCount() > 0 },
		SessionStore:      sessions,
		Backend:           client,
	}
	if oaIndex != nil {
		readiness.OpenAPILoaded = func() bool { return oaIndex.Len() > 0 }
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Metrics:            metrics,
		Gatherer:           reg,
		Readiness:          readiness,
		Backend:            client,
		Accounts:           client,
		Sessions:           sessions,
		CapabilityResolver: capResolver,
		Menu:               metadata.NewMenuProvider(registry),
		Pages:              pageProvider,
		Engines:            engines,
		SessionClosers:     []transport.SessionCloser{engines},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go engines.RunSweeper(bgCtx, cfg.Workspace.SweepInterval)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.Int("pages", registry.PageCount()),
		zap.String("definitions_checksum", registry.Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if closeStore != nil {
		if err := closeStore(); err != nil {
			logger.Error("session store close error", zap.Error(err))
		}
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete", zap.Int("open_engines", engines.Len()))
	return 0
}

// loadDefinitions reads and validates every page definition.
func loadDefinitions(cfg config.DefinitionsConfig, index *openapi.Index, logger *zap.Logger) ([]model.DomainDefinition, error) {
	defs, err := definition.NewLoader().LoadAll(cfg.Directories)
	if err != nil {
		return nil, err
	}
	verrs := definition.NewValidator().Validate(defs, index)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		return nil, fmt.Errorf("%d definition validation errors", len(verrs))
	}
	return defs, nil
}

// buildSessionStore returns the store for sessions that outlive the
// process. The ephemeral tier is always in memory.
func buildSessionStore(ctx context.Context, cfg config.SessionStoreConfig, logger *zap.Logger) (session.Store, func() error, error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("session store: %s environment variable not set", cfg.AddrEnv)
		}
		rdb := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		store := session.NewRedisStore(rdb, cfg.KeyPrefix)
		if err := store.HealthCheck(ctx); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("session store: ping: %w", err)
		}
		logger.Info("using redis session store", zap.String("addr", addr), zap.Int("db", cfg.DB))
		return store, rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store driver: %q", cfg.Driver)
	}
}

// buildEvaluator creates the permission source selected in config.
func buildEvaluator(cfg config.CapabilityConfig, client *apiclient.Client) (model.PolicyEvaluator, error) {
	switch cfg.Evaluator {
	case "backend", "":
		accounts := func(sid string) capability.Accounts { return client.ForSession(sid) }
		return capability.NewProfileEvaluator(accounts, cfg.SuperuserRoles), nil
	case "static":
		evaluator, err := capability.NewRoleFileEvaluator(cfg.StaticPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("static policy: %w", err)
		}
		return evaluator, nil
	default:
		return nil, fmt.Errorf("unsupported capability evaluator: %q", cfg.Evaluator)
	}
}
