package main

import (
	"flag"
	"fmt"
	"net/http"
	"time"

	"ciro-tutor/internal/aggregator"
	"ciro-tutor/internal/api"
	"ciro-tutor/internal/capability"
	"ciro-tutor/internal/compactor"
	"ciro-tutor/internal/config"
	"ciro-tutor/internal/handler"
	"ciro-tutor/internal/llm"
	"ciro-tutor/internal/orchestrator"
	"ciro-tutor/internal/router"
	"ciro-tutor/internal/session"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	addr := flag.String("addr", "", "listen address override, host:port")
	flag.Parse()

	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("logger: %v", err))
	}
	defer logger.Sync()

	store, err := newStore(cfg)
	if err != nil {
		logger.Fatal("session store", zap.Error(err))
	}
	defer store.Close()

	client, err := llm.NewClient(cfg)
	if err != nil {
		logger.Fatal("llm client", zap.Error(err))
	}

	content, err := capability.NewContentSearcher(cfg.Capabilities.Content)
	if err != nil {
		logger.Fatal("content lookup", zap.Error(err))
	}
	web, err := capability.NewWebSearcher(cfg.Capabilities.Web)
	if err != nil {
		logger.Fatal("web lookup", zap.Error(err))
	}

	registry, err := handler.NewRegistry(
		handler.NewUniversity(client, web, logger),
		handler.NewTeacher(client, content, web, cfg.Capabilities.Content.TopK, logger),
		handler.NewMotivator(client, cfg.Router.CrisisKeywords, router.CrisisResponse, logger),
		handler.NewAcademicCoach(client),
		handler.NewKnowledgeCheck(client, logger, nil),
		handler.NewClarify(client),
	)
	if err != nil {
		logger.Fatal("handler registry", zap.Error(err))
	}

	orch := orchestrator.New(
		store,
		router.New(client, cfg.Router, logger, nil),
		registry,
		compactor.New(client, cfg.Compactor.TurnThreshold, cfg.Compactor.KeepRecent, logger, nil),
		aggregator.New(client, logger),
		cfg,
		logger,
		nil,
	)

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	server := &http.Server{
		Addr:         listenAddr,
		Handler:      api.NewServer(orch, store, logger).Router(),
		ReadTimeout:  orDefault(cfg.Server.ReadTimeout, 30*time.Second),
		WriteTimeout: orDefault(cfg.Server.WriteTimeout, 120*time.Second),
	}

	logger.Info("ciro listening",
		zap.String("addr", listenAddr),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("store_backend", cfg.Store.Backend))
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = level
	return zapCfg.Build()
}

func newStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return session.NewSQLite(cfg.Store.SQLitePath)
	default:
		return session.NewInMemoryStore(), nil
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}
