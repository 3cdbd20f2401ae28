package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bonk1t/agent-os/internal/adapter/cache"
	"github.com/bonk1t/agent-os/internal/adapter/gateway"
	"github.com/bonk1t/agent-os/internal/adapter/llm"
	"github.com/bonk1t/agent-os/internal/adapter/sandbox"
	"github.com/bonk1t/agent-os/internal/adapter/skill"
	"github.com/bonk1t/agent-os/internal/adapter/store"
	"github.com/bonk1t/agent-os/internal/infra/config"
	"github.com/bonk1t/agent-os/internal/infra/logger"
	"github.com/bonk1t/agent-os/internal/infra/tracer"
	"github.com/bonk1t/agent-os/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Storage
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close()

	snapshots := cache.NewMemoryCache()

	// 4. Skill registry
	registry := skill.NewRegistry(db, cfg.Skills.Dir, log)
	if err := registry.Reload(ctx); err != nil {
		return fmt.Errorf("skill registry: %w", err)
	}

	// 5. Outbound adapters
	resolver := llm.NewResolver(llm.Options{
		DefaultModel: cfg.LLM.DefaultModel,
		Timeout:      cfg.LLMTimeout(),
		MaxRetries:   cfg.LLM.MaxRetries,
	}, log)

	runner := sandbox.NewRemote(cfg.Sandbox.BaseURL, cfg.Sandbox.APIKey,
		sandbox.WithHTTPClient(&http.Client{Timeout: cfg.SandboxTimeout()}),
		sandbox.WithLogger(log),
	)

	// 6. Use cases
	variables := usecase.NewUserVariableManager(db, cfg.Secrets.Passphrase, log)
	agents := usecase.NewAgentManager(db, db, registry, log)
	agencies := usecase.NewAgencyManager(db, snapshots, agents, variables, resolver, cfg.CacheTTL(), log)
	skills := usecase.NewSkillManager(db, variables, resolver, usecase.SkillManagerOptions{
		SkillsDir:   cfg.Skills.Dir,
		MaxLines:    cfg.Skills.MaxLines,
		JudgeModel:  cfg.LLM.JudgeModel,
		ParserModel: cfg.LLM.ParserModel,
	}, log)
	executor := usecase.NewSkillExecutor(registry, db, variables, resolver, runner, usecase.ExecutorOptions{
		Model:     cfg.LLM.DefaultModel,
		PerMinute: cfg.Skills.ExecPerMin,
		Burst:     cfg.Skills.ExecBurst,
	}, log)
	sessions := usecase.NewSessionManager(db, db, agencies, log)

	// 7. Gateway
	verifier := gateway.NewStaticTokenVerifier(cfg.Auth.Tokens)
	srv := gateway.NewServer(verifier, gateway.Managers{
		Agencies:  agencies,
		Agents:    agents,
		Skills:    skills,
		Sessions:  sessions,
		Executor:  executor,
		Variables: variables,
	}, cfg.Server.Addr, log)

	log.Info("agent-os starting", "addr", cfg.Server.Addr)
	return srv.Start(ctx)
}
