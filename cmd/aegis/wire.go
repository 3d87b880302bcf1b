// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aegis-dev/aegis/internal/agent"
	"github.com/aegis-dev/aegis/internal/config"
	"github.com/aegis-dev/aegis/internal/embedding"
	"github.com/aegis-dev/aegis/internal/guard"
	"github.com/aegis-dev/aegis/internal/memory"
	"github.com/aegis-dev/aegis/internal/provider"
	anthropicprov "github.com/aegis-dev/aegis/internal/provider/anthropic"
	googleprov "github.com/aegis-dev/aegis/internal/provider/google"
	openaiprov "github.com/aegis-dev/aegis/internal/provider/openai"
	"github.com/aegis-dev/aegis/internal/store"
	_ "github.com/aegis-dev/aegis/internal/store/sqlite" // register sqlite backend
	"github.com/aegis-dev/aegis/internal/toolindex"
	"github.com/aegis-dev/aegis/internal/tools"
	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Config       *config.Config
	Providers    *provider.Registry
	Orchestrator *agent.Orchestrator
	Store        store.CheckpointStore
	Memory       *memory.Store

	closers []io.Closer
}

// WireApp creates all subsystems and wires them together.
func WireApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	// 1. Provider registry.
	registry := provider.NewRegistry()
	if err := registerBuiltinProviders(cfg, registry); err != nil {
		return nil, err
	}
	app.Providers = registry
	app.closers = append(app.closers, registry)

	backend, model, err := registry.Resolve(cfg.Agent.Model)
	if err != nil {
		_ = app.Close()
		return nil, aegiserr.Wrapf(err, aegiserr.CodeCLISetupFailure,
			"resolving model %s", cfg.Agent.Model)
	}

	// 2. Long-term memory.
	if err := ensureParentDir(cfg.Memory.Path); err != nil {
		_ = app.Close()
		return nil, err
	}
	mem, err := memory.NewStore(cfg.Memory.Path)
	if err != nil {
		_ = app.Close()
		return nil, aegiserr.Wrap(err, aegiserr.CodeCLISetupFailure, "opening memory store")
	}
	app.Memory = mem

	// 3. Tool set.
	toolReg := tools.NewRegistry()
	fsTools, err := tools.NewFilesystemTools(cfg.Tools.SandboxRoot)
	if err != nil {
		_ = app.Close()
		return nil, aegiserr.Wrap(err, aegiserr.CodeCLISetupFailure, "creating sandbox")
	}
	if err := toolReg.RegisterAll(fsTools...); err != nil {
		_ = app.Close()
		return nil, err
	}
	if err := toolReg.RegisterAll(tools.NewCalculator(), tools.NewDateTime()); err != nil {
		_ = app.Close()
		return nil, err
	}
	if err := toolReg.RegisterAll(tools.NewMemoryTools(mem)...); err != nil {
		_ = app.Close()
		return nil, err
	}
	if cfg.Tools.BrowserEnabled {
		engine := tools.NewBrowserEngine(cfg.Tools.SandboxRoot)
		app.closers = append(app.closers, engine)
		if err := toolReg.RegisterAll(tools.NewBrowserTools(engine)...); err != nil {
			_ = app.Close()
			return nil, err
		}
	}

	// 4. Semantic tool index (optional).
	var index *toolindex.Index
	if cfg.Retrieval.Enabled {
		index, err = wireToolIndex(ctx, cfg, toolReg)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		if index != nil {
			app.closers = append(app.closers, index)
		}
	}

	// 5. Guardrails.
	limiter, err := guard.NewRateLimiter(guard.RateLimiterConfig{
		MaxCalls: cfg.Guardrails.RateLimit.MaxCalls,
		Window:   cfg.Guardrails.RateLimit.Window,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	audit, auditFile, err := guard.OpenAuditLog(cfg.Guardrails.AuditLog)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.closers = append(app.closers, auditFile)
	gate := guard.NewGate(guard.GateConfig{
		DestructiveTools: cfg.Guardrails.DestructiveTools,
		SandboxRoot:      cfg.Tools.SandboxRoot,
	})

	// 6. Orchestrator.
	orch, err := agent.New(agent.Config{
		Backend:       backend,
		Model:         model,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		Temperature:   cfg.Agent.Temperature,
		MaxIterations: cfg.Agent.MaxIterations,
		Registry:      toolReg,
		Index:         index,
		TopK:          cfg.Retrieval.TopK,
		RateLimiter:   limiter,
		Audit:         audit,
		Gate:          gate,
		Memory:        mem,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Orchestrator = orch

	// 7. Checkpoint store.
	if cfg.Storage.Backend == "sqlite" {
		if err := ensureParentDir(cfg.Storage.Path); err != nil {
			_ = app.Close()
			return nil, err
		}
	}
	cs, err := store.New(store.Config{Backend: cfg.Storage.Backend, Path: cfg.Storage.Path})
	if err != nil {
		_ = app.Close()
		return nil, aegiserr.Wrap(err, aegiserr.CodeCLISetupFailure, "opening checkpoint store")
	}
	app.Store = cs
	app.closers = append(app.closers, cs)

	return app, nil
}

// Close releases all wired resources in reverse wiring order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// registerBuiltinProviders creates a backend for every configured provider.
// Well-known environment variables fill in keys the config omits, so a bare
// install with GEMINI_API_KEY exported still works.
func registerBuiltinProviders(cfg *config.Config, registry *provider.Registry) error {
	keys := map[string]string{
		"google":    providerKey(cfg, "google", "GEMINI_API_KEY", "GOOGLE_API_KEY"),
		"anthropic": providerKey(cfg, "anthropic", "ANTHROPIC_API_KEY"),
		"openai":    providerKey(cfg, "openai", "OPENAI_API_KEY"),
	}

	if key := keys["google"]; key != "" {
		b, err := googleprov.New(googleprov.Config{APIKey: key})
		if err != nil {
			return err
		}
		if err := registry.Register(b); err != nil {
			return err
		}
	}
	if key := keys["anthropic"]; key != "" {
		b, err := anthropicprov.New(anthropicprov.Config{
			APIKey:  key,
			BaseURL: cfg.Providers["anthropic"].BaseURL,
		})
		if err != nil {
			return err
		}
		if err := registry.Register(b); err != nil {
			return err
		}
	}
	if key := keys["openai"]; key != "" {
		b, err := openaiprov.New(openaiprov.Config{
			APIKey:  key,
			BaseURL: cfg.Providers["openai"].BaseURL,
		})
		if err != nil {
			return err
		}
		if err := registry.Register(b); err != nil {
			return err
		}
	}

	return nil
}

func providerKey(cfg *config.Config, name string, envVars ...string) string {
	if pc, ok := cfg.Providers[name]; ok && pc.APIKey != "" {
		return pc.APIKey
	}
	for _, env := range envVars {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}

// wireToolIndex builds the persisted semantic index. A missing embedding key
// disables retrieval with a warning instead of failing startup; every tool is
// then bound on every turn.
func wireToolIndex(ctx context.Context, cfg *config.Config, toolReg *tools.Registry) (*toolindex.Index, error) {
	key := providerKey(cfg, "google", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	if key == "" {
		slog.Warn("tool retrieval disabled: no google api key for embeddings")
		return nil, nil
	}

	engine, err := embedding.NewGenAIEngine(embedding.GenAIConfig{
		APIKey: key,
		Model:  cfg.Retrieval.EmbeddingModel,
	})
	if err != nil {
		return nil, aegiserr.Wrap(err, aegiserr.CodeCLISetupFailure, "creating embedding engine")
	}

	if err := ensureParentDir(cfg.Retrieval.IndexPath); err != nil {
		return nil, err
	}
	index, err := toolindex.New(ctx, toolindex.Config{
		DBPath: cfg.Retrieval.IndexPath,
		Engine: engine,
		Tools:  toolReg.Definitions(),
	})
	if err != nil {
		return nil, aegiserr.Wrap(err, aegiserr.CodeCLISetupFailure, "building tool index")
	}
	return index, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeCLISetupFailure, "creating directory %s", dir)
	}
	return nil
}
