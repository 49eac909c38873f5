package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/syneagent/syne/internal/agent"
	"github.com/syneagent/syne/internal/bus"
	"github.com/syneagent/syne/internal/channels"
	"github.com/syneagent/syne/internal/config"
	"github.com/syneagent/syne/internal/identity"
	"github.com/syneagent/syne/internal/memory"
	"github.com/syneagent/syne/internal/prompt"
	"github.com/syneagent/syne/internal/providers"
	"github.com/syneagent/syne/internal/subagent"
	"github.com/syneagent/syne/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agent: load config, wire channels, and run the conversation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

// runServe wires every component the agent needs and blocks until a signal
// requests shutdown. Grounded on the teacher's cmd/gateway.go bootstrap,
// trimmed from its multi-tenant managed/standalone split and WebSocket RPC
// surface down to the single-tenant, single Conversation Loop this system
// runs — one store, one provider registry, one tool registry, one loop
// shared by every channel and the scheduler.
func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
		fmt.Println("No configuration found. Starting setup wizard...")
		ok := true
		if canAutoOnboard() {
			ok = runAutoOnboard(cfgPath)
		} else if ierr := runInteractiveOnboard(cfgPath); ierr != nil {
			slog.Error("onboarding failed", "error", ierr)
			ok = false
		}
		if !ok {
			os.Exit(1)
		}
		cfg, err = config.Load(cfgPath)
		if err != nil {
			slog.Error("failed to reload config after onboarding", "error", err)
			os.Exit(1)
		}
	}

	workspace := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		slog.Error("failed to create workspace directory", "path", workspace, "error", err)
		os.Exit(1)
	}

	st, db, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	registry := providers.NewRegistry()
	registerProviders(registry, cfg)
	wireEmbedder(registry, cfg)
	if active := cfg.Agents.Defaults.Provider; active != "" {
		if serr := registry.SetActive(active); serr != nil {
			slog.Warn("configured active provider unavailable", "provider", active, "error", serr)
		}
	}

	var memEngine *memory.Engine
	if memCfg := cfg.Agents.Defaults.Memory; memCfg == nil || memCfg.Enabled == nil || *memCfg.Enabled {
		embName := ""
		if memCfg != nil {
			embName = memCfg.EmbeddingProvider
		}
		embedder, _ := registry.GetEmbedder(embName)
		memEngine = memory.NewEngine(st, embedder)
	}

	toolReg := buildToolRegistry(cfg, st, registry, memEngine, workspace)
	builder := prompt.NewBuilder(st)
	msgBus := bus.NewMessageBus()

	loop := agent.NewLoop(st, registry, toolReg, builder, func(sessionID uuid.UUID, message string) {
		slog.Debug("session notify", "session", sessionID, "message", message)
	})

	wireSubagentTools(cfg, st, loop, msgBus, toolReg)

	resolver := identity.NewResolver(st)

	channelMgr := channels.NewManager(msgBus)
	wireChannels(cfg, msgBus, resolver, channelMgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := buildScheduler(st, loop, db)
	go sched.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	go consumeInbound(ctx, msgBus, resolver, loop)

	slog.Info("syne starting",
		"version", Version,
		"workspace", workspace,
		"tools", len(toolReg.Visible("owner", false)),
		"channels", channelMgr.GetEnabledChannels(),
	)

	go func() {
		sig := <-sigCh
		slog.Info("shutdown requested", "signal", sig)
		channelMgr.StopAll(context.Background())
		cancel()
	}()

	<-ctx.Done()
}
