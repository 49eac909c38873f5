package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"

	"github.com/syneagent/syne/internal/agent"
	"github.com/syneagent/syne/internal/bus"
	"github.com/syneagent/syne/internal/channels"
	"github.com/syneagent/syne/internal/channels/telegram"
	"github.com/syneagent/syne/internal/channels/whatsapp"
	"github.com/syneagent/syne/internal/comm"
	"github.com/syneagent/syne/internal/config"
	"github.com/syneagent/syne/internal/identity"
	"github.com/syneagent/syne/internal/memory"
	"github.com/syneagent/syne/internal/providers"
	"github.com/syneagent/syne/internal/scheduler"
	"github.com/syneagent/syne/internal/security"
	"github.com/syneagent/syne/internal/store"
	"github.com/syneagent/syne/internal/store/memstore"
	"github.com/syneagent/syne/internal/store/pg"
	"github.com/syneagent/syne/internal/subagent"
	"github.com/syneagent/syne/internal/tools"
	"github.com/syneagent/syne/internal/upgrade"
)

// openStore picks the persistence backend: Postgres when a DSN is
// configured, the in-memory fake otherwise. It also checks/runs pending
// schema migrations when SYNE_AUTO_UPGRADE is set, matching migrate.go's
// own migrator. The *sql.DB return value is nil for the in-memory backend;
// it is only used to back the scheduler's schema-version check task.
func openStore(cfg *config.Config) (store.Store, *sql.DB, error) {
	if !cfg.UsesPostgres() {
		return memstore.New(), nil, nil
	}

	dsn := cfg.Database.PostgresDSN
	if err := checkSchemaOrAutoUpgrade(dsn); err != nil {
		return nil, nil, fmt.Errorf("schema check: %w", err)
	}

	st, err := pg.Open(context.Background(), pg.DefaultPoolConfig(dsn))
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sql.DB for schema checks: %w", err)
	}
	return st, db, nil
}

// wireEmbedder registers the configured (or auto-detected) embedding
// provider so internal/memory's Engine can vectorize on write and recall.
// Only OpenAI-compatible embeddings are wired (the one Embedder this
// codebase implements); Anthropic has no embeddings endpoint.
func wireEmbedder(registry *providers.Registry, cfg *config.Config) {
	memCfg := cfg.Agents.Defaults.Memory
	if memCfg == nil || (memCfg.Enabled != nil && !*memCfg.Enabled) {
		return
	}

	name := memCfg.EmbeddingProvider
	if name == "" {
		name = autoDetectEmbeddingProvider(cfg)
	}
	if name == "" || !embeddingCapable[name] {
		return
	}

	apiKey := resolveProviderAPIKey(cfg, name)
	if apiKey == "" {
		return
	}
	apiBase := memCfg.EmbeddingAPIBase
	if apiBase == "" {
		apiBase = resolveProviderAPIBase(name)
	}
	model := memCfg.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}

	registry.RegisterEmbedder(name, providers.NewOpenAIEmbedder(apiKey, apiBase, model, 1536))
}

// buildToolRegistry registers every built-in tool this binary ships,
// scoped to the workspace directory and the agent's restrict-to-workspace
// setting. Grounded on the teacher's cmd/gateway.go tool-registration
// block, trimmed to the tools this codebase actually implements (no
// sandboxed/Docker-routed variants, no browser automation, no TTS).
func buildToolRegistry(cfg *config.Config, st store.Store, registry *providers.Registry, memEngine *memory.Engine, workspace string) *tools.Registry {
	reg := tools.NewRegistry()
	restrict := cfg.Agents.Defaults.RestrictToWorkspace

	reg.Register(tools.NewReadFileTool(workspace, restrict))
	reg.Register(tools.NewFileWriteTool(security.FileWriteScope{
		WorkingDir:   workspace,
		WorkspaceDir: workspace,
		AbilitiesDir: filepath.Join(workspace, "abilities"),
	}))
	reg.Register(tools.NewExecTool(workspace, restrict))

	if memEngine != nil {
		reg.Register(tools.NewMemorySearchTool(memEngine))
		slog.Info("memory tool enabled")
	}

	reg.Register(tools.NewScheduleTaskTool(st))
	reg.Register(tools.NewListScheduledTasksTool(st))
	reg.Register(tools.NewCancelScheduledTaskTool(st))

	if cfg.Tools.Web.DuckDuckGo.Enabled {
		reg.Register(tools.NewWebFetchTool(0))
		slog.Info("web_fetch tool enabled")
	}

	return reg
}

// wireSubagentTools constructs the Sub-Agent Manager and registers its
// four agent-facing tools. Finished runs deliver back through the message
// bus as an outbound message to the chat that spawned them.
func wireSubagentTools(cfg *config.Config, st store.Store, loop *agent.Loop, msgBus *bus.MessageBus, toolReg *tools.Registry) *subagent.Manager {
	maxConcurrent := 0
	if sc := cfg.Agents.Defaults.Subagents; sc != nil {
		maxConcurrent = sc.MaxConcurrent
	}
	mgr := subagent.NewManager(st, loop, maxConcurrent, func(platform, chatID string, run store.SubAgentRun) {
		content := run.Result
		if run.Status != store.SubAgentCompleted {
			content = fmt.Sprintf("sub-agent task failed: %s", run.Error)
		}
		msgBus.PublishOutbound(bus.OutboundMessage{Channel: platform, ChatID: chatID, Content: content})
	})
	toolReg.Register(tools.NewSpawnSubAgentTool(mgr))
	toolReg.Register(tools.NewListActiveSubAgentsTool(mgr))
	toolReg.Register(tools.NewGetSubAgentRunTool(mgr))
	toolReg.Register(tools.NewCancelSubAgentsTool(mgr))
	return mgr
}

// wireChannels registers every enabled channel adapter against the shared
// message bus and resolver. Only Telegram and WhatsApp adapters exist in
// this build; the other channel config structs (Discord, Slack, Zalo,
// Feishu) are parsed for forward-compatibility but have no adapter to
// register against.
func wireChannels(cfg *config.Config, msgBus *bus.MessageBus, resolver *identity.Resolver, mgr *channels.Manager) {
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus, resolver)
		if err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			mgr.RegisterChannel("telegram", tg)
			slog.Info("telegram channel enabled")
		}
	}

	if cfg.Channels.WhatsApp.Enabled {
		wa, err := whatsapp.New(cfg.Channels.WhatsApp, msgBus, resolver)
		if err != nil {
			slog.Error("failed to initialize whatsapp channel", "error", err)
		} else {
			mgr.RegisterChannel("whatsapp", wa)
			slog.Info("whatsapp channel enabled")
		}
	}
}

// buildScheduler wires the 30s poll loop to the shared Loop (re-entering
// the conversation as the task's owner) and to the schema-version checker
// when running against Postgres; db is nil for the in-memory backend, in
// which case the reserved update-check task reports schema status as
// always current.
func buildScheduler(st store.Store, loop *agent.Loop, db *sql.DB) *scheduler.Scheduler {
	onExecute := func(ctx context.Context, taskID uuid.UUID, payload string, createdBy uuid.UUID) (string, error) {
		turn := agent.Turn{
			Platform:     "system",
			ChatID:       "scheduled:" + taskID.String(),
			UserID:       createdBy,
			CallerAccess: store.AccessOwner,
			Text:         payload,
			Inbound: comm.InboundContext{
				Channel:  "system",
				Platform: "system",
				ChatType: comm.ChatDirect,
				ChatID:   "scheduled:" + taskID.String(),
			},
		}
		result, err := loop.Run(ctx, turn)
		if err != nil {
			return "", err
		}
		return result.Text, nil
	}

	deliver := func(ctx context.Context, createdBy uuid.UUID, message string) {
		slog.Info("scheduled notification", "user", createdBy, "message", message)
	}

	var checker scheduler.VersionChecker
	if db != nil {
		checker = upgrade.SchemaVersionChecker{DB: db}
	}

	return scheduler.NewScheduler(st, onExecute, deliver, checker)
}
