package cmd

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/syneagent/syne/internal/config"
	"github.com/syneagent/syne/internal/providers"
)

// providerInfo describes how to auto-detect and construct a provider from
// environment/config alone, for onboarding and doctor/verify checks.
type providerInfo struct {
	envKey    string // env var holding the API key (informational; config.ApplyEnvOverrides already applies it)
	apiBase   string // default API base URL for OpenAI-compatible providers
	modelHint string // default model to use when none is configured
}

// providerMap grounds onboarding auto-detection and connectivity verification
// in the same base URLs and model hints the running registry uses.
var providerMap = map[string]providerInfo{
	"anthropic":  {envKey: "SYNE_ANTHROPIC_API_KEY", modelHint: "claude-sonnet-4-5-20250929"},
	"openai":     {envKey: "SYNE_OPENAI_API_KEY", apiBase: "", modelHint: "gpt-4o"},
	"openrouter": {envKey: "SYNE_OPENROUTER_API_KEY", apiBase: "https://openrouter.ai/api/v1", modelHint: "anthropic/claude-sonnet-4-5-20250929"},
	"groq":       {envKey: "SYNE_GROQ_API_KEY", apiBase: "https://api.groq.com/openai/v1", modelHint: "llama-3.3-70b-versatile"},
	"deepseek":   {envKey: "SYNE_DEEPSEEK_API_KEY", apiBase: "https://api.deepseek.com/v1", modelHint: "deepseek-chat"},
	"gemini":     {envKey: "SYNE_GEMINI_API_KEY", apiBase: "https://generativelanguage.googleapis.com/v1beta/openai", modelHint: "gemini-2.0-flash"},
	"mistral":    {envKey: "SYNE_MISTRAL_API_KEY", apiBase: "https://api.mistral.ai/v1", modelHint: "mistral-large-latest"},
	"xai":        {envKey: "SYNE_XAI_API_KEY", apiBase: "https://api.x.ai/v1", modelHint: "grok-3-mini"},
	"minimax":    {envKey: "SYNE_MINIMAX_API_KEY", apiBase: "https://api.minimax.io/v1", modelHint: "MiniMax-M2.5"},
	"cohere":     {envKey: "SYNE_COHERE_API_KEY", apiBase: "https://api.cohere.ai/compatibility/v1", modelHint: "command-a"},
	"perplexity": {envKey: "SYNE_PERPLEXITY_API_KEY", apiBase: "https://api.perplexity.ai", modelHint: "sonar-pro"},
}

// resolveProviderAPIKey returns the configured API key for a provider name.
func resolveProviderAPIKey(cfg *config.Config, name string) string {
	p := cfg.Providers
	switch name {
	case "anthropic":
		return p.Anthropic.APIKey
	case "openai":
		return p.OpenAI.APIKey
	case "openrouter":
		return p.OpenRouter.APIKey
	case "groq":
		return p.Groq.APIKey
	case "deepseek":
		return p.DeepSeek.APIKey
	case "gemini":
		return p.Gemini.APIKey
	case "mistral":
		return p.Mistral.APIKey
	case "xai":
		return p.XAI.APIKey
	case "minimax":
		return p.MiniMax.APIKey
	case "cohere":
		return p.Cohere.APIKey
	case "perplexity":
		return p.Perplexity.APIKey
	default:
		return ""
	}
}

// resolveProviderAPIBase returns the default API base URL for a provider,
// empty for Anthropic and OpenAI (their SDKs carry a default) and for
// unknown names.
func resolveProviderAPIBase(name string) string {
	if pi, ok := providerMap[name]; ok {
		return pi.apiBase
	}
	return ""
}

// newProvider constructs a registry-ready Provider for the given name using
// the configured (or overridden) API key and base URL.
func newProvider(cfg *config.Config, name string) providers.Provider {
	apiKey := resolveProviderAPIKey(cfg, name)
	apiBase := resolveProviderAPIBase(name)

	if name == "anthropic" {
		base := cfg.Providers.Anthropic.APIBase
		return providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: apiKey, BaseURL: base})
	}

	if override := apiBaseOverride(cfg, name); override != "" {
		apiBase = override
	}

	pi := providerMap[name]
	return providers.NewOpenAIProvider(name, apiKey, apiBase, pi.modelHint)
}

// apiBaseOverride returns a user-configured api_base override for providers
// that carry one in config.json, empty otherwise.
func apiBaseOverride(cfg *config.Config, name string) string {
	switch name {
	case "openai":
		return cfg.Providers.OpenAI.APIBase
	case "openrouter":
		return cfg.Providers.OpenRouter.APIBase
	case "groq":
		return cfg.Providers.Groq.APIBase
	case "deepseek":
		return cfg.Providers.DeepSeek.APIBase
	case "gemini":
		return cfg.Providers.Gemini.APIBase
	case "mistral":
		return cfg.Providers.Mistral.APIBase
	case "xai":
		return cfg.Providers.XAI.APIBase
	case "minimax":
		return cfg.Providers.MiniMax.APIBase
	case "cohere":
		return cfg.Providers.Cohere.APIBase
	case "perplexity":
		return cfg.Providers.Perplexity.APIBase
	default:
		return ""
	}
}

// registerProviders registers every provider with a configured API key.
func registerProviders(registry *providers.Registry, cfg *config.Config) {
	for _, name := range providerPriority {
		if resolveProviderAPIKey(cfg, name) == "" {
			continue
		}
		registry.Register(newProvider(cfg, name))
	}
}

// testPostgresConnection opens a short-lived connection to verify the DSN
// is reachable before onboarding commits to it.
func testPostgresConnection(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// onboardGenerateToken returns a random hex token of n random bytes.
func onboardGenerateToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on a live system only fails if the OS entropy
		// source is unavailable; there is nothing sane to fall back to.
		panic("onboard: reading random token: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
