package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syneagent/syne/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactively configure config.json for first run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()

			if _, err := os.Stat(cfgPath); err == nil {
				fmt.Printf("Config already exists at %s — nothing to do.\n", cfgPath)
				fmt.Println("Delete it (or pass --config with a new path) to onboard again.")
				return nil
			}

			if canAutoOnboard() {
				if !runAutoOnboard(cfgPath) {
					return fmt.Errorf("auto-onboard failed")
				}
				return nil
			}

			return runInteractiveOnboard(cfgPath)
		},
	}
}

// runInteractiveOnboard prompts on stdin for the minimum needed to produce a
// working config.json: one provider's API key, a workspace directory, and
// optionally a Telegram bot token.
func runInteractiveOnboard(cfgPath string) error {
	reader := bufio.NewReader(os.Stdin)
	ask := func(prompt, def string) string {
		if def != "" {
			fmt.Printf("%s [%s]: ", prompt, def)
		} else {
			fmt.Printf("%s: ", prompt)
		}
		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			return def
		}
		return line
	}

	fmt.Println("syne onboard — first-run setup")
	fmt.Println()

	cfg := config.Default()

	provider := ask("Primary provider (anthropic, openai, openrouter, groq, ...)", "anthropic")
	if _, ok := providerMap[provider]; !ok {
		return fmt.Errorf("unknown provider %q", provider)
	}
	apiKey := ask(fmt.Sprintf("%s API key", provider), "")
	if apiKey == "" {
		return fmt.Errorf("an API key is required to continue")
	}
	setProviderAPIKey(cfg, provider, apiKey)
	cfg.Agents.Defaults.Provider = provider
	if pi, ok := providerMap[provider]; ok {
		cfg.Agents.Defaults.Model = pi.modelHint
	}

	workspace := ask("Workspace directory", config.ExpandHome("~/syne-workspace"))
	cfg.Agents.Defaults.Workspace = workspace
	if err := os.MkdirAll(config.ExpandHome(workspace), 0755); err != nil {
		slog.Warn("could not create workspace directory", "path", workspace, "error", err)
	}

	if tgToken := ask("Telegram bot token (leave blank to skip)", ""); tgToken != "" {
		cfg.Channels.Telegram.Enabled = true
		cfg.Channels.Telegram.Token = tgToken
	}

	if cfg.Gateway.Token == "" {
		cfg.Gateway.Token = onboardGenerateToken(16)
	}

	enabled := true
	cfg.Agents.Defaults.Memory = &config.MemoryConfig{Enabled: &enabled}

	fmt.Println()
	fmt.Println("Verifying provider connectivity...")
	if fatalErrors := verifyAllProviders(cfg, provider); len(fatalErrors) > 0 {
		return fmt.Errorf("provider verification failed: %s", strings.Join(fatalErrors, "; "))
	}

	if err := saveCleanConfig(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", cfgPath)
	fmt.Println("Run 'syne' to start the agent.")
	return nil
}

// setProviderAPIKey writes apiKey into the named provider's config slot.
func setProviderAPIKey(cfg *config.Config, name, apiKey string) {
	switch name {
	case "anthropic":
		cfg.Providers.Anthropic.APIKey = apiKey
	case "openai":
		cfg.Providers.OpenAI.APIKey = apiKey
	case "openrouter":
		cfg.Providers.OpenRouter.APIKey = apiKey
	case "groq":
		cfg.Providers.Groq.APIKey = apiKey
	case "deepseek":
		cfg.Providers.DeepSeek.APIKey = apiKey
	case "gemini":
		cfg.Providers.Gemini.APIKey = apiKey
	case "mistral":
		cfg.Providers.Mistral.APIKey = apiKey
	case "xai":
		cfg.Providers.XAI.APIKey = apiKey
	case "minimax":
		cfg.Providers.MiniMax.APIKey = apiKey
	case "cohere":
		cfg.Providers.Cohere.APIKey = apiKey
	case "perplexity":
		cfg.Providers.Perplexity.APIKey = apiKey
	}
}
