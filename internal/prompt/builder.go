// Package prompt assembles the system prompt fresh every turn from the
// store (identity, soul, rules, tool/ability state, config). Modeled on
// the shape the agent package expects from a "BuildSystemPrompt" step
// (internal/agent/loop_history.go calls one, but the function itself was
// never present upstream — this package supplies the real implementation
// instead of the missing stub).
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/syneagent/syne/internal/security"
	"github.com/syneagent/syne/internal/store"
)

// ToolDescriptor is the minimal view of a registered tool the prompt needs
// to render its schema section. internal/tools' registry builds these.
type ToolDescriptor struct {
	Name                string
	Description         string
	ParametersJSONSchema string // pre-rendered JSON schema text
	RequiredAccessLevel store.AccessLevel
}

// AbilityStatus describes one ability's readiness for the config snapshot
// section.
type AbilityStatus struct {
	Name    string
	Enabled bool
	Ready   bool // true once required config keys are present
	Reason  string
}

// Builder assembles the deterministic system prompt. It reads
// identity/soul/rules/config from the store fresh each
// call; tools and abilities are supplied by the caller (the Tool/Ability
// Registry and the ability manager) rather than imported directly, to
// keep this package free of a dependency on the registry implementation.
type Builder struct {
	store store.Store
}

func NewBuilder(s store.Store) *Builder {
	return &Builder{store: s}
}

// Request bundles everything needed to render one turn's system prompt.
type Request struct {
	CallerAccess store.AccessLevel
	Tools        []ToolDescriptor
	Abilities    []ToolDescriptor // same shape, enabled-only abilities
	AbilityState []AbilityStatus
}

const (
	proposeBeforeExecuteBlock = `Propose before execute: for any action with external side effects
(sending a message on behalf of the user, deleting a file, running a shell command that
mutates state), state the intended action in one sentence before invoking the tool, unless
the user's message already made the intent explicit.`

	functionCallingDisciplineBlock = `Function calling discipline: call at most one tool per step unless the
tools are read-only and independent. Wait for a tool's result before deciding the next
action. Never fabricate a tool result.`

	selfHealingBlock = `Self-healing: if a tool call fails, inspect the error, adjust the
arguments or approach, and retry at most once before reporting the failure to the user.`

	soulManagementBlock = `Soul management: soul lines describe durable behavioral preferences,
not facts about the world. Update them only through the designated soul tool, never by
editing rule rows.`

	memoryBehaviorBlock = `Memory: store a fact only when the user states it as true about
themselves, their preferences, or their environment, and only once — check recall before
storing to avoid duplicates. Private categories (personal_info, family, health, medical)
are never recalled for a caller below family access.`

	subAgentDelegationBlock = `Sub-agent delegation: spawn a sub-agent only for a task that can run
to completion independently of this conversation. A sub-agent inherits the parent session
owner's access level; spawning never elevates privilege.`

	channelConfigurationBlock = `Channel configuration: channel-specific settings (mention
requirements, allow-lists) live in group config, not in this prompt; consult the config
snapshot below rather than assuming a default.`
)

// Build renders the full system prompt. It never fails on missing rows —
// an empty identity/soul/rule set just renders an empty section, so a
// freshly-seeded deployment still gets a usable prompt.
func (b *Builder) Build(ctx context.Context, req Request) (string, error) {
	var sections []string

	identity, err := b.store.GetIdentity(ctx)
	if err != nil {
		return "", fmt.Errorf("load identity: %w", err)
	}
	sections = append(sections, renderIdentity(identity))

	soulLines, err := b.store.ListSoulLines(ctx)
	if err != nil {
		return "", fmt.Errorf("load soul lines: %w", err)
	}
	sections = append(sections, renderSoul(soulLines))

	rules, err := b.store.ListRules(ctx)
	if err != nil {
		return "", fmt.Errorf("load rules: %w", err)
	}
	sections = append(sections, renderRules(rules))

	sections = append(sections, proposeBeforeExecuteBlock)
	sections = append(sections, renderToolSection("Tools", req.Tools, req.CallerAccess))
	sections = append(sections, renderToolSection("Abilities", req.Abilities, req.CallerAccess))
	sections = append(sections, functionCallingDisciplineBlock)
	sections = append(sections, renderCoreSecurityRules())
	sections = append(sections, renderAbilitySnapshot(req.AbilityState))

	configs, err := b.store.ListConfigs(ctx)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	sections = append(sections, renderConfigSnapshot(configs))

	sections = append(sections, soulManagementBlock, memoryBehaviorBlock, subAgentDelegationBlock, selfHealingBlock, channelConfigurationBlock)

	return strings.Join(nonEmpty(sections), "\n\n"), nil
}

func nonEmpty(sections []string) []string {
	out := sections[:0]
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func renderIdentity(id store.Identity) string {
	var b strings.Builder
	b.WriteString("# Identity\n")
	fmt.Fprintf(&b, "Name: %s\n", id.Name)
	if id.Motto != "" {
		fmt.Fprintf(&b, "Motto: %s\n", id.Motto)
	}
	if id.Backstory != "" {
		fmt.Fprintf(&b, "Backstory: %s\n", id.Backstory)
	}
	if id.Personality != "" {
		fmt.Fprintf(&b, "Personality: %s\n", id.Personality)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSoul(lines []store.SoulLine) string {
	if len(lines) == 0 {
		return ""
	}
	byCategory := map[string][]store.SoulLine{}
	for _, l := range lines {
		byCategory[l.Category] = append(byCategory[l.Category], l)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var b strings.Builder
	b.WriteString("# Soul\n")
	for _, c := range categories {
		group := byCategory[c]
		sort.Slice(group, func(i, j int) bool { return group[i].Ordinal < group[j].Ordinal })
		fmt.Fprintf(&b, "## %s\n", c)
		for _, l := range group {
			fmt.Fprintf(&b, "- %s\n", l.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRules(rules []store.Rule) string {
	if len(rules) == 0 {
		return ""
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Code < rules[j].Code })
	var b strings.Builder
	b.WriteString("# Rules\n")
	for _, r := range rules {
		marker := "!"
		if r.Severity == store.SeveritySoft {
			marker = "-"
		}
		fmt.Fprintf(&b, "%s [%s] %s\n", marker, r.Code, r.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderToolSection(title string, tools []ToolDescriptor, callerAccess store.AccessLevel) string {
	var visible []ToolDescriptor
	for _, t := range tools {
		if t.RequiredAccessLevel == "" || callerAccess.AtLeast(t.RequiredAccessLevel) {
			visible = append(visible, t)
		}
	}
	if len(visible) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	for _, t := range visible {
		fmt.Fprintf(&b, "## %s\n%s\n", t.Name, t.Description)
		if t.ParametersJSONSchema != "" {
			fmt.Fprintf(&b, "Parameters: %s\n", t.ParametersJSONSchema)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderCoreSecurityRules() string {
	var b strings.Builder
	b.WriteString("# Core Security Rules\n")
	b.WriteString("The following tools require direct confirmation from the instance owner and are ")
	b.WriteString("downgraded to owner-in-direct-message-only even if the caller's global access is owner, ")
	b.WriteString("whenever the call originates from a group chat:\n")
	for _, name := range sortedOwnerOnlyToolNames() {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderAbilitySnapshot(state []AbilityStatus) string {
	if len(state) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Ability configuration\n")
	for _, s := range state {
		status := "ready"
		if !s.Enabled {
			status = "disabled"
		} else if !s.Ready {
			status = "unconfigured"
			if s.Reason != "" {
				status = fmt.Sprintf("unconfigured (%s)", s.Reason)
			}
		}
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func sortedOwnerOnlyToolNames() []string {
	names := make([]string, 0, len(security.OwnerOnlyTools))
	for name := range security.OwnerOnlyTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func renderConfigSnapshot(entries []store.ConfigEntry) string {
	if len(entries) == 0 {
		return ""
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	var b strings.Builder
	b.WriteString("# Config\n")
	for _, e := range entries {
		value := string(e.Value)
		if e.IsCredential() {
			value = "[redacted]"
		}
		fmt.Fprintf(&b, "- %s = %s\n", e.Key, value)
	}
	return strings.TrimRight(b.String(), "\n")
}
