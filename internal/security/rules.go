package security

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/syneagent/syne/internal/store"
)

// CheckRuleRemoval implements check_rule_removal: a rule whose code starts
// with SEC, MEM, or IDT (store.ProtectedRulePrefixes, "Rule 700") can never
// be deleted or edited through a tool call.
func CheckRuleRemoval(code string) (bool, string) {
	for _, prefix := range store.ProtectedRulePrefixes {
		if strings.HasPrefix(code, prefix) {
			return false, "rule is protected"
		}
	}
	return true, ""
}

// OwnerOnlyTools is the registry-enforced allowlist ("Rule 700"): these
// tools run only for the instance owner, and group provenance always
// downgrades the caller's effective access to at most `family`
// regardless of their global access level, so an owner speaking in a group
// chat never gets owner-only tools there.
var OwnerOnlyTools = map[string]bool{
	"exec":           true,
	"update_config":  true,
	"update_ability": true,
	"update_soul":    true,
	"manage_group":   true,
	"manage_user":    true,
	"send_message":   true,
	"send_reaction":  true,
	"read_source":    true,
	"file_write":     true,
}

// EffectiveAccessLevel applies the group-provenance downgrade: a message
// that arrived in a group chat can never exercise owner-only privilege,
// even if the caller is the global owner.
func EffectiveAccessLevel(global store.AccessLevel, isGroup bool) store.AccessLevel {
	if isGroup && global == store.AccessOwner {
		return store.AccessFamily
	}
	return global
}

// CheckOwnerOnlyTool reports whether callerLevel may invoke an owner-only
// tool. Non-owner-only tools always return true from this check (the
// registry's normal required_access_level gate still applies separately).
func CheckOwnerOnlyTool(toolName string, callerLevel store.AccessLevel, isGroup bool) (bool, string) {
	if !OwnerOnlyTools[toolName] {
		return true, ""
	}
	effective := EffectiveAccessLevel(callerLevel, isGroup)
	if effective != store.AccessOwner {
		return false, fmt.Sprintf("%q is owner-only", toolName)
	}
	return true, ""
}

// FileWriteScope names the roots a file_write tool may write under.
type FileWriteScope struct {
	WorkingDir   string // the conversation's per-user working directory
	WorkspaceDir string // the shared workspace directory
	AbilitiesDir string // the abilities/ subtree
}

// CheckFileWriteScope implements the file-write scope gate: a write is only
// allowed under the working directory, the workspace directory, or the
// abilities/ subtree, and never under a core source subtree (enforced here
// as "not under any of the three allowed roots").
func (s FileWriteScope) CheckFileWriteScope(path string) (bool, string) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.WorkingDir, abs)
	}
	abs = filepath.Clean(abs)

	for _, root := range []string{s.WorkingDir, s.WorkspaceDir, s.AbilitiesDir} {
		if root == "" {
			continue
		}
		root = filepath.Clean(root)
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return true, ""
		}
	}
	return false, fmt.Sprintf("path %q is outside the permitted write scope", path)
}
