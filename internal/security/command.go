// Package security implements the code-enforced gates that sit outside the
// prompt: command safety, URL/SSRF safety, and rule-removal protection,
// plus the owner-only tool registry and file-write scope check. The
// command deny-pattern list is modeled on internal/tools/shell.go's
// defaultDenyPatterns — the same defense-in-depth regex set, generalized
// into a gate any tool (not just exec) can call before it proposes a
// command, rather than exec.go checking its own global var.
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// commandDenyPatterns covers destructive deletes, fork
// bombs, credential-file reads, exfiltration, reverse shells, privilege
// escalation, and raw writes to sensitive paths.
var commandDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\brm\s+.*--recursive`),
	regexp.MustCompile(`\brm\s+.*--force`),
	regexp.MustCompile(`\bdel\s+/[fq]\b`),
	regexp.MustCompile(`\brmdir\s+/s\b`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b|\bformat\s`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb

	regexp.MustCompile(`\.env\b|\bid_rsa\b|\.pem\b|\bid_ed25519\b|shadow\b.*passwd`),

	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bcurl\b.*(-d\b|-F\b|--data|--upload|--form|-T\b|-X\s*P(UT|OST|ATCH))`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*--post-(data|file)`),
	regexp.MustCompile(`/dev/tcp/`),

	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsocat\b`),
	regexp.MustCompile(`\bopenssl\b.*s_client`),

	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),
	regexp.MustCompile(`\bnsenter\b`),
	regexp.MustCompile(`\bunshare\b`),
	regexp.MustCompile(`\b(mount|umount)\b`),

	regexp.MustCompile(`\bchmod\s+[0-7]{3,4}\s+/(\s|$|[a-zA-Z])`),
	regexp.MustCompile(`\bchown\b.*\s+/`),

	regexp.MustCompile(`/var/run/docker\.sock|docker\.(sock|socket)`),
	regexp.MustCompile(`/proc/sys/(kernel|fs|net)/`),
	regexp.MustCompile(`/sys/(kernel|fs|class|devices)/`),

	regexp.MustCompile(`\b(killall|pkill)\b`),
	regexp.MustCompile(`\bkill\s+-9\s`),
}

// confirmationToken, when present verbatim in a command, allows a destructive
// delete that would otherwise be denied — an explicit confirmation token
// required for root/home deletes.
const confirmationToken = "I_UNDERSTAND_THIS_IS_DESTRUCTIVE"

var destructiveDeletePatterns = map[*regexp.Regexp]bool{}

func init() {
	destructiveDeletePatterns[commandDenyPatterns[0]] = true // rm -rf/-r/-f
	destructiveDeletePatterns[commandDenyPatterns[1]] = true // rm --recursive
	destructiveDeletePatterns[commandDenyPatterns[2]] = true // rm --force
}

// CheckCommandSafety implements check_command_safety: reject a proposed
// shell command that matches a deny pattern, unless it is a destructive
// delete carrying the explicit confirmation token. Returns (allowed, reason).
func CheckCommandSafety(command string) (bool, string) {
	if command == "" {
		return false, "empty command"
	}
	hasToken := strings.Contains(command, confirmationToken)
	for _, pattern := range commandDenyPatterns {
		if !pattern.MatchString(command) {
			continue
		}
		if destructiveDeletePatterns[pattern] && hasToken {
			continue
		}
		return false, fmt.Sprintf("command denied by safety policy: matches pattern %s", pattern.String())
	}
	return true, ""
}
