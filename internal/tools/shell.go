package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/syneagent/syne/internal/security"
	"github.com/syneagent/syne/internal/store"
)

// ExecArgs is exec's argument shape, reflected into its JSON schema.
type ExecArgs struct {
	Command    string `json:"command" jsonschema:"required,description=The shell command to execute"`
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"description=Optional working directory for the command"`
}

// ExecTool runs a shell command on the host running the agent. It is
// owner-only (security.OwnerOnlyTools["exec"]) and every command passes
// through security.CheckCommandSafety before os/exec ever sees it.
type ExecTool struct {
	workingDir string
	timeout    time.Duration
	restrict   bool
}

// NewExecTool creates an exec tool rooted at workingDir. When restrict is
// true, an explicit working_dir argument must resolve inside workingDir.
func NewExecTool(workingDir string, restrict bool) *ExecTool {
	return &ExecTool{
		workingDir: workingDir,
		timeout:    60 * time.Second,
		restrict:   restrict,
	}
}

func (t *ExecTool) Name() string        { return "exec" }
func (t *ExecTool) Description() string { return "Execute a shell command and return its output" }
func (t *ExecTool) RequiredAccessLevel() store.AccessLevel { return store.AccessOwner }

func (t *ExecTool) Schema() map[string]any {
	schema, err := generateSchema[ExecArgs]()
	if err != nil {
		return nil
	}
	return schema
}

func (t *ExecTool) Execute(ctx context.Context, call Call) (*Result, error) {
	command, _ := call.Args["command"].(string)
	if command == "" {
		return ErrorResult("command is required"), nil
	}

	if allowed, reason := security.CheckCommandSafety(command); !allowed {
		return ErrorResult(reason), nil
	}

	cwd := ToolWorkspaceFromCtx(ctx)
	if cwd == "" {
		cwd = t.workingDir
	}
	if wd, _ := call.Args["working_dir"].(string); wd != "" {
		if t.restrict {
			resolved, err := resolvePath(wd, t.workingDir, true)
			if err != nil {
				return ErrorResult(err.Error()), nil
			}
			cwd = resolved
		} else {
			cwd = wd
		}
	}

	return t.executeOnHost(ctx, command, cwd), nil
}

func (t *ExecTool) executeOnHost(ctx context.Context, command, cwd string) *Result {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var result string
	if stdout.Len() > 0 {
		result = stdout.String()
	}
	if stderr.Len() > 0 {
		if result != "" {
			result += "\n"
		}
		result += "STDERR:\n" + stderr.String()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("command timed out after %s", t.timeout))
		}
		if result == "" {
			result = err.Error()
		}
		return ErrorResult(result)
	}

	if result == "" {
		result = "(command completed with no output)"
	}

	return SilentResult(result)
}
