package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/orchestrator"
)

// Runner executes a command in dir and returns its standard output.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner. Standard error is appended to the returned error.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// CLIWorker drives a coding agent CLI in print mode. It implements
// orchestrator.Worker.
type CLIWorker struct {
	Command string
	Args    []string
	Timeout time.Duration // Per invocation; 0 means no limit

	// Roles maps a role name to the agent the prompt should delegate to.
	Roles    map[string]string
	Registry *Registry // Optional; unknown agents are not referenced when set

	Runner Runner
}

var _ orchestrator.Worker = (*CLIWorker)(nil)

// NewCLIWorker creates a worker for command with the default exec runner.
func NewCLIWorker(command string, args []string, timeout time.Duration, roles map[string]string) *CLIWorker {
	return &CLIWorker{
		Command: command,
		Args:    args,
		Timeout: timeout,
		Roles:   roles,
		Runner:  ExecRunner{},
	}
}

// Output is the JSON envelope printed by the agent CLI.
type Output struct {
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

// ParseOutput decodes the JSON envelope. Anything that is not a JSON object
// is treated as the plain-text result.
func ParseOutput(out []byte) Output {
	var o Output
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &o) != nil {
		return Output{Result: string(out)}
	}
	return o
}

// BuildCommandArgs returns the arguments for one invocation.
func (w *CLIWorker) BuildCommandArgs(prompt string) []string {
	args := append([]string(nil), w.Args...)
	args = append(args, "-p", prompt)
	args = append(args, "--output-format", "json")
	return args
}

func (w *CLIWorker) agentFor(role models.Role) string {
	name := w.Roles[string(role)]
	if name != "" && w.Registry != nil && !w.Registry.Exists(name) {
		return ""
	}
	return name
}

func (w *CLIWorker) runner() Runner {
	if w.Runner == nil {
		return ExecRunner{}
	}
	return w.Runner
}

// Invoke implements orchestrator.Worker.
func (w *CLIWorker) Invoke(ctx context.Context, role models.Role, wc orchestrator.WorkerContext) (orchestrator.WorkerResult, error) {
	parent := ctx
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	prompt := BuildPrompt(role, w.agentFor(role), wc)
	out, err := w.runner().Run(ctx, wc.Dir(), w.Command, w.BuildCommandArgs(prompt)...)
	parsed := ParseOutput(out)
	res := orchestrator.WorkerResult{RawOutput: parsed.Result}

	if err != nil {
		switch {
		case parent.Err() != nil:
			return res, parent.Err()
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return res, fmt.Errorf("%s did not finish within %v: %w", role, w.Timeout, context.DeadlineExceeded)
		default:
			return res, fmt.Errorf("run %s: %w", w.Command, err)
		}
	}
	if parsed.IsError {
		return res, nil
	}

	res.Success = true
	if role.Writes() {
		res.Artifacts, err = w.changedFiles(ctx, wc.Dir())
		if err != nil {
			return res, err
		}
		return res, nil
	}
	res.Artifacts = []models.Artifact{{Kind: wc.Phase.ExpectedArtifact(), Content: parsed.Result}}
	return res, nil
}

// changedFiles lists the files the worker touched in dir as artifacts.
// Deleted files are omitted.
func (w *CLIWorker) changedFiles(ctx context.Context, dir string) ([]models.Artifact, error) {
	out, err := w.runner().Run(ctx, dir, "git", "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("list changed files: %w", err)
	}

	var artifacts []models.Artifact
	for _, path := range parsePorcelain(out) {
		data, err := os.ReadFile(filepath.Join(dir, path))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		artifacts = append(artifacts, models.Artifact{
			Kind:    ClassifyPath(path),
			Path:    path,
			Content: string(data),
		})
	}
	return artifacts, nil
}

// parsePorcelain extracts paths from `git status --porcelain` output. Renames
// report the new path; deletions are dropped.
func parsePorcelain(out []byte) []string {
	var paths []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if len(line) < 4 {
			continue
		}
		status, path := line[:2], line[3:]
		if strings.Contains(status, "D") {
			continue
		}
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		paths = append(paths, strings.Trim(path, `"`))
	}
	return paths
}

// ClassifyPath tells test files apart from source files.
func ClassifyPath(path string) models.ArtifactKind {
	p := filepath.ToSlash(path)
	if strings.Contains(p, "_test") || strings.Contains(p, ".test.") || strings.Contains("/"+p, "/e2e/") {
		return models.ArtifactTest
	}
	return models.ArtifactSource
}
