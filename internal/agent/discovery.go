package agent

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Agent is an agent definition a role can be bound to.
type Agent struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tools       ToolList `yaml:"tools"`
	FilePath    string   `yaml:"-"`
}

// ToolList accepts both "Read, Write" and [Read, Write] in frontmatter.
type ToolList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ToolList) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err == nil {
		*t = nil
		for _, part := range strings.Split(str, ",") {
			if tool := strings.TrimSpace(part); tool != "" {
				*t = append(*t, tool)
			}
		}
		return nil
	}

	var arr []string
	if err := value.Decode(&arr); err != nil {
		return fmt.Errorf("tools must be either a comma-separated string or an array")
	}
	*t = arr
	return nil
}

// Registry holds the agent definitions found under AgentsDir.
type Registry struct {
	AgentsDir string

	// Warn receives parse failures of individual files. Nil discards them.
	Warn func(format string, args ...interface{})

	agents map[string]*Agent
}

// NewRegistry creates a registry. An empty agentsDir means ~/.claude/agents.
func NewRegistry(agentsDir string) *Registry {
	if agentsDir == "" {
		home, _ := os.UserHomeDir()
		agentsDir = filepath.Join(home, ".claude", "agents")
	}
	return &Registry{
		AgentsDir: agentsDir,
		agents:    make(map[string]*Agent),
	}
}

// Discover scans AgentsDir for agent files. A missing directory yields an
// empty registry, not an error.
//
// Root-level .md files and numbered category directories (01-*, 02-*, ...)
// are scanned; README.md and *-framework.md are documentation and skipped.
func (r *Registry) Discover() (map[string]*Agent, error) {
	if _, err := os.Stat(r.AgentsDir); os.IsNotExist(err) {
		return r.agents, nil
	}

	err := filepath.Walk(r.AgentsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path == r.AgentsDir || isCategoryDir(info.Name()) {
				return nil
			}
			return filepath.SkipDir
		}

		base := filepath.Base(path)
		if !strings.HasSuffix(base, ".md") || base == "README.md" || strings.HasSuffix(base, "-framework.md") {
			return nil
		}

		a, err := parseAgentFile(path)
		if err != nil {
			if r.Warn != nil {
				r.Warn("skipping agent file %s: %v", path, err)
			}
			return nil
		}
		r.agents[a.Name] = a
		return nil
	})
	return r.agents, err
}

func isCategoryDir(name string) bool {
	return len(name) >= 3 && name[0] >= '0' && name[0] <= '9' && name[1] >= '0' && name[1] <= '9' && name[2] == '-'
}

// Exists reports whether an agent named name was discovered.
func (r *Registry) Exists(name string) bool {
	_, ok := r.agents[name]
	return ok
}

// Get returns the named agent.
func (r *Registry) Get(name string) (*Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

// Names returns the discovered agent names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseAgentFile(path string) (*Agent, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	frontmatter := extractFrontmatter(content)
	if frontmatter == nil {
		return nil, fmt.Errorf("no frontmatter found")
	}

	var a Agent
	if err := yaml.Unmarshal(frontmatter, &a); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	if a.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	a.FilePath = path
	return &a, nil
}

// extractFrontmatter returns the YAML between the leading --- markers, or
// nil when there is none.
func extractFrontmatter(content []byte) []byte {
	lines := bytes.Split(content, []byte("\n"))
	if len(lines) < 3 || string(bytes.TrimRight(lines[0], "\r")) != "---" {
		return nil
	}
	for i := 1; i < len(lines); i++ {
		if string(bytes.TrimRight(lines[i], "\r")) == "---" {
			return bytes.Join(lines[1:i], []byte("\n"))
		}
	}
	return nil
}
