package orchestrator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/harrison/cadence/internal/models"
)

// parseSprintNumber extracts the numeric portion from sprint ids.
// Handles formats like "1", "Sprint 1", "sprint-10", etc.
// Returns a large number (999999) for unparseable ids so they sort last.
func parseSprintNumber(id string) int {
	if num, err := strconv.Atoi(id); err == nil {
		return num
	}
	fields := strings.FieldsFunc(id, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	for _, field := range fields {
		if num, err := strconv.Atoi(field); err == nil {
			return num
		}
	}
	return 999999
}

// sortSprintIDs orders ids numerically, then lexically.
func sortSprintIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := parseSprintNumber(ids[i]), parseSprintNumber(ids[j])
		if a != b {
			return a < b
		}
		return ids[i] < ids[j]
	})
}

// DependencyGraph represents a directed graph of sprint dependencies
type DependencyGraph struct {
	Sprints  map[string]*models.Sprint
	Edges    map[string][]string // prerequisite -> dependents
	InDegree map[string]int      // sprint -> number of dependencies
}

// ValidateSprints checks ids are unique and every dependency exists.
func ValidateSprints(sprints []*models.Sprint) error {
	seen := make(map[string]bool)
	for _, s := range sprints {
		if s.ID == "" {
			return fmt.Errorf("sprint has empty id")
		}
		if seen[s.ID] {
			return fmt.Errorf("sprint %s: duplicate id", s.ID)
		}
		seen[s.ID] = true
	}
	for _, s := range sprints {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("sprint %s: depends on non-existent sprint %s", s.ID, dep)
			}
		}
	}
	return nil
}

// BuildDependencyGraph constructs a dependency graph from a list of sprints
func BuildDependencyGraph(sprints []*models.Sprint) *DependencyGraph {
	g := &DependencyGraph{
		Sprints:  make(map[string]*models.Sprint),
		Edges:    make(map[string][]string),
		InDegree: make(map[string]int),
	}
	for _, s := range sprints {
		g.Sprints[s.ID] = s
		g.InDegree[s.ID] = 0
	}
	for _, s := range sprints {
		for _, dep := range s.DependsOn {
			if _, exists := g.Sprints[dep]; !exists {
				continue
			}
			g.Edges[dep] = append(g.Edges[dep], s.ID)
			g.InDegree[s.ID]++
		}
	}
	return g
}

// FindCycle returns one dependency cycle as a path of ids, or nil when the
// graph is acyclic. Uses DFS with color marking.
func (g *DependencyGraph) FindCycle() []string {
	const (
		white = 0 // not visited
		gray  = 1 // visiting
		black = 2 // visited
	)

	colors := make(map[string]int)
	var stack []string
	var cycle []string

	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray
		stack = append(stack, node)
		for _, next := range g.Edges[node] {
			if colors[next] == gray {
				for i, id := range stack {
					if id == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						break
					}
				}
				return true
			}
			if colors[next] == white && dfs(next) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		colors[node] = black
		return false
	}

	ids := make([]string, 0, len(g.Sprints))
	for id := range g.Sprints {
		ids = append(ids, id)
	}
	sortSprintIDs(ids)

	for _, id := range ids {
		for _, dep := range g.Sprints[id].DependsOn {
			if dep == id {
				return []string{id, id}
			}
		}
	}
	for _, id := range ids {
		if colors[id] == white && dfs(id) {
			return cycle
		}
	}
	return nil
}

// HasCycle detects if the graph contains a cycle
func (g *DependencyGraph) HasCycle() bool {
	return g.FindCycle() != nil
}

// Waves groups sprint ids into topological layers with Kahn's algorithm:
// sprints with no dependencies first, then those depending only on earlier
// layers. Used for display; scheduling re-evaluates eligibility dynamically.
func (g *DependencyGraph) Waves() ([][]string, error) {
	inDegree := make(map[string]int, len(g.InDegree))
	for k, v := range g.InDegree {
		inDegree[k] = v
	}

	var waves [][]string
	for len(inDegree) > 0 {
		var current []string
		for id, degree := range inDegree {
			if degree == 0 {
				current = append(current, id)
			}
		}
		if len(current) == 0 {
			return nil, fmt.Errorf("graph error: no sprints with zero in-degree")
		}
		sortSprintIDs(current)
		waves = append(waves, current)

		for _, id := range current {
			delete(inDegree, id)
			for _, dependent := range g.Edges[id] {
				if _, exists := inDegree[dependent]; exists {
					inDegree[dependent]--
				}
			}
		}
	}
	return waves, nil
}

// CheckDependencies validates the sprint set and rejects dependency cycles.
// Every failure is a ConfigurationError.
func CheckDependencies(source string, sprints []*models.Sprint) error {
	if err := ValidateSprints(sprints); err != nil {
		return models.NewConfigurationError(source, err)
	}
	if cycle := BuildDependencyGraph(sprints).FindCycle(); cycle != nil {
		return models.NewConfigurationError(source, fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> ")))
	}
	return nil
}

// Eligible returns the sprints that may start now: not Done, not Blocked,
// and every dependency already Done. all is the complete sprint set used
// to resolve dependencies. Results are ordered by sprint number.
func Eligible(candidates, all []*models.Sprint) []*models.Sprint {
	status := make(map[string]models.Phase, len(all))
	for _, s := range all {
		status[s.ID] = s.Status
	}

	var out []*models.Sprint
	for _, s := range candidates {
		if s.Status.Terminal() {
			continue
		}
		ready := true
		for _, dep := range s.DependsOn {
			if status[dep] != models.PhaseDone {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := parseSprintNumber(out[i].ID), parseSprintNumber(out[j].ID)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}
