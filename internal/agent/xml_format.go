package agent

import (
	"fmt"
	"strings"

	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/orchestrator"
)

// XMLTag wraps content in XML tags: <name>content</name>
func XMLTag(name, content string) string {
	return fmt.Sprintf("<%s>%s</%s>", name, content, name)
}

// XMLSection creates a section with proper formatting
// Output: <name>\ncontent\n</name>
func XMLSection(name, content string) string {
	return fmt.Sprintf("<%s>\n%s\n</%s>", name, strings.TrimSpace(content), name)
}

// XMLList creates an XML list with item elements
func XMLList(name string, items []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<%s>\n", name)
	for _, item := range items {
		fmt.Fprintf(&sb, "<item>%s</item>\n", item)
	}
	fmt.Fprintf(&sb, "</%s>", name)
	return sb.String()
}

var roleInstructions = map[models.Role]string{
	models.RoleUnitTestWriter: "Write failing unit tests that pin down the sprint's behavior. Do not implement the behavior.",
	models.RoleCoder:          "Implement the sprint so the existing unit tests pass. Keep changes inside the working directory.",
	models.RoleReviewer: "Review the changes made for this sprint. Reply with YAML only:\n" +
		"verdict: approve|request-changes|reject\nsummary: <one paragraph>\nfindings:\n  - severity: critical|high|medium|low\n    message: <text>",
	models.RoleUnitTestRunner: "Run the unit test suite. Reply with YAML only:\n" +
		"status: passed|failed\nsummary: <one paragraph>\nfailures:\n  - <test name>",
	models.RoleE2ETestWriter: "Write end-to-end tests for the sprint's user-facing behavior.",
	models.RoleE2ETestRunner: "Run the end-to-end test suite against the workspace's services. Reply with YAML only:\n" +
		"status: passed|failed\nsummary: <one paragraph>\nfailures:\n  - <test name>",
}

// BuildPrompt renders the prompt for one invocation. agentName is the agent
// bound to role, or empty.
func BuildPrompt(role models.Role, agentName string, wc orchestrator.WorkerContext) string {
	var sections []string

	if agentName != "" {
		sections = append(sections, fmt.Sprintf("Use the %s subagent for this work.", agentName))
	}

	s := wc.Sprint
	sections = append(sections, XMLSection("role", string(role)+"\n"+roleInstructions[role]))

	var sprint strings.Builder
	fmt.Fprintf(&sprint, "%s\n%s\n", XMLTag("id", s.ID), XMLTag("phase", string(wc.Phase)))
	fmt.Fprintf(&sprint, "%s\n", XMLTag("attempt", fmt.Sprint(wc.Attempt)))
	sprint.WriteString(XMLSection("goal", s.Goal))
	sections = append(sections, XMLSection("sprint", sprint.String()))

	if len(s.Tasks) > 0 {
		var tasks strings.Builder
		for _, t := range s.Tasks {
			tasks.WriteString("<task>\n")
			tasks.WriteString(XMLTag("title", t.Title) + "\n")
			if t.Description != "" {
				tasks.WriteString(XMLSection("description", t.Description) + "\n")
			}
			if len(t.AcceptanceCriteria) > 0 {
				tasks.WriteString(XMLList("acceptance_criteria", t.AcceptanceCriteria) + "\n")
			}
			tasks.WriteString("</task>\n")
		}
		sections = append(sections, XMLSection("tasks", tasks.String()))
	}

	if ws := wc.Workspace; ws != nil {
		env := fmt.Sprintf("%s\n%s\n%s",
			XMLTag("directory", ws.Path),
			XMLTag("branch", ws.Branch),
			XMLTag("ports", fmt.Sprintf("%d-%d", ws.PortBase, ws.PortBase+ws.PortCount-1)))
		sections = append(sections, XMLSection("workspace", env))
	}

	if len(wc.Feedback) > 0 {
		items := make([]string, 0, len(wc.Feedback))
		for _, issue := range wc.Feedback {
			items = append(items, issue.String())
		}
		sections = append(sections, XMLList("previous_attempt_issues", items))
	}

	for _, doc := range wc.Documents {
		sections = append(sections, fmt.Sprintf("<document path=%q>\n%s\n</document>", doc.Path, strings.TrimSpace(doc.Content)))
	}

	return strings.Join(sections, "\n\n")
}
