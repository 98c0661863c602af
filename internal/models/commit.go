package models

import (
	"fmt"
	"strings"
)

// CommitMessage is a conventional commit message recorded in a workspace
// branch.
//
// Format:
//
//	type(scope): subject
//
//	body
type CommitMessage struct {
	Type    string // feat, test, chore, ...
	Scope   string
	Subject string
	Body    string
}

// Validate checks that the message has a subject.
func (c CommitMessage) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return fmt.Errorf("commit subject is required")
	}
	return nil
}

// Header returns the first line: "type(scope): subject", "type: subject"
// or just the subject.
func (c CommitMessage) Header() string {
	switch {
	case c.Type != "" && c.Scope != "":
		return fmt.Sprintf("%s(%s): %s", c.Type, c.Scope, c.Subject)
	case c.Type != "":
		return fmt.Sprintf("%s: %s", c.Type, c.Subject)
	default:
		return c.Subject
	}
}

// String returns the full message, the body separated by a blank line.
func (c CommitMessage) String() string {
	if c.Body == "" {
		return c.Header()
	}
	return c.Header() + "\n\n" + c.Body
}

// CheckpointMessage builds the message committed after phase succeeds for
// sprint. The body carries the sprint goal and its task titles.
func CheckpointMessage(sprint *Sprint, phase Phase) CommitMessage {
	msg := CommitMessage{
		Type:    "chore",
		Scope:   "sprint-" + sprint.ID,
		Subject: string(phase),
	}
	switch phase {
	case PhaseWriteUnitTests, PhaseWriteE2ETests:
		msg.Type = "test"
	case PhaseWriteCode:
		msg.Type = "feat"
	}

	var body strings.Builder
	if goal := strings.TrimSpace(sprint.Goal); goal != "" {
		body.WriteString(goal)
	}
	for _, t := range sprint.Tasks {
		if body.Len() > 0 && !strings.HasSuffix(body.String(), "\n") {
			body.WriteString("\n")
		}
		fmt.Fprintf(&body, "- %s", t.Title)
	}
	msg.Body = body.String()
	return msg
}
