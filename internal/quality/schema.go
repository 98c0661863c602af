package quality

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/cadence/internal/models"
	"gopkg.in/yaml.v3"
)

// Field describes one required key of a structured artifact.
type Field struct {
	Name    string
	Allowed []string // Empty means any non-empty value
	// Pass lists the allowed values that count as success. A valid value
	// outside Pass is reported as a high-severity rejection.
	Pass []string
}

// Schema is the expected shape of one artifact kind.
type Schema struct {
	Structured bool // Content must be a JSON/YAML mapping
	NeedsPath  bool
	Fields     []Field
}

// DefaultSchemas returns the shapes the phase workers must produce.
func DefaultSchemas() map[models.ArtifactKind]Schema {
	return map[models.ArtifactKind]Schema{
		models.ArtifactSource: {NeedsPath: true},
		models.ArtifactTest:   {NeedsPath: true},
		models.ArtifactReview: {
			Structured: true,
			Fields: []Field{
				{Name: "verdict", Allowed: []string{"approve", "request-changes", "reject"}, Pass: []string{"approve"}},
				{Name: "summary"},
			},
		},
		models.ArtifactTestReport: {
			Structured: true,
			Fields: []Field{
				{Name: "status", Allowed: []string{"passed", "failed"}, Pass: []string{"passed"}},
				{Name: "summary"},
			},
		},
	}
}

// SchemaGate checks that an artifact conforms to the shape of its kind.
type SchemaGate struct {
	Schemas map[models.ArtifactKind]Schema
}

// NewSchemaGate creates a schema gate with the default shapes.
func NewSchemaGate() *SchemaGate {
	return &SchemaGate{Schemas: DefaultSchemas()}
}

// Name implements Gate.
func (g *SchemaGate) Name() string { return "schema" }

// Check implements Gate.
func (g *SchemaGate) Check(ctx context.Context, a *models.Artifact) Result {
	schema, ok := g.Schemas[a.Kind]
	if !ok {
		return fail(issue(models.SeverityCritical, "unknown-kind", fmt.Sprintf("no schema for artifact kind %q", a.Kind)))
	}
	if strings.TrimSpace(a.Content) == "" {
		return fail(issue(models.SeverityCritical, "empty", fmt.Sprintf("%s artifact is empty", a.Kind)))
	}

	var issues []models.Issue
	if schema.NeedsPath && a.Path == "" {
		issues = append(issues, issue(models.SeverityHigh, "missing-path", "file artifact has no path"))
	}

	if schema.Structured {
		doc, ok := parseStructured(a.Content)
		if !ok {
			issues = append(issues, issue(models.SeverityHigh, "unstructured", fmt.Sprintf("%s artifact is not a structured mapping", a.Kind)))
			return Result{Passed: false, Issues: issues}
		}
		for _, f := range schema.Fields {
			issues = append(issues, checkField(doc, f)...)
		}
	}

	return Result{Passed: !hasBlocking(issues), Issues: issues}
}

func checkField(doc map[string]interface{}, f Field) []models.Issue {
	raw, ok := doc[f.Name]
	value := strings.TrimSpace(fmt.Sprint(raw))
	if !ok || raw == nil || value == "" {
		return []models.Issue{issue(models.SeverityHigh, "missing-field", fmt.Sprintf("required field %q is missing", f.Name))}
	}
	if len(f.Allowed) > 0 && !contains(f.Allowed, strings.ToLower(value)) {
		return []models.Issue{issue(models.SeverityHigh, "invalid-value",
			fmt.Sprintf("field %q is %q, want one of %s", f.Name, value, strings.Join(f.Allowed, ", ")))}
	}
	if len(f.Pass) > 0 && !contains(f.Pass, strings.ToLower(value)) {
		msg := fmt.Sprintf("%s is %q", f.Name, value)
		if summary, ok := doc["summary"]; ok && summary != nil {
			msg += ": " + fmt.Sprint(summary)
		}
		return []models.Issue{issue(models.SeverityHigh, "rejected", msg)}
	}
	return nil
}

// parseStructured decodes content as a JSON or YAML mapping.
func parseStructured(content string) (map[string]interface{}, bool) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil || len(doc) == 0 {
		return nil, false
	}
	return doc, true
}

func issue(sev models.Severity, category, message string) models.Issue {
	return models.Issue{Severity: sev, Category: category, Message: message}
}

func fail(issues ...models.Issue) Result {
	return Result{Passed: false, Issues: issues}
}

func hasBlocking(issues []models.Issue) bool {
	for _, i := range issues {
		if i.Severity.Blocking() {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
