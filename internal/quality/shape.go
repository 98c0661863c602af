package quality

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/cadence/internal/filelock"
	"github.com/harrison/cadence/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// ShapeGate detects well-intentioned but malformed output: a structured
// report wrapped in prose, or a source file wrapped in a markdown fence.
// Both are fixed by re-extracting the fenced block.
type ShapeGate struct{}

// NewShapeGate creates an output-shape gate.
func NewShapeGate() *ShapeGate { return &ShapeGate{} }

// Name implements Gate.
func (g *ShapeGate) Name() string { return "shape" }

// Check implements Gate.
func (g *ShapeGate) Check(ctx context.Context, a *models.Artifact) Result {
	if strings.TrimSpace(a.Content) == "" {
		return Result{Passed: true} // the schema gate owns emptiness
	}

	switch a.Kind {
	case models.ArtifactReview, models.ArtifactTestReport:
		if _, found := extractBlock(a.Content, true); found {
			i := issue(models.SeverityMedium, "narrative-wrapped", "structured report is wrapped in narrative text")
			i.AutoFixable = true
			return Result{Passed: true, Issues: []models.Issue{i}}
		}
		if _, ok := parseStructured(a.Content); ok {
			return Result{Passed: true}
		}
		return fail(issue(models.SeverityHigh, "no-structured-block", "no structured block could be found in the output"))

	default:
		trimmed := strings.TrimSpace(a.Content)
		if strings.HasPrefix(trimmed, "```") {
			if _, found := extractBlock(a.Content, false); found {
				i := issue(models.SeverityMedium, "fenced-file", "file content is wrapped in a markdown code fence")
				i.AutoFixable = true
				return Result{Passed: true, Issues: []models.Issue{i}}
			}
		}
		return Result{Passed: true}
	}
}

// Fix implements Fixer: replaces the content with the extracted block and,
// for file artifacts inside a workspace, rewrites the file on disk.
func (g *ShapeGate) Fix(ctx context.Context, a *models.Artifact, is models.Issue) error {
	structured := a.Kind == models.ArtifactReview || a.Kind == models.ArtifactTestReport
	block, found := extractBlock(a.Content, structured)
	if !found {
		return fmt.Errorf("no fenced block to extract")
	}
	a.Content = block

	if !structured && a.Dir != "" && a.Path != "" {
		path := a.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.Dir, path)
		}
		if _, err := os.Stat(path); err == nil {
			return filelock.WriteAtomic(path, []byte(block))
		}
	}
	return nil
}

// extractBlock returns the first fenced code block in content. With
// structured set, only blocks that decode as a mapping qualify.
func extractBlock(content string, structured bool) (string, bool) {
	src := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var (
		result string
		found  bool
	)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || found {
			return ast.WalkContinue, nil
		}
		fenced, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		lines := fenced.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
		body := buf.String()
		if structured {
			if _, ok := parseStructured(body); !ok {
				return ast.WalkContinue, nil
			}
		}
		result, found = body, true
		return ast.WalkStop, nil
	})
	return result, found
}
