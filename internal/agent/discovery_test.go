package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRegistryDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "golang-pro.md"), "---\nname: golang-pro\ndescription: Go expert\ntools: Read, Write, Edit\n---\nbody\n")
	writeFile(t, filepath.Join(dir, "01-review", "code-reviewer.md"), "---\nname: code-reviewer\ntools: [Read, Grep]\n---\n")
	writeFile(t, filepath.Join(dir, "01-review", "README.md"), "---\nname: readme\n---\n")
	writeFile(t, filepath.Join(dir, "examples", "sample.md"), "---\nname: sample\n---\n")
	writeFile(t, filepath.Join(dir, "tdd-framework.md"), "---\nname: framework\n---\n")
	writeFile(t, filepath.Join(dir, "broken.md"), "no frontmatter here\n")

	var warnings []string
	r := NewRegistry(dir)
	r.Warn = func(format string, args ...interface{}) { warnings = append(warnings, format) }

	agents, err := r.Discover()

	require.NoError(t, err)
	assert.Len(t, agents, 2)
	assert.Equal(t, []string{"code-reviewer", "golang-pro"}, r.Names())

	a, ok := r.Get("golang-pro")
	require.True(t, ok)
	assert.Equal(t, ToolList{"Read", "Write", "Edit"}, a.Tools)
	assert.Equal(t, filepath.Join(dir, "golang-pro.md"), a.FilePath)

	b, _ := r.Get("code-reviewer")
	assert.Equal(t, ToolList{"Read", "Grep"}, b.Tools)
	assert.False(t, r.Exists("sample"))
	assert.Len(t, warnings, 1)
}

func TestRegistryDiscoverMissingDir(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "absent"))
	agents, err := r.Discover()
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestExtractFrontmatter(t *testing.T) {
	assert.Equal(t, "name: x", string(extractFrontmatter([]byte("---\nname: x\n---\nbody"))))
	assert.Equal(t, "name: x", string(extractFrontmatter([]byte("---\r\nname: x\r\n---\r\n"))[:7]))
	assert.Nil(t, extractFrontmatter([]byte("name: x\n")))
	assert.Nil(t, extractFrontmatter([]byte("---\nname: x\nnever closed\n")))
}
