package workspace

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/harrison/cadence/internal/filelock"
	"gopkg.in/yaml.v3"
)

// dotenvPort matches KEY=1234 lines; only keys containing PORT are remapped.
var dotenvPort = regexp.MustCompile(`^(\s*(?:export\s+)?)([A-Za-z_][A-Za-z0-9_]*)(\s*=\s*)(["']?)(\d{1,5})(["']?)(\s*(?:#.*)?)$`)

// portMapper assigns consecutive ports of a block to original ports.
// The same original port always maps to the same new port.
type portMapper struct {
	base    int
	count   int
	mapping map[int]int
}

func newPortMapper(base, count int) *portMapper {
	return &portMapper{base: base, count: count, mapping: make(map[int]int)}
}

func (m *portMapper) remap(original int) (int, error) {
	if p, ok := m.mapping[original]; ok {
		return p, nil
	}
	if len(m.mapping) >= m.count {
		return 0, &ResourceExhaustionError{
			Resource: "ports",
			Detail:   fmt.Sprintf("environment declares more than %d distinct ports", m.count),
			Err:      ErrPortRangeExhausted,
		}
	}
	p := m.base + len(m.mapping)
	m.mapping[original] = p
	return p, nil
}

// RewritePorts remaps port declarations in the given files to the block
// [base, base+count). Missing files are skipped. Nothing is written unless
// every file could be rewritten. It returns original → allocated ports.
func RewritePorts(paths []string, base, count int) (map[int]int, error) {
	mapper := newPortMapper(base, count)
	type pending struct {
		path string
		data []byte
	}
	var writes []pending

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var out []byte
		if isCompose(path) {
			out, err = rewriteCompose(data, mapper)
		} else {
			out, err = rewriteDotenv(data, mapper)
		}
		if err != nil {
			return nil, fmt.Errorf("rewrite ports in %s: %w", path, err)
		}
		if !bytes.Equal(out, data) {
			writes = append(writes, pending{path: path, data: out})
		}
	}

	for _, w := range writes {
		if err := filelock.WriteAtomic(w.path, w.data); err != nil {
			return nil, err
		}
	}
	return mapper.mapping, nil
}

func isCompose(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}

func rewriteDotenv(data []byte, mapper *portMapper) ([]byte, error) {
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		m := dotenvPort.FindStringSubmatch(line)
		if m == nil || !strings.Contains(strings.ToUpper(m[2]), "PORT") {
			continue
		}
		original, err := strconv.Atoi(m[5])
		if err != nil {
			continue
		}
		port, err := mapper.remap(original)
		if err != nil {
			return nil, err
		}
		lines[i] = m[1] + m[2] + m[3] + m[4] + strconv.Itoa(port) + m[6] + m[7]
	}
	return []byte(strings.Join(lines, "\n")), nil
}

func rewriteCompose(data []byte, mapper *portMapper) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse compose file: %w", err)
	}
	changed, err := walkPorts(&doc, mapper)
	if err != nil {
		return nil, err
	}
	if !changed {
		return data, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// walkPorts rewrites the host side of every `ports:` entry below n.
func walkPorts(n *yaml.Node, mapper *portMapper) (bool, error) {
	changed := false
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if key.Value == "ports" && value.Kind == yaml.SequenceNode {
				for _, item := range value.Content {
					ok, err := rewritePortEntry(item, mapper)
					if err != nil {
						return false, err
					}
					changed = changed || ok
				}
				continue
			}
			ok, err := walkPorts(value, mapper)
			if err != nil {
				return false, err
			}
			changed = changed || ok
		}
		return changed, nil
	}
	for _, child := range n.Content {
		ok, err := walkPorts(child, mapper)
		if err != nil {
			return false, err
		}
		changed = changed || ok
	}
	return changed, nil
}

func rewritePortEntry(item *yaml.Node, mapper *portMapper) (bool, error) {
	switch item.Kind {
	case yaml.ScalarNode:
		spec, proto, _ := strings.Cut(item.Value, "/")
		parts := strings.Split(spec, ":")
		hostIdx := -1
		switch len(parts) {
		case 2:
			hostIdx = 0
		case 3:
			hostIdx = 1
		}
		if hostIdx < 0 {
			return false, nil // container port only, or unsupported form
		}
		original, err := strconv.Atoi(parts[hostIdx])
		if err != nil {
			return false, nil // ranges and variables are left alone
		}
		port, err := mapper.remap(original)
		if err != nil {
			return false, err
		}
		parts[hostIdx] = strconv.Itoa(port)
		item.Value = strings.Join(parts, ":")
		if proto != "" {
			item.Value += "/" + proto
		}
		return true, nil

	case yaml.MappingNode:
		for i := 0; i+1 < len(item.Content); i += 2 {
			if item.Content[i].Value != "published" {
				continue
			}
			value := item.Content[i+1]
			original, err := strconv.Atoi(value.Value)
			if err != nil {
				return false, nil
			}
			port, err := mapper.remap(original)
			if err != nil {
				return false, err
			}
			value.Value = strconv.Itoa(port)
			return true, nil
		}
	}
	return false, nil
}
