// Package progress persists the project's sprint collection.
//
// The on-disk document is strongly typed: unknown fields are rejected and
// version 1 documents are migrated key by key before decoding, so nothing is
// ever dropped silently.
package progress

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/harrison/cadence/internal/models"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the document version written by this package.
const CurrentVersion = 2

// Project holds project metadata.
type Project struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	CreatedAt   time.Time `yaml:"created_at"`
}

// Document is the progress store file.
type Document struct {
	Version int              `yaml:"version"`
	Project Project          `yaml:"project"`
	Sprints []*models.Sprint `yaml:"sprints"`
}

// legacyKeys maps version 1 sprint keys to their current names.
var legacyKeys = map[string]string{
	"phase":   "status",
	"retries": "retry_count",
	"deps":    "depends_on",
}

// Parse decodes, migrates and validates a progress document.
// Every failure is a *models.ConfigurationError.
func Parse(source string, data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, models.NewConfigurationError(source, fmt.Errorf("malformed YAML: %w", err))
	}
	if len(root.Content) == 0 {
		return nil, models.NewConfigurationError(source, errors.New("empty progress document"))
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, models.NewConfigurationError(source, errors.New("progress document must be a mapping"))
	}

	version, err := documentVersion(top)
	if err != nil {
		return nil, models.NewConfigurationError(source, err)
	}
	switch version {
	case 1:
		if err := migrateV1(top); err != nil {
			return nil, models.NewConfigurationError(source, fmt.Errorf("migrate version 1: %w", err))
		}
	case CurrentVersion:
	default:
		return nil, models.NewConfigurationError(source, fmt.Errorf("unsupported version %d", version))
	}

	normalized, err := yaml.Marshal(&root)
	if err != nil {
		return nil, models.NewConfigurationError(source, err)
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(normalized))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, models.NewConfigurationError(source, err)
	}

	if err := doc.Validate(); err != nil {
		return nil, models.NewConfigurationError(source, err)
	}
	return &doc, nil
}

// Marshal encodes doc as YAML.
func Marshal(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode progress document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode progress document: %w", err)
	}
	return buf.Bytes(), nil
}

// Validate checks every sprint, id uniqueness and dependency references.
func (d *Document) Validate() error {
	if d.Version != CurrentVersion {
		return fmt.Errorf("unsupported version %d", d.Version)
	}
	ids := make(map[string]bool, len(d.Sprints))
	for i, s := range d.Sprints {
		if s == nil {
			return fmt.Errorf("sprint %d is empty", i+1)
		}
		if err := s.Validate(); err != nil {
			return err
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate sprint id %q", s.ID)
		}
		ids[s.ID] = true
	}
	for _, s := range d.Sprints {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("sprint %s depends on unknown sprint %q", s.ID, dep)
			}
		}
	}
	return nil
}

// documentVersion reads the version key. A document without one is legacy.
func documentVersion(top *yaml.Node) (int, error) {
	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value != "version" {
			continue
		}
		var v int
		if err := top.Content[i+1].Decode(&v); err != nil {
			return 0, fmt.Errorf("version must be an integer: %w", err)
		}
		return v, nil
	}
	return 1, nil
}

// migrateV1 rewrites a legacy document in place: renamed sprint keys,
// snake_case statuses and the version marker.
func migrateV1(top *yaml.Node) error {
	hasVersion := false
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, value := top.Content[i], top.Content[i+1]
		switch key.Value {
		case "version":
			value.Value = fmt.Sprint(CurrentVersion)
			value.Tag = "!!int"
			hasVersion = true
		case "sprints":
			if value.Kind != yaml.SequenceNode {
				return errors.New("sprints must be a list")
			}
			for _, sprint := range value.Content {
				if err := migrateSprintV1(sprint); err != nil {
					return err
				}
			}
		}
	}
	if !hasVersion {
		top.Content = append([]*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "version"},
			{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(CurrentVersion)},
		}, top.Content...)
	}
	return nil
}

func migrateSprintV1(sprint *yaml.Node) error {
	if sprint.Kind != yaml.MappingNode {
		return errors.New("sprint entry must be a mapping")
	}
	for i := 0; i+1 < len(sprint.Content); i += 2 {
		key, value := sprint.Content[i], sprint.Content[i+1]
		if renamed, ok := legacyKeys[key.Value]; ok {
			key.Value = renamed
		}
		if key.Value == "status" || key.Value == "blocked_phase" {
			if value.Value == "" {
				continue
			}
			phase, err := models.ParsePhase(value.Value)
			if err != nil {
				return err
			}
			value.Value = string(phase)
		}
	}
	return nil
}
