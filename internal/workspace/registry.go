package workspace

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/harrison/cadence/internal/filelock"
	"github.com/harrison/cadence/internal/models"
	"gopkg.in/yaml.v3"
)

// RegistryFile is the registry name inside the workspace directory.
const RegistryFile = "registry.yaml"

type registryDoc struct {
	Workspaces []models.WorkspaceHandle `yaml:"workspaces"`
}

// loadRegistry reads the persisted handles. A missing file is empty.
func loadRegistry(path string) ([]models.WorkspaceHandle, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace registry: %w", err)
	}
	var doc registryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workspace registry %s: %w", path, err)
	}
	return doc.Workspaces, nil
}

// saveRegistry writes handles sorted by port base.
func saveRegistry(ctx context.Context, path string, handles []models.WorkspaceHandle) error {
	sort.Slice(handles, func(i, j int) bool { return handles[i].PortBase < handles[j].PortBase })
	data, err := yaml.Marshal(registryDoc{Workspaces: handles})
	if err != nil {
		return fmt.Errorf("encode workspace registry: %w", err)
	}
	if err := filelock.GuardedWrite(ctx, path, data); err != nil {
		return fmt.Errorf("save workspace registry: %w", err)
	}
	return nil
}
