package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultHomeDir is the per-project state directory name.
const DefaultHomeDir = ".cadence"

// HomeEnv overrides home discovery.
const HomeEnv = "CADENCE_HOME"

// GetCadenceHome returns the cadence home directory
// Priority order:
//  1. CADENCE_HOME environment variable (if set)
//  2. Nearest ancestor of the working directory holding .cadence or .git
//  3. Current working directory (fallback)
//
// The directory is created if it doesn't exist
func GetCadenceHome() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return GetCadenceHomeFrom(cwd)
}

// GetCadenceHomeFrom resolves the home directory starting the search at start.
func GetCadenceHomeFrom(start string) (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create cadence home directory: %w", err)
		}
		return home, nil
	}

	root := findProjectRoot(start)
	if root == "" {
		root = start
	}

	home := filepath.Join(root, DefaultHomeDir)
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create cadence home directory: %w", err)
	}
	return home, nil
}

// ProjectRoot returns the directory that contains home.
func ProjectRoot(home string) string {
	return filepath.Dir(home)
}

// findProjectRoot walks up from start looking for an existing .cadence
// directory first, then a git repository.
func findProjectRoot(start string) string {
	gitRoot := ""
	current := start
	for {
		if info, err := os.Stat(filepath.Join(current, DefaultHomeDir)); err == nil && info.IsDir() {
			return current
		}
		if gitRoot == "" {
			if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
				gitRoot = current
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return gitRoot
}

// Load resolves home, loads its config.yaml and makes paths absolute.
func Load() (*Config, string, error) {
	home, err := GetCadenceHome()
	if err != nil {
		return nil, "", err
	}
	cfg, err := LoadConfigFromHome(home)
	if err != nil {
		return nil, "", err
	}
	cfg.ResolvePaths(home, ProjectRoot(home))
	return cfg, home, nil
}
