package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/shrubmanage/internal/constants"
)

// GlobalPath returns the path to the per-user workspace directory.
// On Unix: ~/.shrubmanage
// On Windows: %USERPROFILE%\.shrubmanage
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, constants.WorkspaceDirName), nil
}

// WorkspacePath returns the path to the .shrubmanage directory under root.
func WorkspacePath(root string) string {
	return filepath.Join(root, constants.WorkspaceDirName)
}

// EnsureWorkspaceDir creates the .shrubmanage directory under root and
// returns its path.
func EnsureWorkspaceDir(root string) (string, error) {
	dir := WorkspacePath(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", constants.WorkspaceDirName, err)
	}
	return dir, nil
}
