package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/freevideocut/cutagent/internal/fileutil"
	"github.com/freevideocut/cutagent/internal/logging"
)

const importPrefix = "imported_"

// Manager creates workspace trees and copies user sources into them.
type Manager struct {
	layout Layout
	ids    *IDs
	logger *slog.Logger
}

func NewManager(layout Layout, ids *IDs, logger *slog.Logger) *Manager {
	return &Manager{layout: layout, ids: ids, logger: logging.WithComponent(logger, "workspace")}
}

func (m *Manager) Layout() Layout {
	return m.layout
}

// CreateWorkspace creates the workspace root and its sub-areas. Calling it
// on an existing workspace is a no-op.
func (m *Manager) CreateWorkspace(name string) error {
	if err := ValidateName(name); err != nil {
		return fmt.Errorf("%w: %q", err, name)
	}
	for _, role := range Roles {
		if err := os.MkdirAll(m.layout.Dir(name, role), 0o755); err != nil {
			return fmt.Errorf("%w: create %s: %v", ErrFilesystem, role, err)
		}
	}
	m.logger.Info("workspace ready", "workspace", name)
	return nil
}

// ImportSource copies sourcePath into the workspace import area under a
// generated imported_<ts>.<ext> name and returns that name.
func (m *Manager) ImportSource(sourcePath, workspace string) (string, error) {
	if err := ValidateName(workspace); err != nil {
		return "", fmt.Errorf("%w: %q", err, workspace)
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", fmt.Errorf("%w: source: %v", ErrFilesystem, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: source %s is not a regular file", ErrFilesystem, filepath.Base(sourcePath))
	}

	dir := m.layout.Dir(workspace, RoleImport)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create import area: %v", ErrFilesystem, err)
	}

	ext := importExt(sourcePath)
	stem := m.ids.NextFree(workspace, func(s string) bool {
		return fileutil.Exists(filepath.Join(dir, importPrefix+s+ext))
	})
	name := importPrefix + stem + ext

	n, err := fileutil.CopyFile(sourcePath, filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("%w: copy source: %v", ErrFilesystem, err)
	}

	m.logger.Info("source imported",
		"workspace", workspace,
		"import_name", name,
		"size", humanize.Bytes(uint64(n)),
	)
	return name, nil
}

// importExt keeps the source extension, lower-cased, including the dot.
func importExt(path string) string {
	ext := filepath.Ext(filepath.Base(path))
	if ext == "." {
		return ""
	}
	return strings.ToLower(ext)
}
