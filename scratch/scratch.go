// Package scratch manages per-request temporary audio files. Every path it
// hands out must be released with Remove on all exit paths so a failed
// comparison never leaks disk usage.
package scratch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"guitar-practice/utils"
)

// Manager writes request-scoped files into a shared scratch directory.
// Uniqueness comes from a nanosecond timestamp prefix; concurrent requests
// share the directory but never a file name in practice.
type Manager struct {
	root string
}

// New returns a Manager rooted at dir. An empty dir falls back to the TMP_DIR
// environment variable, then "tmp".
func New(dir string) *Manager {
	if dir == "" {
		dir = utils.GetEnv("TMP_DIR", "tmp")
	}
	return &Manager{root: dir}
}

// Dir returns the scratch root, creating it lazily.
func (m *Manager) Dir() (string, error) {
	if err := utils.CreateFolder(m.root); err != nil {
		return "", err
	}
	return m.root, nil
}

// Write persists buf under a unique name derived from suggestedName and
// returns the absolute path. The written file is verified non-empty before
// the path is returned.
func (m *Manager) Write(buf []byte, suggestedName string) (string, error) {
	dir, err := m.Dir()
	if err != nil {
		return "", fmt.Errorf("cannot write temp file: %w", err)
	}

	name := fmt.Sprintf("%d_%s", time.Now().UnixNano(), sanitizeName(suggestedName))
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", fmt.Errorf("cannot write temp file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("cannot write temp file: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(path)
		return "", fmt.Errorf("temp file empty: %s", name)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// Remove deletes the given paths, ignoring empty entries. Failures are logged
// and swallowed; cleanup must never fail the request it runs under.
func (m *Manager) Remove(paths ...string) {
	logger := utils.GetLogger()
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove temp file",
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
	}
}

func sanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	if name == "" || name == "." {
		name = "upload"
	}
	return name
}
