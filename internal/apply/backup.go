package apply

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// #region backup-manager

// BackupManager keeps timestamped copies of the parameter config so any
// applied change can be undone by restoring the pre-change snapshot.
type BackupManager struct {
	dir string
}

// NewBackupManager stores backups under dir.
func NewBackupManager(dir string) *BackupManager {
	return &BackupManager{dir: dir}
}

// #endregion backup-manager

// #region create

// Create snapshots the config file before a plan is applied. The backup name
// carries the plan ID and timestamp so restores are unambiguous.
func (m *BackupManager) Create(configPath, planID string, now time.Time) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config for backup: %w", err)
	}

	name := fmt.Sprintf("parameters_%s_%s.json", now.UTC().Format("20060102T150405Z"), planID)
	backupPath := filepath.Join(m.dir, name)
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return backupPath, nil
}

// #endregion create

// #region restore

// Restore copies a backup back over the live config.
func (m *BackupManager) Restore(backupPath, configPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("restore config: %w", err)
	}
	return nil
}

// #endregion restore

// #region list

// List returns existing backup paths, oldest first.
func (m *BackupManager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(m.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// #endregion list
