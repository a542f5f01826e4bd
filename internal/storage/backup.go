package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"trading_assistant/internal/logger"
	"trading_assistant/internal/models"
)

const backupPrefix = "backup_"

// Backup is the JSON document written by WriteBackup.
type Backup struct {
	SchemaVersion    int                      `json:"schema_version"`
	CreatedAt        time.Time                `json:"created_at"`
	Decisions        []models.Decision        `json:"decisions"`
	LearningContexts []models.LearningContext `json:"learning_contexts"`
}

// WriteBackup exports decisions and learning contexts into dir and prunes old
// backups so that at most keep files remain. It returns the new file's path.
func (s *Store) WriteBackup(ctx context.Context, dir string, keep int, now time.Time) (string, error) {
	decisions, err := s.ListDecisions(ctx, DecisionFilter{})
	if err != nil {
		return "", err
	}
	contexts, err := s.ListLearningContexts(ctx, 1000)
	if err != nil {
		return "", err
	}
	doc := Backup{
		SchemaVersion:    SchemaVersion,
		CreatedAt:        now.UTC(),
		Decisions:        decisions,
		LearningContexts: contexts,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir backup dir: %w", err)
	}
	path := filepath.Join(dir, backupPrefix+now.UTC().Format("20060102_150405")+".json")
	if err := writeFileAtomic(path, b); err != nil {
		return "", err
	}
	logger.WithFields(map[string]interface{}{
		"path":      path,
		"decisions": len(decisions),
		"contexts":  len(contexts),
	}).Info("backup written")

	if keep > 0 {
		if err := pruneBackups(dir, keep); err != nil {
			logger.WithError(err).Warn("pruning old backups failed")
		}
	}
	return path, nil
}

// writeFileAtomic writes to a temp file, syncs it and renames it over path.
func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	// Close before renaming (required on Windows).
	f.Close()

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// pruneBackups keeps the newest keep backups. Names embed the timestamp, so lexical order is age order.
func pruneBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// ReadBackup loads a backup file.
func ReadBackup(path string) (*Backup, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Backup
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse backup %s: %w", path, err)
	}
	return &doc, nil
}
