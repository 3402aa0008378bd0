package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"vkphotos/pkg/logger"
	"vkphotos/pkg/models"
)

const currentVersion = 1

// Checkpoint records the last successful synchronization of one scope
type Checkpoint struct {
	Scope models.Referrer `json:"scope"`
	// LastSyncedAt is the start time of the last successful run. The next
	// incremental run fetches records changed at or after it.
	LastSyncedAt time.Time `json:"last_synced_at"`
	LastRunID    string    `json:"last_run_id"`
	Runs         int       `json:"runs"`
	TotalAlbums  int       `json:"total_albums"`
	TotalPhotos  int       `json:"total_photos"`
	TotalLikes   int       `json:"total_likes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int       `json:"version"`
}

// Run summarizes one successful synchronization
type Run struct {
	ID        string
	StartedAt time.Time
	Albums    int
	Photos    int
	Likes     int
}

// Manager handles checkpoint operations for one scope
type Manager struct {
	scope          models.Referrer
	checkpointPath string
	logger         logger.Logger
}

// NewManager creates a checkpoint manager for scope. Checkpoints live in
// dir, or in the platform data directory when dir is empty.
func NewManager(scope models.Referrer, dir string, log logger.Logger) (*Manager, error) {
	if scope.IsZero() {
		return nil, fmt.Errorf("checkpoint scope must be an owner or a group")
	}
	if dir == "" {
		dataDir, err := getDataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		dir = filepath.Join(dataDir, "checkpoints")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	name := strings.ReplaceAll(scope.String(), ":", "_") + ".checkpoint.json"
	return &Manager{
		scope:          scope,
		checkpointPath: filepath.Join(dir, name),
		logger:         logger.OrNop(log),
	}, nil
}

// Path returns the checkpoint file path
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Load loads the checkpoint. It returns nil without error when none exists.
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if checkpoint.Scope != m.scope {
		return nil, fmt.Errorf("checkpoint %s belongs to %s, not %s", m.checkpointPath, checkpoint.Scope, m.scope)
	}

	m.logger.DebugWithFields("Checkpoint loaded", map[string]interface{}{
		"scope":          checkpoint.Scope,
		"last_synced_at": checkpoint.LastSyncedAt,
		"runs":           checkpoint.Runs,
	})

	return &checkpoint, nil
}

// Since returns the lower bound for the next incremental run, or the zero
// time when the scope was never synchronized.
func (m *Manager) Since() (time.Time, error) {
	cp, err := m.Load()
	if err != nil || cp == nil {
		return time.Time{}, err
	}
	return cp.LastSyncedAt, nil
}

// RecordRun stores a successful run, creating the checkpoint if needed
func (m *Manager) RecordRun(run Run) (*Checkpoint, error) {
	cp, err := m.Load()
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = &Checkpoint{Scope: m.scope, CreatedAt: time.Now(), Version: currentVersion}
	}

	cp.LastSyncedAt = run.StartedAt
	cp.LastRunID = run.ID
	cp.Runs++
	cp.TotalAlbums += run.Albums
	cp.TotalPhotos += run.Photos
	cp.TotalLikes += run.Likes

	if err := m.Save(cp); err != nil {
		return nil, err
	}

	m.logger.InfoWithFields("Checkpoint updated", map[string]interface{}{
		"scope":          m.scope,
		"run_id":         run.ID,
		"last_synced_at": cp.LastSyncedAt,
	})
	return cp, nil
}

// Save saves the checkpoint to disk atomically
func (m *Manager) Save(checkpoint *Checkpoint) error {
	checkpoint.UpdatedAt = time.Now()

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	// Ensure data is written to disk
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint deleted", map[string]interface{}{"scope": m.scope})
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "vkphotos")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "vkphotos")
	default:
		// XDG_DATA_HOME if set, otherwise ~/.local/share
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "vkphotos")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "vkphotos")
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}
