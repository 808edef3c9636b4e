// Package config persists the per-install settings the host hands to the
// catalog client: locale preferences, page size, and the storage location
// for auth state.
package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/kirsle/configdir"
	"github.com/spf13/afero"
)

const settingsFile = "settings.json"

// DefaultPageSize is used when the host supplies no page size.
const DefaultPageSize = 20

// Settings are the user preferences consumed by the catalog client. The
// credential fields come from the host's settings screen and are treated as
// opaque here.
type Settings struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	PreferredAudio    string `json:"preferredAudio"`    // BCP-47 locale or "original"
	PreferredSubtitle string `json:"preferredSubtitle"` // BCP-47 locale, empty for none
	PageSize          int    `json:"pageSize"`
}

// Manager loads and saves settings as a JSON file, guarded for concurrent
// use from host callbacks.
type Manager struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewManager creates a settings manager rooted in the platform config
// directory. The directory is created on first use.
func NewManager(appName string) (*Manager, error) {
	dir := configdir.LocalConfig(appName)
	return NewManagerWithFs(afero.NewOsFs(), dir)
}

// NewManagerWithFs creates a settings manager on the given filesystem.
// Tests pass an in-memory fs.
func NewManagerWithFs(fs afero.Fs, dir string) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("config: storage directory not provided")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	return &Manager{fs: fs, path: filepath.Join(dir, settingsFile)}, nil
}

// Load reads the settings file. A missing file yields defaults, not an error.
func (m *Manager) Load() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings := Settings{
		PreferredAudio: "original",
		PageSize:       DefaultPageSize,
	}

	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		if exists, _ := afero.Exists(m.fs, m.path); !exists {
			return settings, nil
		}
		return settings, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("decode settings: %w", err)
	}
	if settings.PageSize <= 0 {
		settings.PageSize = DefaultPageSize
	}
	if settings.PreferredAudio == "" {
		settings.PreferredAudio = "original"
	}
	return settings, nil
}

// Save writes the settings file atomically enough for a single-process host.
func (m *Manager) Save(settings Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := afero.WriteFile(m.fs, m.path, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
