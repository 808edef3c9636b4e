package auth

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/kirsle/configdir"
	"github.com/spf13/afero"

	"aniflux/models"
)

const (
	tokensFile = "auth.json"
	deviceFile = "device.json"
)

var ErrStorageDirRequired = fmt.Errorf("auth: storage directory not provided")

// Store persists token state and the device identity as JSON files. Token
// records are keyed "auth@{email}" so switching accounts keeps each account's
// refresh token. The device record is a singleton created on first use.
type Store struct {
	mu  sync.RWMutex
	fs  afero.Fs
	dir string
}

// NewStore creates a store rooted in the platform config directory.
func NewStore(appName string) (*Store, error) {
	return NewStoreWithFs(afero.NewOsFs(), configdir.LocalConfig(appName))
}

// NewStoreWithFs creates a store on the given filesystem. Tests pass an
// in-memory fs.
func NewStoreWithFs(fs afero.Fs, dir string) (*Store, error) {
	if dir == "" {
		return nil, ErrStorageDirRequired
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create auth dir: %w", err)
	}
	return &Store{fs: fs, dir: dir}, nil
}

func storeKey(email string) string {
	return "auth@" + email
}

func (s *Store) tokensPath() string {
	return filepath.Join(s.dir, tokensFile)
}

func (s *Store) readTokens() (map[string]models.TokenState, error) {
	records := make(map[string]models.TokenState)
	data, err := afero.ReadFile(s.fs, s.tokensPath())
	if err != nil {
		if exists, _ := afero.Exists(s.fs, s.tokensPath()); !exists {
			return records, nil
		}
		return nil, fmt.Errorf("read token store: %w", err)
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode token store: %w", err)
	}
	return records, nil
}

func (s *Store) writeTokens(records map[string]models.TokenState) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token store: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.tokensPath(), data, 0o600); err != nil {
		return fmt.Errorf("write token store: %w", err)
	}
	return nil
}

// Token returns the persisted token state for the account, if any.
func (s *Store) Token(email string) (models.TokenState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.readTokens()
	if err != nil {
		return models.TokenState{}, false, err
	}
	state, ok := records[storeKey(email)]
	return state, ok, nil
}

// SaveToken overwrites the persisted token state for the account.
func (s *Store) SaveToken(email string, state models.TokenState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readTokens()
	if err != nil {
		return err
	}
	records[storeKey(email)] = state
	return s.writeTokens(records)
}

// DeleteToken removes the persisted token state for the account. Deleting a
// record that does not exist is not an error.
func (s *Store) DeleteToken(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readTokens()
	if err != nil {
		return err
	}
	if _, ok := records[storeKey(email)]; !ok {
		return nil
	}
	delete(records, storeKey(email))
	return s.writeTokens(records)
}

// Clear removes all token records ("clear auth cache"). The device identity
// survives: it identifies the install, not the account.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeTokens(make(map[string]models.TokenState))
}

// DeviceIdentity returns the stable per-install identity, creating and
// persisting it on first call.
func (s *Store) DeviceIdentity() (models.DeviceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, deviceFile)
	data, err := afero.ReadFile(s.fs, path)
	if err == nil {
		var device models.DeviceIdentity
		if err := json.Unmarshal(data, &device); err == nil && device.UUID != "" {
			return device, nil
		}
		// Corrupt record: regenerate below rather than failing every call.
	}

	device := models.DeviceIdentity{
		UUID: uuid.NewString(),
		Type: runtime.GOOS,
		Name: "aniflux",
	}
	out, err := json.MarshalIndent(device, "", "  ")
	if err != nil {
		return models.DeviceIdentity{}, fmt.Errorf("encode device identity: %w", err)
	}
	if err := afero.WriteFile(s.fs, path, out, 0o600); err != nil {
		return models.DeviceIdentity{}, fmt.Errorf("write device identity: %w", err)
	}
	return device, nil
}
