package adminclient

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"aiscene/pkg/domain"
)

// Credentials is the persisted admin session: the bearer token and a
// cached user summary for rendering before the first /me round trip.
type Credentials struct {
	Token string           `json:"token"`
	User  domain.AdminUser `json:"user"`
}

// CredentialStore persists the session between runs. Load reports false
// when no valid session exists.
type CredentialStore interface {
	Load() (Credentials, bool)
	Save(creds Credentials) error
	Clear()
}

// FileCredentialStore keeps the session in a JSON file. A file that fails
// to parse is treated as corruption: it is removed and the caller sees
// the logged-out state.
type FileCredentialStore struct {
	mu   sync.Mutex
	path string
}

func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

func (s *FileCredentialStore) Load() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Credentials{}, false
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil || creds.Token == "" {
		os.Remove(s.path)
		return Credentials{}, false
	}
	return creds, true
}

func (s *FileCredentialStore) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *FileCredentialStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A missing file already is the logged-out state.
	_ = os.Remove(s.path)
}

// MemoryCredentialStore is an in-process store for tests and short-lived
// sessions.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds Credentials
	set   bool
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Load() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.set
}

func (s *MemoryCredentialStore) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.set = true
	return nil
}

func (s *MemoryCredentialStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = Credentials{}
	s.set = false
}
