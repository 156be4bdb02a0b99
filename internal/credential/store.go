package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name used for keyring storage
	KeyringService = "harvest-cli"
	// FallbackDir is the directory (relative to home) for file-based storage
	FallbackDir = ".harvest/credentials"

	manifestKey = "_manifest"
)

// StoredKey is an API key saved under a name
type StoredKey struct {
	Name    string    `json:"name"`
	Key     string    `json:"key"`
	AddedAt time.Time `json:"added_at"`
}

// Store persists named API keys in the OS keyring, or in files under dir
// where no keyring is reachable (CI, Codespaces, containers).
type Store struct {
	service   string
	dir       string
	fileBased bool
}

// NewStore picks keyring or file storage for the current environment
func NewStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	s := &Store{
		service: KeyringService,
		dir:     filepath.Join(home, FallbackDir),
	}
	s.fileBased = !keyringReachable(s.service)
	return s, nil
}

// NewFileStore returns a Store that always uses files under dir
func NewFileStore(dir string) *Store {
	return &Store{service: KeyringService, dir: dir, fileBased: true}
}

// NewKeyringStore returns a Store that always uses the keyring
func NewKeyringStore(service string) *Store {
	if service == "" {
		service = KeyringService
	}
	return &Store{service: service}
}

// FileBased reports whether the store writes to disk instead of the keyring
func (s *Store) FileBased() bool {
	return s.fileBased
}

func keyringReachable(service string) bool {
	if os.Getenv("CODESPACES") != "" || os.Getenv("CI") != "" {
		return false
	}
	testKey := "_test_keyring_access_"
	if err := keyring.Set(service, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(service, testKey)
	return true
}

func (s *Store) path(name string) (string, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+".json"), nil
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("credential name cannot be empty")
	}
	if name == manifestKey || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid credential name %q", name)
	}
	return nil
}

// Save stores key under name, replacing any previous value
func (s *Store) Save(name, key string) error {
	if err := validName(name); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("credential key cannot be empty")
	}

	data, err := json.Marshal(StoredKey{Name: name, Key: key, AddedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to serialize credential: %w", err)
	}

	if s.fileBased {
		path, err := s.path(name)
		if err != nil {
			return fmt.Errorf("failed to get credential path: %w", err)
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("failed to save credential file: %w", err)
		}
		return nil
	}

	if err := keyring.Set(s.service, name, string(data)); err != nil {
		return fmt.Errorf("failed to save to keyring: %w", err)
	}
	return s.updateManifest(name, true)
}

// Load returns the key stored under name
func (s *Store) Load(name string) (*StoredKey, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	var data string
	if s.fileBased {
		path, err := s.path(name)
		if err != nil {
			return nil, fmt.Errorf("failed to get credential path: %w", err)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load credential file: %w", err)
		}
		data = string(raw)
	} else {
		v, err := keyring.Get(s.service, name)
		if err != nil {
			return nil, fmt.Errorf("failed to load from keyring: %w", err)
		}
		data = v
	}

	var sk StoredKey
	if err := json.Unmarshal([]byte(data), &sk); err != nil {
		return nil, fmt.Errorf("failed to deserialize credential: %w", err)
	}
	return &sk, nil
}

// Delete removes the key stored under name
func (s *Store) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	if s.fileBased {
		path, err := s.path(name)
		if err != nil {
			return fmt.Errorf("failed to get credential path: %w", err)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete credential file: %w", err)
		}
		return nil
	}

	if err := keyring.Delete(s.service, name); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return s.updateManifest(name, false)
}

// List returns the stored names in sorted order
func (s *Store) List() ([]string, error) {
	if s.fileBased {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			if os.IsNotExist(err) {
				return []string{}, nil
			}
			return nil, err
		}
		names := []string{}
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
				names = append(names, strings.TrimSuffix(e.Name(), ".json"))
			}
		}
		sort.Strings(names)
		return names, nil
	}

	raw, err := keyring.Get(s.service, manifestKey)
	if err != nil {
		// no manifest yet
		return []string{}, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("failed to deserialize manifest: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// LoadAll returns every stored key, ordered by name. Entries that fail to
// load are skipped and reported in the returned error.
func (s *Store) LoadAll() ([]string, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(names))
	var failed []string
	for _, name := range names {
		sk, err := s.Load(name)
		if err != nil {
			failed = append(failed, name)
			continue
		}
		keys = append(keys, sk.Key)
	}
	if len(failed) > 0 {
		return keys, fmt.Errorf("failed to load credentials: %s", strings.Join(failed, ", "))
	}
	return keys, nil
}

func (s *Store) updateManifest(name string, add bool) error {
	names, _ := s.List()

	next := make([]string, 0, len(names)+1)
	found := false
	for _, n := range names {
		if n == name {
			found = true
			if !add {
				continue
			}
		}
		next = append(next, n)
	}
	if add && !found {
		next = append(next, name)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return keyring.Set(s.service, manifestKey, string(data))
}
