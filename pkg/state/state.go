package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/coco/pkg/log"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"
)

var manifestBucket = []byte("saved_states")

// InitialStateFile is one entry of the config's initial_state_files map:
// the state path to hydrate, and the YAML file to load it from.
type InitialStateFile struct {
	Path string
	File string
}

// State is coco's hierarchical, path-addressed state tree.
type State struct {
	mu   sync.RWMutex
	tree map[string]interface{}

	storageDir  string
	statePath   string // storageDir/state.json
	savedDir    string // storageDir/saved/
	manifest    *bolt.DB
	initial     []InitialStateFile
	excludeKeys []string // top-level paths preserved across reset()

	logger zerolog.Logger
}

// Open constructs the state store, hydrating it from storageDir/state.json
// if present, or from the initial state files otherwise (spec §4.1).
func Open(storageDir string, initial []InitialStateFile, excludeFromReset []string) (*State, error) {
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create storage dir: %w", err)
	}
	savedDir := filepath.Join(storageDir, "saved")
	if err := os.MkdirAll(savedDir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create saved-states dir: %w", err)
	}

	manifestPath := filepath.Join(storageDir, "saved_states.manifest")
	db, err := bolt.Open(manifestPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("state: open saved-states manifest: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(manifestBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: init saved-states manifest: %w", err)
	}

	s := &State{
		storageDir:  storageDir,
		statePath:   filepath.Join(storageDir, "state.json"),
		savedDir:    savedDir,
		manifest:    db,
		initial:     initial,
		excludeKeys: excludeFromReset,
		logger:      log.WithComponent("state"),
	}

	tree, err := loadJSON(s.statePath)
	if err != nil {
		db.Close()
		return nil, err
	}
	if tree == nil {
		s.tree = make(map[string]interface{})
		if err := s.loadInitialStateLocked(); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		s.tree = tree
	}

	return s, nil
}

// Close releases the saved-states manifest handle.
func (s *State) Close() error {
	return s.manifest.Close()
}

// Write writes (or overwrites) value at path. The parent of path must
// already exist as a mapping node; use FindOrCreate first if it might
// not.
func (s *State) Write(path string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, name, err := findParent(s.tree, path)
	if err != nil {
		return err
	}
	parent[name] = value
	return s.persistLocked()
}

// Read reads the value at path.
func (s *State) Read(path string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return find(s.tree, path)
}

// Extract returns a nested map containing the root level of the state
// and the whole requested path, but only the value at the requested
// entry (spec §4.1's extract).
func (s *State) Extract(path string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, err := find(s.tree, path)
	if err != nil {
		return nil, err
	}
	return pack(splitPath(path), value), nil
}

// FindOrCreate finds (creating as needed) the mapping node at path and
// returns it. Missing intermediate mapping nodes are created on demand;
// traversing a non-mapping node is an error.
func (s *State) FindOrCreate(path string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := findOrCreate(s.tree, path)
	if err != nil {
		return nil, err
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return node, nil
}

// ReadFromFile loads a YAML document from file and writes it at path,
// creating any missing intermediate mapping nodes.
func (s *State) ReadFromFile(path, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("state: read initial-state file %s: %w", file, err)
	}
	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("state: parse YAML %s: %w", file, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parts := splitPath(path)
	if len(parts) == 0 {
		if m, ok := value.(map[string]interface{}); ok {
			s.tree = m
		} else {
			return fmt.Errorf("state: initial state file %s must decode to a mapping to load at the root", file)
		}
	} else {
		parent, err := findOrCreate(s.tree, joinParts(parts[:len(parts)-1]))
		if err != nil {
			return err
		}
		parent[parts[len(parts)-1]] = value
	}
	return s.persistLocked()
}

// Hash returns the hex MD5 digest of the canonical JSON serialisation of
// the subtree at path (the whole tree if path is empty).
func (s *State) Hash(path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, err := find(s.tree, path)
	if err != nil {
		return "", err
	}
	return HashBytes(node)
}

// IsEmpty reports whether the tree has no top-level entries.
func (s *State) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tree) == 0
}

// Reset discards the current tree and re-hydrates it from the initial
// state files, preserving any top-level path named in excludeFromReset
// (spec §6's exclude_from_reset config key).
func (s *State) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	preserved := make(map[string]interface{}, len(s.excludeKeys))
	for _, k := range s.excludeKeys {
		if v, ok := s.tree[k]; ok {
			preserved[k] = v
		}
	}

	s.tree = make(map[string]interface{})
	if err := s.loadInitialStateLocked(); err != nil {
		return err
	}
	for k, v := range preserved {
		s.tree[k] = v
	}
	return s.persistLocked()
}

// Save writes the current tree to a named snapshot file under
// storageDir/saved/ and records the name in the manifest.
func (s *State) Save(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.savedStatePath(name)
	if err := atomicWriteJSON(path, s.tree); err != nil {
		return fmt.Errorf("state: save snapshot %q: %w", name, err)
	}
	return s.manifest.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(manifestBucket).Put([]byte(name), []byte(path))
	})
}

// Load replaces the current tree with the contents of a named snapshot.
func (s *State) Load(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var path []byte
	if err := s.manifest.View(func(tx *bolt.Tx) error {
		path = tx.Bucket(manifestBucket).Get([]byte(name))
		return nil
	}); err != nil {
		return err
	}
	if path == nil {
		return fmt.Errorf("state: no saved state named %q", name)
	}

	tree, err := loadJSON(string(path))
	if err != nil {
		return fmt.Errorf("state: load snapshot %q: %w", name, err)
	}
	if tree == nil {
		tree = make(map[string]interface{})
	}
	s.tree = tree
	return s.persistLocked()
}

// ListSaved returns the names of all saved snapshots.
func (s *State) ListSaved() ([]string, error) {
	var names []string
	err := s.manifest.View(func(tx *bolt.Tx) error {
		return tx.Bucket(manifestBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (s *State) savedStatePath(name string) string {
	return filepath.Join(s.savedDir, name+".json")
}

func (s *State) loadInitialStateLocked() error {
	for _, f := range s.initial {
		data, err := os.ReadFile(f.File)
		if err != nil {
			s.logger.Error().Err(err).Str("file", f.File).Msg("failed reading initial state file")
			continue
		}
		var value interface{}
		if err := yaml.Unmarshal(data, &value); err != nil {
			s.logger.Error().Err(err).Str("file", f.File).Msg("failed parsing initial state YAML")
			continue
		}

		parts := splitPath(f.Path)
		if len(parts) == 0 {
			if m, ok := value.(map[string]interface{}); ok {
				for k, v := range m {
					s.tree[k] = v
				}
			}
			continue
		}
		parent, err := findOrCreate(s.tree, joinParts(parts[:len(parts)-1]))
		if err != nil {
			return err
		}
		parent[parts[len(parts)-1]] = value
	}
	return nil
}

func (s *State) persistLocked() error {
	return atomicWriteJSON(s.statePath, s.tree)
}

func joinParts(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}
