package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// NonceState is the persisted nonce floor of one instance. Every nonce
// issued after a restart must be above Floor.
type NonceState struct {
	Floor     uint64    `json:"floor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps small JSON state files under one directory. Writes go to a
// temp file first and are renamed into place.
type Store struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, now: time.Now}, nil
}

func (s *Store) SaveNonce(name string, floor uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.noncePath(name), NonceState{Floor: floor, UpdatedAt: s.now().UTC()})
}

// LoadNonce returns false when no floor has been written yet.
func (s *Store) LoadNonce(name string) (uint64, bool, error) {
	data, err := os.ReadFile(s.noncePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var st NonceState
	if err := json.Unmarshal(data, &st); err != nil {
		return 0, false, fmt.Errorf("decode %s: %w", s.noncePath(name), err)
	}
	return st.Floor, true, nil
}

func (s *Store) noncePath(name string) string {
	return filepath.Join(s.root, name+".nonce.json")
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	syncDir(dir, path)
	return nil
}

// syncDir makes the rename durable where the platform allows it. Failure is
// logged only.
func syncDir(dir, path string) {
	d, err := os.Open(dir)
	if err != nil {
		log.Printf("level=WARN event=store_dir_fsync_skipped reason=%q dir=%q target=%q", err.Error(), dir, path)
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		log.Printf("level=WARN event=store_dir_fsync_failed reason=%q dir=%q target=%q", err.Error(), dir, path)
	}
}
