package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/storage/seal"
)

// snapshotFile persists the state as one sealed JSON document. Writes go to
// a temporary file that replaces the snapshot by rename, so a crash leaves
// either the previous or the new snapshot on disk.
type snapshotFile struct {
	path   string
	sealer *seal.Sealer
}

// OpenFile returns a store backed by the snapshot at path, loading it if it
// exists. A nil sealer stores plaintext JSON.
func OpenFile(path string, sealer *seal.Sealer) (*MemoryLedgerStore, error) {
	snap := &snapshotFile{path: path, sealer: sealer}
	st, err := snap.load()
	if err != nil {
		return nil, err
	}
	return &MemoryLedgerStore{state: st, snapshot: snap}, nil
}

func (s *snapshotFile) load() (*state, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return newState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}
	if s.sealer != nil {
		raw, err = s.sealer.Open(raw)
		if err != nil {
			return nil, fmt.Errorf("decrypt snapshot %s: %w", s.path, err)
		}
	}
	st := newState()
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	st.normalize()
	return st, nil
}

func (s *snapshotFile) save(st *state) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if s.sealer != nil {
		data, err = s.sealer.Seal(data)
		if err != nil {
			return fmt.Errorf("encrypt snapshot: %w", err)
		}
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, s.path)
}
