package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

// FileStore keeps credentials in a flat text file, one "id timestamp" line
// per record. Appends and reads hold a shared lock on a sidecar lock file,
// compaction holds it exclusively, so the service and a separately
// scheduled reaper process can share one store.
type FileStore struct {
	path     string
	lockPath string
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create store dir: %w", ErrStorage, err)
		}
	}
	return &FileStore{path: path, lockPath: path + ".lock"}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Append(_ context.Context, c Credential) error {
	unlock, err := s.lock(false)
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrStorage, s.path, err)
	}
	// One write per record keeps concurrent appends from interleaving.
	if _, err := f.WriteString(formatRecord(c)); err != nil {
		f.Close()
		return fmt.Errorf("%w: append: %w", ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrStorage, err)
	}
	return nil
}

func (s *FileStore) Find(_ context.Context, id string) (Credential, bool, error) {
	unlock, err := s.lock(false)
	if err != nil {
		return Credential{}, false, err
	}
	defer unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("%w: open %s: %w", ErrStorage, s.path, err)
	}
	defer f.Close()

	var (
		found Credential
		ok    bool
	)
	_, err = scanLines(f, func(line string) bool {
		gotID, ts, well := splitRecord(line)
		if !well || gotID != id {
			return true
		}
		found = Credential{ID: gotID}
		if t, err := parseTimestamp(ts); err == nil {
			found.IssuedAt = t
		}
		ok = true
		return false
	})
	if err != nil {
		return Credential{}, false, fmt.Errorf("%w: read %s: %w", ErrStorage, s.path, err)
	}
	return found, ok, nil
}

func (s *FileStore) Compact(_ context.Context, keep func(Credential) bool) (int, error) {
	unlock, err := s.lock(true)
	if err != nil {
		return 0, err
	}
	defer unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %w", ErrStorage, s.path, err)
	}

	var (
		out     strings.Builder
		dropped int
	)
	skipped, err := scanLines(bytes.NewReader(raw), func(line string) bool {
		c, ok := parseRecord(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				dropped++
			}
			return true
		}
		if !keep(c) {
			dropped++
			return true
		}
		out.WriteString(strings.TrimSpace(line) + "\n")
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %w", ErrStorage, s.path, err)
	}
	dropped += skipped
	if dropped == 0 {
		return 0, nil
	}

	if err := atomic.WriteFile(s.path, strings.NewReader(out.String())); err != nil {
		return 0, fmt.Errorf("%w: replace %s: %w", ErrStorage, s.path, err)
	}
	return dropped, nil
}

func (s *FileStore) lock(exclusive bool) (func(), error) {
	fl := flock.New(s.lockPath)
	var err error
	if exclusive {
		err = fl.Lock()
	} else {
		err = fl.RLock()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s: %w", ErrStorage, s.lockPath, err)
	}
	return func() { _ = fl.Unlock() }, nil
}
