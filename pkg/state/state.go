// Package state persists per-stream sync checkpoints between invocations.
//
// A checkpoint is the single high-water mark of a stream, stored as the
// document {"updatedAt": "<mark>"}. The engine never persists state itself;
// the runner loads checkpoints before extraction starts and saves them after
// each stream completes, so a crashed or cancelled run resumes from the last
// committed page instead of restarting from scratch.
//
// Two backends exist: a file store (default, one JSON document written
// atomically) and a Postgres store (one row per stream, for deployments
// where runs happen on changing hosts).
package state

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/ajitpratap0/hubble/pkg/errors"
	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
)

// StreamState is the durable checkpoint of one stream.
type StreamState struct {
	// UpdatedAt is the highest updatedAt value observed across all
	// committed pages, ISO-8601
	UpdatedAt string `json:"updatedAt"`
}

// Store loads and saves stream checkpoints. Implementations are safe for
// concurrent use by multiple streams of one run; cross-process coordination
// is out of scope.
type Store interface {
	// Load returns the checkpoint of a stream and whether one exists.
	// Absence is not an error: it means first sync.
	Load(ctx context.Context, stream string) (StreamState, bool, error)

	// Save durably records the checkpoint of a stream.
	Save(ctx context.Context, stream string, st StreamState) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// FileStore keeps all checkpoints in one JSON document on disk. Writes go
// through a temp file and rename, so a crash mid-write leaves the previous
// document intact.
type FileStore struct {
	path string

	mu     sync.Mutex
	states map[string]StreamState
	loaded bool
}

// NewFileStore creates a file-backed store at path. The file and its parent
// directory are created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:   path,
		states: make(map[string]StreamState),
	}
}

// Load implements Store.
func (fs *FileStore) Load(_ context.Context, stream string) (StreamState, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.loadLocked(); err != nil {
		return StreamState{}, false, err
	}

	st, ok := fs.states[stream]
	return st, ok, nil
}

// Save implements Store.
func (fs *FileStore) Save(_ context.Context, stream string, st StreamState) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.loadLocked(); err != nil {
		return err
	}

	fs.states[stream] = st
	return fs.flushLocked()
}

// Close implements Store. The file store holds no open handles.
func (fs *FileStore) Close(context.Context) error {
	return nil
}

func (fs *FileStore) loadLocked() error {
	if fs.loaded {
		return nil
	}

	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		fs.loaded = true
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to read state file").
			WithDetail("path", fs.path)
	}

	if len(data) > 0 {
		if err := jsonpool.Unmarshal(data, &fs.states); err != nil {
			return errors.Wrap(err, errors.ErrorTypeState, "state file is corrupt").
				WithDetail("path", fs.path)
		}
	}
	fs.loaded = true
	return nil
}

func (fs *FileStore) flushLocked() error {
	data, err := jsonpool.MarshalIndent(fs.states, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to encode state")
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to create state directory").
			WithDetail("path", dir)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to create temp state file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrorTypeState, "failed to close temp state file")
	}

	if err := os.Rename(tmpPath, fs.path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrorTypeState, "failed to replace state file").
			WithDetail("path", fs.path)
	}
	return nil
}
