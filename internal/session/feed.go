// internal/session/feed.go
//
// Session Source backed by a push feed and an on-disk token file.
//
// Context
// -------
// The backend's auth layer pushes (event, session) pairs whenever a user
// signs in, signs out, or refreshes a token.  The HTTP layer hands each
// push to Feed.Publish, which persists the session for the next process
// start and queues the event for the single Bootstrapper consumer.
//
// Notes
// -----
//   - The token file is written 0600 via rename so readers never see a
//     partial file.
//   - Oxford commas, two spaces after periods.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/yanizio/adept-shell/internal/rpc"
)

// FileStore persists the latest session as JSON.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store rooted at path.  The parent directory is
// created on first Save.
func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

// Load reads the persisted session.  A missing file is reported as
// rpc.KindSessionNotFound.
func (f *FileStore) Load() (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, rpc.Errorf(rpc.KindSessionNotFound, "no persisted session")
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, rpc.Errorf(rpc.KindSessionNotFound, "corrupt session file: %v", err)
	}
	return &s, nil
}

// Save writes s atomically.
func (f *FileStore) Save(s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Clear removes the persisted session.  A missing file is not an error.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// DefaultFeedBuffer is the event queue depth.
const DefaultFeedBuffer = 16

// ErrFeedClosed is returned by Publish after Close.
var ErrFeedClosed = errors.New("session feed closed")

// Feed implements Source.
type Feed struct {
	store  *FileStore
	events chan Event

	mu     sync.RWMutex
	closed bool
}

// NewFeed returns a Feed that persists through store.
func NewFeed(store *FileStore, buffer int) *Feed {
	if buffer < 1 {
		buffer = DefaultFeedBuffer
	}
	return &Feed{store: store, events: make(chan Event, buffer)}
}

// Current returns the persisted session.
func (f *Feed) Current(context.Context) (*Session, error) { return f.store.Load() }

// Events returns the consumer side of the stream.
func (f *Feed) Events() <-chan Event { return f.events }

// Publish persists ev and queues it.  It blocks while the queue is full,
// until ctx is done.
func (f *Feed) Publish(ctx context.Context, ev Event) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("unknown session event %q", ev.Kind)
	}
	if ev.Kind == EventSignedOut {
		ev.Session = nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrFeedClosed
	}

	var err error
	if ev.Session == nil {
		err = f.store.Clear()
	} else {
		err = f.store.Save(ev.Session)
	}
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	select {
	case f.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream.  Run returns once in-flight resolutions finish.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
}
