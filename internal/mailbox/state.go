// internal/mailbox/state.go
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	json "github.com/json-iterator/go"
	"github.com/spf13/afero"
)

const (
	stateVersion = 1
	// lockRetry is how often a blocked session polls for the state lock.
	lockRetry = 20 * time.Millisecond
)

// Locker serializes sessions on one state file across processes.
// *flock.Flock satisfies it.
type Locker interface {
	TryLockContext(ctx context.Context, retryDelay time.Duration) (bool, error)
	Unlock() error
}

// FileLock returns an advisory lock on a sibling of the state file.
func FileLock(path string) Locker {
	return flock.New(path + ".lock")
}

type stateFile struct {
	Version   int              `json:"version"`
	Mailboxes map[int][]string `json:"mailboxes"`
}

// Load restores a registry saved by Save. A missing file yields an empty
// registry. Empty mailboxes are restored as existing entries.
func Load(fs afero.Fs, path string) (*Registry, error) {
	r := NewRegistry()
	if err := loadInto(fs, path, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Session runs fn against the state at path. Under lock, the saved state is
// appended to r, fn runs, and r is written back when fn reports a change,
// even if fn also returns an error. Concurrent sessions on the same file run
// one after another, so no update is lost between load and save.
func Session(ctx context.Context, fs afero.Fs, path string, lock Locker, r *Registry, fn func() (changed bool, err error)) (err error) {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("failed to lock mailbox state %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock mailbox state %s: %w", path, ctx.Err())
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to unlock mailbox state %s: %w", path, uerr))
		}
	}()

	if err := loadInto(fs, path, r); err != nil {
		return err
	}
	changed, err := fn()
	if changed {
		if serr := Save(fs, path, r); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}

func loadInto(fs afero.Fs, path string, r *Registry) error {
	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read mailbox state %s: %w", path, err)
	}

	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to decode mailbox state %s: %w", path, err)
	}
	if st.Version != stateVersion {
		return fmt.Errorf("unsupported mailbox state version %d", st.Version)
	}

	pids := make([]int, 0, len(st.Mailboxes))
	for pid := range st.Mailboxes {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	for _, pid := range pids {
		b := r.lookup(pid, true)
		b.mu.Lock()
		b.messages = append(b.messages, st.Mailboxes[pid]...)
		b.mu.Unlock()
	}
	return nil
}

// Save writes a snapshot of r to path, replacing any previous state through
// a rename in the same directory.
func Save(fs afero.Fs, path string, r *Registry) error {
	data, err := json.MarshalIndent(stateFile{Version: stateVersion, Mailboxes: r.Snapshot()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mailbox state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write mailbox state: %w", err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace mailbox state %s: %w", path, err)
	}
	return nil
}
