package trigger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	pendingPrefix = "trigger_"
	pendingSuffix = ".json"
)

// FileQueue stores triggers as marker files in a directory, so any process
// able to write the directory can wake the dispatcher. A trigger's file name
// is derived from its (kind, session) pair, which makes re-enqueueing before
// a claim an overwrite rather than a duplicate. Claiming renames the marker
// to a claimer-unique name first; the rename succeeds for exactly one
// claimer, which is what makes claims exactly-once.
type FileQueue struct {
	dir     string
	watcher *fsnotify.Watcher
	wake    chan struct{}
	done    chan struct{}
}

// NewFileQueue creates the directory if needed and starts the filesystem
// watcher that feeds Wake.
func NewFileQueue(dir string) (*FileQueue, error) {
	if dir == "" {
		return nil, errors.New("trigger directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trigger directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch trigger directory: %w", err)
	}
	q := &FileQueue{
		dir:     dir,
		watcher: watcher,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.forward()
	return q, nil
}

// forward collapses watcher events into at-most-one pending wake.
func (q *FileQueue) forward() {
	for {
		select {
		case <-q.done:
			return
		case event, ok := <-q.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasPrefix(filepath.Base(event.Name), pendingPrefix) {
				continue
			}
			select {
			case q.wake <- struct{}{}:
			default:
			}
		case _, ok := <-q.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (q *FileQueue) pendingPath(t Trigger) string {
	return filepath.Join(q.dir, fmt.Sprintf("%s%s_%s%s", pendingPrefix, t.Kind, t.SessionID, pendingSuffix))
}

// Enqueue writes the trigger marker atomically via a temp file and rename.
// Renaming over an existing marker for the same (kind, session) coalesces
// the two triggers.
func (q *FileQueue) Enqueue(ctx context.Context, t Trigger) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if t.SessionID == "" {
		return errors.New("trigger session id required")
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("invalid trigger kind %q", t.Kind)
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	tmp := filepath.Join(q.dir, ".tmp_"+randomSuffix())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write trigger: %w", err)
	}
	if err := os.Rename(tmp, q.pendingPath(t)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish trigger: %w", err)
	}
	return nil
}

// Claim takes the oldest pending trigger. The rename-to-claimed step is the
// atomicity point: when two claimers race, one rename fails with ENOENT and
// that claimer moves on to the next marker.
func (q *FileQueue) Claim(ctx context.Context) (Trigger, bool, error) {
	select {
	case <-ctx.Done():
		return Trigger{}, false, ctx.Err()
	default:
	}
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return Trigger{}, false, fmt.Errorf("scan trigger directory: %w", err)
	}
	type candidate struct {
		name string
		mod  time.Time
	}
	var pending []candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, pendingPrefix) || !strings.HasSuffix(name, pendingSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		pending = append(pending, candidate{name: name, mod: info.ModTime()})
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].mod.Before(pending[j].mod) })

	for _, c := range pending {
		claimed := filepath.Join(q.dir, ".claimed_"+randomSuffix())
		if err := os.Rename(filepath.Join(q.dir, c.name), claimed); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // lost the race for this marker
			}
			return Trigger{}, false, fmt.Errorf("claim trigger: %w", err)
		}
		data, err := os.ReadFile(claimed)
		os.Remove(claimed)
		if err != nil {
			return Trigger{}, false, fmt.Errorf("read claimed trigger: %w", err)
		}
		var t Trigger
		if err := json.Unmarshal(data, &t); err != nil {
			return Trigger{}, false, fmt.Errorf("decode trigger %s: %w", c.name, err)
		}
		return t, true, nil
	}
	return Trigger{}, false, nil
}

// Wake returns the advisory wake channel fed by filesystem events.
func (q *FileQueue) Wake() <-chan struct{} {
	return q.wake
}

// Close stops the watcher.
func (q *FileQueue) Close() error {
	close(q.done)
	return q.watcher.Close()
}

func randomSuffix() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}
