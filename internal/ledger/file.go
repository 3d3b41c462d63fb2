package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileLedger keeps the whole mapping in memory and rewrites the JSON file on
// every Mark. The mutex guards the mapping against a persisting goroutine
// racing the poll loop.
type FileLedger struct {
	mu      sync.Mutex
	path    string
	entries Snapshot
	index   map[ActionKind]map[string]struct{}
}

// OpenFile loads the ledger at path. A missing file starts empty; an empty
// path never touches disk.
func OpenFile(path string) (*FileLedger, error) {
	l := &FileLedger{
		path:    path,
		entries: make(Snapshot),
		index:   make(map[ActionKind]map[string]struct{}),
	}
	if path == "" {
		return l, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return l, nil
	}

	snap, err := ReadSnapshot(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", path, err)
	}
	for kind, ids := range snap {
		for _, id := range ids {
			l.add(kind, id)
		}
	}
	return l, nil
}

// NewMemory returns a ledger that is never persisted.
func NewMemory() *FileLedger {
	l, _ := OpenFile("")
	return l
}

func (l *FileLedger) add(kind ActionKind, id string) bool {
	set, ok := l.index[kind]
	if !ok {
		set = make(map[string]struct{})
		l.index[kind] = set
	}
	if _, dup := set[id]; dup {
		return false
	}
	set[id] = struct{}{}
	l.entries[kind] = append(l.entries[kind], id)
	return true
}

func (l *FileLedger) remove(kind ActionKind, id string) {
	delete(l.index[kind], id)
	ids := l.entries[kind]
	if n := len(ids); n > 0 && ids[n-1] == id {
		l.entries[kind] = ids[:n-1]
	}
}

func (l *FileLedger) Has(_ context.Context, kind ActionKind, identity string) (bool, error) {
	if err := validate(kind, identity); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[kind][identity]
	return ok, nil
}

// Mark appends the pair and persists the file. If persisting fails the
// in-memory entry is rolled back so memory never claims more than disk.
func (l *FileLedger) Mark(_ context.Context, kind ActionKind, identity string) error {
	if err := validate(kind, identity); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.add(kind, identity) {
		return nil
	}
	if err := l.persistLocked(); err != nil {
		l.remove(kind, identity)
		return err
	}
	return nil
}

func (l *FileLedger) Snapshot(_ context.Context) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(Snapshot, len(l.entries))
	for k, ids := range l.entries {
		out[k] = append([]string(nil), ids...)
	}
	return out, nil
}

func (l *FileLedger) Close() error {
	return nil
}

// persistLocked writes the mapping to a temp file in the same directory,
// syncs it, and renames it over the ledger file.
func (l *FileLedger) persistLocked() error {
	if l.path == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, l.entries); err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("persist ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("persist ledger: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("persist ledger: rename: %w", err)
	}
	return nil
}
