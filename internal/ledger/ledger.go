package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ActionKind names the side effect recorded by an entry.
type ActionKind string

const (
	ActionAdded             ActionKind = "added"
	ActionRemoved           ActionKind = "removed"
	ActionNotifiedSubmitted ActionKind = "notifiedSubmitted"
	ActionNotifiedAccepted  ActionKind = "notifiedAccepted"
	ActionNotifiedInvite    ActionKind = "notifiedInvite"
)

var kinds = []ActionKind{
	ActionAdded,
	ActionRemoved,
	ActionNotifiedSubmitted,
	ActionNotifiedAccepted,
	ActionNotifiedInvite,
}

// ErrUnknownKind is returned for action kinds outside Kinds().
var ErrUnknownKind = errors.New("unknown action kind")

// Kinds returns every action kind in declaration order.
func Kinds() []ActionKind {
	out := make([]ActionKind, len(kinds))
	copy(out, kinds)
	return out
}

// ParseKind validates a raw action-kind name.
func ParseKind(raw string) (ActionKind, error) {
	for _, k := range kinds {
		if string(k) == raw {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

func validate(kind ActionKind, identity string) error {
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}
	if identity == "" {
		return errors.New("empty identity")
	}
	return nil
}

// Ledger is the idempotency ledger consumed by the engine.
type Ledger interface {
	// Has reports whether the pair was already recorded.
	Has(ctx context.Context, kind ActionKind, identity string) (bool, error)

	// Mark records the pair. Marking an existing pair is a no-op.
	Mark(ctx context.Context, kind ActionKind, identity string) error

	// Snapshot returns every entry, grouped by kind in insertion order.
	Snapshot(ctx context.Context) (Snapshot, error)

	Close() error
}

// Snapshot is the persisted mapping format: kind name to ordered identities.
type Snapshot map[ActionKind][]string

// Len returns the total number of entries.
func (s Snapshot) Len() int {
	n := 0
	for _, ids := range s {
		n += len(ids)
	}
	return n
}

// ReadSnapshot decodes a snapshot and rejects unknown kinds.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	var raw map[string][]string
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode ledger snapshot: %w", err)
	}
	snap := make(Snapshot, len(raw))
	for name, ids := range raw {
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		snap[k] = ids
	}
	return snap, nil
}

// WriteSnapshot encodes a snapshot as indented JSON.
// Every kind is present, empty kinds as [] rather than null.
func WriteSnapshot(w io.Writer, snap Snapshot) error {
	out := make(map[ActionKind][]string, len(kinds))
	for _, k := range kinds {
		ids := snap[k]
		if ids == nil {
			ids = []string{}
		}
		out[k] = ids
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Import marks every entry of snap in l and returns how many were new.
func Import(ctx context.Context, l Ledger, snap Snapshot) (int, error) {
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, string(k))
	}
	sort.Strings(names)

	added := 0
	for _, name := range names {
		kind := ActionKind(name)
		for _, id := range snap[kind] {
			had, err := l.Has(ctx, kind, id)
			if err != nil {
				return added, err
			}
			if had {
				continue
			}
			if err := l.Mark(ctx, kind, id); err != nil {
				return added, fmt.Errorf("import %s/%s: %w", kind, id, err)
			}
			added++
		}
	}
	return added, nil
}

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Open opens the ledger for backend inside dataDir, creating the directory.
func Open(backend, dataDir string) (Ledger, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	switch backend {
	case BackendJSON:
		return OpenFile(filepath.Join(dataDir, "ledger.json"))
	case BackendSQLite, "":
		return OpenSQLite(filepath.Join(dataDir, "ledger.db"))
	case BackendPebble:
		return OpenPebble(filepath.Join(dataDir, "ledger.pebble"))
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}

var (
	_ Ledger = (*FileLedger)(nil)
	_ Ledger = (*SQLiteLedger)(nil)
	_ Ledger = (*PebbleLedger)(nil)
)
