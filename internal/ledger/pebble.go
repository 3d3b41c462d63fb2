package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Key layout:
//
//	e/<kind>/<identity> -> big-endian uint64 seq
//	m/seq               -> big-endian uint64 last seq
const (
	entryPrefix = "e/"
	seqKey      = "m/seq"
)

// PebbleLedger stores one key per entry in an embedded Pebble database.
type PebbleLedger struct {
	mu  sync.Mutex // serializes seq allocation
	db  *pebble.DB
	seq uint64
}

// OpenPebble opens or creates the Pebble database in dir.
func OpenPebble(dir string) (*PebbleLedger, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble ledger: %w", err)
	}
	l := &PebbleLedger{db: db}

	val, closer, err := db.Get([]byte(seqKey))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("read ledger seq: %w", err)
	default:
		if len(val) == 8 {
			l.seq = binary.BigEndian.Uint64(val)
		}
		closer.Close()
	}
	return l, nil
}

func entryKey(kind ActionKind, identity string) []byte {
	return []byte(entryPrefix + string(kind) + "/" + identity)
}

func encodeSeq(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func (l *PebbleLedger) Has(_ context.Context, kind ActionKind, identity string) (bool, error) {
	if err := validate(kind, identity); err != nil {
		return false, err
	}
	_, closer, err := l.db.Get(entryKey(kind, identity))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check ledger entry: %w", err)
	}
	closer.Close()
	return true, nil
}

// Mark writes the entry and the advanced seq in one synced batch.
func (l *PebbleLedger) Mark(ctx context.Context, kind ActionKind, identity string) error {
	if err := validate(kind, identity); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	had, err := l.Has(ctx, kind, identity)
	if err != nil {
		return err
	}
	if had {
		return nil
	}

	next := l.seq + 1
	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(entryKey(kind, identity), encodeSeq(next), nil); err != nil {
		return fmt.Errorf("write ledger entry: %w", err)
	}
	if err := b.Set([]byte(seqKey), encodeSeq(next), nil); err != nil {
		return fmt.Errorf("write ledger seq: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit ledger entry: %w", err)
	}
	l.seq = next
	return nil
}

func (l *PebbleLedger) Snapshot(_ context.Context) (Snapshot, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(entryPrefix),
		UpperBound: []byte("e0"), // '0' follows '/'
	})
	if err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	defer iter.Close()

	type entry struct {
		kind     ActionKind
		identity string
		seq      uint64
	}
	var entries []entry
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key()[len(entryPrefix):])
		kind, identity, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		val := iter.Value()
		if len(val) != 8 {
			continue
		}
		entries = append(entries, entry{kind: ActionKind(kind), identity: identity, seq: binary.BigEndian.Uint64(val)})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	snap := make(Snapshot)
	for _, e := range entries {
		snap[e.kind] = append(snap[e.kind], e.identity)
	}
	return snap, nil
}

func (l *PebbleLedger) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
