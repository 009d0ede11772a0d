// Package kv is an embedded transactional key-value store whose on-disk
// representation is an append-only log, encrypted end-to-end with a stream
// cipher.
//
// Tables ("stores") come in unique-key and duplicate-key flavors and are
// held as in-memory B-trees rebuilt from the log at open. Every committed
// transaction appends its mutations followed by a commit marker; a torn
// tail (crash mid-append) is discarded at the next open. An exclusive lock
// file guarantees single-process access.
package kv

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

// StoreMode selects unique-key or duplicate-key semantics for a store.
type StoreMode uint8

const (
	// ModeUnique - one value per key, put replaces.
	ModeUnique StoreMode = iota
	// ModeDup - multiple values per key, ordered by value bytes.
	ModeDup
)

// ErrClosed is returned for operations on a closed environment.
var ErrClosed = fmt.Errorf("kv: environment is closed")

// ErrReadOnly is returned for write transactions on a read-only environment.
var ErrReadOnly = fmt.Errorf("kv: environment is read-only")

const btreeDegree = 32

// Options configures Open.
type Options struct {
	// Dir is the database directory. Must exist.
	Dir string
	// CipherID selects the stream cipher ("CHACHA20").
	CipherID string
	// Key is the 32-byte data encryption key.
	Key []byte
	// IV is the 64-bit basic IV from the env sidecar.
	IV uint64
	// ReadOnly opens without write support and disables compaction.
	ReadOnly bool
	// SegmentMaxBytes rolls the active log segment beyond this payload
	// size. Zero selects the default (8 MiB).
	SegmentMaxBytes uint64
}

// Env is an open database environment.
type Env struct {
	dir      string
	readonly bool

	// mu serializes writers against each other and against readers.
	// Readers take the read side, so every transaction sees a settled
	// state of all trees.
	mu sync.RWMutex

	log *logFile

	stores     map[string]*Store
	storesByID map[uint8]*Store
	nextID     uint8

	lock *lockFile

	openCursors atomic.Int64
	closed      atomic.Bool
}

// Store is one logical table inside an Env.
type Store struct {
	env  *Env
	name string
	id   uint8
	mode StoreMode
	tree *btree.BTreeG[item]
}

// item is one key/value pair inside a store tree.
type item struct {
	key []byte
	val []byte
}

// Txn is a transaction handle. It is only valid inside the View or Update
// closure that produced it.
type Txn struct {
	env   *Env
	write bool
	undo  []func()
	// pending holds the encoded log records of this transaction, appended
	// to the log on commit.
	pending []byte
}

// Open opens (or, on an empty directory, creates) the environment.
func Open(opts Options) (*Env, error) {
	cipher, err := newStreamCipher(opts.CipherID, opts.Key, opts.IV)
	if err != nil {
		return nil, err
	}
	lock, err := acquireLock(filepath.Join(opts.Dir, lockFileName))
	if err != nil {
		return nil, err
	}
	segMax := opts.SegmentMaxBytes
	if segMax == 0 {
		segMax = defaultSegmentMaxBytes
	}
	env := &Env{
		dir:        opts.Dir,
		readonly:   opts.ReadOnly,
		stores:     make(map[string]*Store),
		storesByID: make(map[uint8]*Store),
		nextID:     1,
		lock:       lock,
	}
	log, err := openLog(opts.Dir, cipher, segMax, opts.ReadOnly)
	if err != nil {
		lock.release()
		return nil, err
	}
	env.log = log
	if err := env.replay(); err != nil {
		log.close()
		lock.release()
		return nil, fmt.Errorf("kv: log replay failed: %w", err)
	}
	return env, nil
}

// OpenStore returns the named store, creating it (and recording its
// identity in the log) if it does not exist yet. An existing store must be
// reopened with its original mode.
func (e *Env) OpenStore(name string, mode StoreMode) (*Store, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if st, ok := e.stores[name]; ok {
		if st.mode != mode {
			return nil, fmt.Errorf("kv: store %q exists with different mode", name)
		}
		return st, nil
	}
	if e.readonly {
		return nil, fmt.Errorf("kv: store %q does not exist", name)
	}
	if e.nextID == 0 {
		return nil, fmt.Errorf("kv: store id space exhausted")
	}
	st := e.defineStore(name, e.nextID, mode)
	e.nextID++
	rec := encodeRecord(opDefStore, st.id, []byte(name), []byte{byte(mode)})
	if err := e.log.commit(rec); err != nil {
		return nil, err
	}
	return st, nil
}

// defineStore registers a store in memory. Caller holds mu.
func (e *Env) defineStore(name string, id uint8, mode StoreMode) *Store {
	st := &Store{
		env:  e,
		name: name,
		id:   id,
		mode: mode,
		tree: btree.NewG(btreeDegree, lessFunc(mode)),
	}
	e.stores[name] = st
	e.storesByID[id] = st
	if id >= e.nextID {
		e.nextID = id + 1
	}
	return st
}

// View runs fn in a read transaction.
func (e *Env) View(fn func(txn *Txn) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	txn := &Txn{env: e}
	return fn(txn)
}

// Update runs fn in a write transaction. If fn returns an error, every
// mutation it made is rolled back and nothing reaches the log. Otherwise
// the mutations are appended, followed by a commit marker, and synced.
func (e *Env) Update(fn func(txn *Txn) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.readonly {
		return ErrReadOnly
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	txn := &Txn{env: e, write: true}
	err := fn(txn)
	if err == nil && len(txn.pending) > 0 {
		err = e.log.commit(txn.pending)
	}
	if err != nil {
		txn.rollback()
		return err
	}
	return nil
}

func (t *Txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.pending = nil
}

// OpenCursors returns the number of scans currently in flight.
func (e *Env) OpenCursors() int64 {
	return e.openCursors.Load()
}

// Utilization returns the percentage of on-disk log payload that is live
// data. 100 means perfectly compact.
func (e *Env) Utilization() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	disk := e.log.diskPayload
	if disk == 0 {
		return 100
	}
	live := uint64(0)
	for _, st := range e.storesByID {
		st.tree.Ascend(func(it item) bool {
			live += recordLen(it.key, it.val)
			return true
		})
	}
	if live > disk {
		return 100
	}
	return int(live * 100 / disk)
}

// Compact rewrites the live set into a fresh log segment and deletes the
// old segments. Returns ErrReadOnly on a read-only environment.
func (e *Env) Compact() error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.readonly {
		return ErrReadOnly
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var batch []byte
	for id := uint8(1); id != 0; id++ {
		st, ok := e.storesByID[id]
		if !ok {
			continue
		}
		batch = append(batch, encodeRecord(opDefStore, st.id, []byte(st.name), []byte{byte(st.mode)})...)
		st.tree.Ascend(func(it item) bool {
			batch = append(batch, encodeRecord(opPut, st.id, it.key, it.val)...)
			return true
		})
	}
	return e.log.rewrite(batch)
}

// Close releases the log and the lock file. In-flight transactions must
// have drained; the caller (the filesystem layer) is responsible for that.
func (e *Env) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.log.close()
	e.lock.release()
	return err
}

// Dir returns the database directory.
func (e *Env) Dir() string {
	return e.dir
}

// replay rebuilds the in-memory trees from the log.
func (e *Env) replay() error {
	return e.log.replay(func(op uint8, storeID uint8, key, val []byte) error {
		switch op {
		case opDefStore:
			if len(val) != 1 {
				return fmt.Errorf("malformed store definition")
			}
			if _, ok := e.storesByID[storeID]; !ok {
				e.defineStore(string(key), storeID, StoreMode(val[0]))
			}
			return nil
		case opPut:
			st, ok := e.storesByID[storeID]
			if !ok {
				return fmt.Errorf("put for unknown store id %d", storeID)
			}
			st.applyPut(cloneBytes(key), cloneBytes(val))
			return nil
		case opDel:
			st, ok := e.storesByID[storeID]
			if !ok {
				return fmt.Errorf("delete for unknown store id %d", storeID)
			}
			if st.mode == ModeDup {
				st.applyDeleteExact(key, val)
			} else {
				st.applyDelete(key)
			}
			return nil
		default:
			return fmt.Errorf("unknown log record op %d", op)
		}
	})
}

func lessFunc(mode StoreMode) btree.LessFunc[item] {
	if mode == ModeDup {
		return func(a, b item) bool {
			if c := bytes.Compare(a.key, b.key); c != 0 {
				return c < 0
			}
			return bytes.Compare(a.val, b.val) < 0
		}
	}
	return func(a, b item) bool {
		return bytes.Compare(a.key, b.key) < 0
	}
}

// cloneBytes defensively copies key and value bytes entering the trees.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
