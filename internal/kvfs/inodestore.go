package kvfs

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jcxfs/jcxfs/internal/kv"
	"github.com/jcxfs/jcxfs/internal/tlog"
)

// cacheMaxItems bounds the inode and path resolution caches.
const cacheMaxItems = 1000

// inodeStore maps inode ids to inode records. Reads go through a bounded
// cache; every mutation invalidates the touched id.
type inodeStore struct {
	store  *kv.Store
	issuer *inodeIDIssuer
	// cache holds the read result per id; a nil entry records a known
	// miss so repeated probes of absent ids stay cheap.
	cache *lru.Cache[int64, *InodeEntry]
}

func newInodeStore(env *kv.Env, readonly bool) (*inodeStore, error) {
	store, err := env.OpenStore(storeInode, kv.ModeUnique)
	if err != nil {
		return nil, err
	}
	meta, err := env.OpenStore(storeInodeMeta, kv.ModeUnique)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[int64, *InodeEntry](cacheMaxItems)
	if err != nil {
		return nil, err
	}
	s := &inodeStore{store: store, cache: cache}
	s.issuer, err = newInodeIDIssuer(env, meta, s)
	if err != nil {
		return nil, err
	}
	if !readonly {
		if err := s.createRootEntry(env); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// createRootEntry writes the root directory inode on first open of a
// writable environment.
func (s *inodeStore) createRootEntry(env *kv.Env) error {
	return env.Update(func(txn *kv.Txn) error {
		if s.store.Get(txn, inodeKey(RootInode)) != nil {
			return nil
		}
		root := DefaultDirectoryEntry()
		data, err := root.encode()
		if err != nil {
			return err
		}
		if err := s.store.Put(txn, inodeKey(RootInode), data); err != nil {
			return err
		}
		tlog.Debug.Printf("created root inode")
		return nil
	})
}

// createEntry is an idempotent put of id -> record.
func (s *inodeStore) createEntry(txn *kv.Txn, id int64, e InodeEntry) error {
	return s.updateEntry(txn, id, e)
}

// readEntry returns the record for id, or nil if absent.
func (s *inodeStore) readEntry(txn *kv.Txn, id int64) (*InodeEntry, error) {
	if cached, ok := s.cache.Get(id); ok {
		return cached, nil
	}
	data := s.store.Get(txn, inodeKey(id))
	if data == nil {
		s.cache.Add(id, nil)
		return nil, nil
	}
	e, err := decodeInodeEntry(data)
	if err != nil {
		return nil, ioErr("inode record decode failed", err)
	}
	s.cache.Add(id, &e)
	return &e, nil
}

// updateEntry replaces the full record and invalidates the cache.
func (s *inodeStore) updateEntry(txn *kv.Txn, id int64, e InodeEntry) error {
	data, err := e.encode()
	if err != nil {
		return ioErr("inode record encode failed", err)
	}
	s.cache.Remove(id)
	return s.store.Put(txn, inodeKey(id), data)
}

// removeEntry deletes the record. Fails if id is not present.
func (s *inodeStore) removeEntry(txn *kv.Txn, id int64) error {
	e, err := s.readEntry(txn, id)
	if err != nil {
		return err
	}
	if e == nil {
		return opErr(ErrNoSuchFile, "inode does not exist")
	}
	s.cache.Remove(id)
	_, err = s.store.Delete(txn, inodeKey(id))
	return err
}

// hasID reports whether a record exists for id.
func (s *inodeStore) hasID(txn *kv.Txn, id int64) (bool, error) {
	e, err := s.readEntry(txn, id)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

func (s *inodeStore) size(txn *kv.Txn) uint64 {
	return s.store.Count(txn)
}
