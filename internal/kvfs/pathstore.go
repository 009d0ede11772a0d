package kvfs

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jcxfs/jcxfs/internal/kv"
	"github.com/jcxfs/jcxfs/internal/tlog"
)

// pathStore maps directory inode ids to their child entries in a
// duplicate-key table. Full paths resolve by walking the tree from the
// root, so equal names under different parents never produce equal store
// keys and per-entry storage stays independent of path depth.
type pathStore struct {
	store *kv.Store
	// cache maps canonical path strings to resolved inode ids. Only
	// positive resolutions are cached.
	cache *lru.Cache[string, int64]
}

func newPathStore(env *kv.Env) (*pathStore, error) {
	store, err := env.OpenStore(storePath, kv.ModeDup)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, int64](cacheMaxItems)
	if err != nil {
		return nil, err
	}
	return &pathStore{store: store, cache: cache}, nil
}

// readEntry resolves path to an inode id, or -1 if any segment is missing.
func (s *pathStore) readEntry(txn *kv.Txn, path PathKey) (int64, error) {
	if cached, ok := s.cache.Get(path.String()); ok {
		return cached, nil
	}
	id, err := s.resolve(txn, path)
	if err != nil {
		return -1, err
	}
	if id > 0 {
		s.cache.Add(path.String(), id)
		tlog.Debug.Printf("created path-cache entry for %q, id=%s", path.String(), prettyID(id))
	}
	return id, nil
}

// resolve walks the directory tree from the root, one segment at a time.
func (s *pathStore) resolve(txn *kv.Txn, path PathKey) (int64, error) {
	if path.IsRoot() {
		return RootInode, nil
	}
	segmentID := RootInode
	for _, segment := range path.Segments() {
		matched, err := s.childByName(txn, segmentID, segment)
		if err != nil {
			return -1, err
		}
		if matched < 0 {
			return -1, nil
		}
		segmentID = matched
	}
	return segmentID, nil
}

// childByName streams the child records of parentID and returns the id of
// the first record named name, or -1.
func (s *pathStore) childByName(txn *kv.Txn, parentID int64, name string) (int64, error) {
	found := int64(-1)
	var decodeErr error
	s.store.ScanDup(txn, inodeKey(parentID), func(val []byte) bool {
		record, err := decodePathRecord(val)
		if err != nil {
			decodeErr = err
			return false
		}
		if record.name == name {
			found = record.id
			return false
		}
		return true
	})
	if decodeErr != nil {
		return -1, ioErr("path record decode failed", decodeErr)
	}
	return found, nil
}

// createEntry attaches a new child record for path under its parent.
// Fails if the path already resolves or the parent is missing.
func (s *pathStore) createEntry(txn *kv.Txn, path PathKey, inodeID int64) error {
	if err := s.validateForWrite(path); err != nil {
		return err
	}
	existing, err := s.readEntry(txn, path)
	if err != nil {
		return err
	}
	if existing > 0 {
		return opErr(ErrFileExists, "path already exists")
	}
	parentID, err := s.readEntry(txn, path.Parent())
	if err != nil {
		return err
	}
	if parentID <= 0 {
		return opErr(ErrNoSuchDir, "parent path does not exist")
	}
	record, err := newPathRecord(inodeID, path.Suffix())
	if err != nil {
		return ioErr("invalid path record", err)
	}
	return s.store.Put(txn, inodeKey(parentID), record.encode())
}

// removeEntry detaches path from its parent. With checkForChildren the
// removal is refused while child records exist; the rename internal path
// suppresses the check because the subtree moves with the inode id.
func (s *pathStore) removeEntry(txn *kv.Txn, path PathKey, checkForChildren bool) error {
	if err := s.validateForWrite(path); err != nil {
		return err
	}
	pathID, err := s.readEntry(txn, path)
	if err != nil {
		return err
	}
	if pathID <= 0 {
		return opErr(ErrNoSuchFile, "path does not exist")
	}
	if checkForChildren {
		hasChildren, err := s.hasChildren(txn, pathID)
		if err != nil {
			return err
		}
		if hasChildren {
			return opErr(ErrDirNotEmpty, "path has descendants")
		}
	}
	parentID, err := s.readEntry(txn, path.Parent())
	if err != nil {
		return err
	}
	record, err := newPathRecord(pathID, path.Suffix())
	if err != nil {
		return ioErr("invalid path record", err)
	}
	s.cache.Remove(path.String())
	removed, err := s.store.DeleteExact(txn, inodeKey(parentID), record.encode())
	if err != nil {
		return err
	}
	if !removed {
		return ioErr("error removing entry, unable to detach from parent entry", nil)
	}
	return nil
}

// readSubPaths returns the child names under the directory at path, in
// storage order.
func (s *pathStore) readSubPaths(txn *kv.Txn, path PathKey) ([]string, error) {
	nodeID, err := s.readEntry(txn, path)
	if err != nil {
		return nil, err
	}
	if nodeID <= 0 {
		return nil, opErr(ErrNoSuchDir, "path does not exist")
	}
	return s.childNames(txn, nodeID)
}

func (s *pathStore) childNames(txn *kv.Txn, nodeID int64) ([]string, error) {
	var names []string
	var decodeErr error
	s.store.ScanDup(txn, inodeKey(nodeID), func(val []byte) bool {
		record, err := decodePathRecord(val)
		if err != nil {
			decodeErr = err
			return false
		}
		names = append(names, record.name)
		return true
	})
	if decodeErr != nil {
		return nil, ioErr("path record decode failed", decodeErr)
	}
	return names, nil
}

func (s *pathStore) hasChildren(txn *kv.Txn, nodeID int64) (bool, error) {
	found := false
	s.store.ScanDup(txn, inodeKey(nodeID), func([]byte) bool {
		found = true
		return false
	})
	return found, nil
}

// rename detaches oldPath from its parent and reattaches the same inode id
// under newPath. If the renamed node has any descendants the whole
// resolution cache is purged, because an unknown number of cached
// descendant paths now resolve through a moved prefix.
func (s *pathStore) rename(txn *kv.Txn, oldPath, newPath PathKey) error {
	if err := s.validateForWrite(oldPath); err != nil {
		return err
	}
	if err := s.validateForWrite(newPath); err != nil {
		return err
	}
	oldPathID, err := s.readEntry(txn, oldPath)
	if err != nil {
		return err
	}
	if oldPathID <= 0 {
		return opErr(ErrNoSuchDir, "oldPath does not exist")
	}
	newPathID, err := s.readEntry(txn, newPath)
	if err != nil {
		return err
	}
	if newPathID > 0 {
		return opErr(ErrFileExists, "newPath already exists")
	}
	newParentID, err := s.readEntry(txn, newPath.Parent())
	if err != nil {
		return err
	}
	if newParentID <= 0 {
		return opErr(ErrNoSuchDir, "parent of new path does not exist")
	}

	invalidatesCache, err := s.hasChildren(txn, oldPathID)
	if err != nil {
		return err
	}

	if err := s.removeEntry(txn, oldPath, false); err != nil {
		return err
	}
	if err := s.createEntry(txn, newPath, oldPathID); err != nil {
		return err
	}

	if invalidatesCache {
		purged := s.cache.Len()
		s.cache.Purge()
		tlog.Debug.Printf("purged %d records from path-cache", purged)
	}
	return nil
}

func (s *pathStore) validateForWrite(path PathKey) error {
	if path.IsRoot() {
		return opErr(ErrFileExists, "can not modify root path")
	}
	return nil
}

func (s *pathStore) size(txn *kv.Txn) uint64 {
	return s.store.Count(txn)
}
