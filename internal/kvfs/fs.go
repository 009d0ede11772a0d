package kvfs

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jcxfs/jcxfs/internal/kv"
	"github.com/jcxfs/jcxfs/internal/tlog"
)

// FS is the filesystem translation layer. Every public operation runs as
// one store transaction: it either commits completely or leaves the
// database unchanged.
type FS struct {
	env    *kv.Env
	paths  *pathStore
	inodes *inodeStore
	data   *dataStore
	params Params

	// gate serializes all operations when single-threaded dispatch was
	// requested at mount time.
	gate *semaphore.Weighted

	activeOps atomic.Int64
	closed    atomic.Bool
}

// StatfsInfo is the raw material for a statfs reply.
type StatfsInfo struct {
	PageSize  int32
	PagesUsed uint64
}

// do wraps one facade call: close check, operation accounting, optional
// serialization, then the store transaction.
func (fs *FS) do(write bool, fn func(txn *kv.Txn) error) error {
	if fs.closed.Load() {
		return ioErr("filesystem is closed", nil)
	}
	fs.activeOps.Add(1)
	defer fs.activeOps.Add(-1)
	if fs.gate != nil {
		if err := fs.gate.Acquire(context.Background(), 1); err != nil {
			return ioErr("operation gate", err)
		}
		defer fs.gate.Release(1)
	}
	if write {
		return fs.env.Update(fn)
	}
	return fs.env.View(fn)
}

// PageSize returns the database-wide page size.
func (fs *FS) PageSize() int32 {
	return fs.params.PageSize
}

// FileLength returns the logical length of the file at path, or -1 if the
// path does not resolve.
func (fs *FS) FileLength(path string) (int64, error) {
	pathKey, err := NewPathKey(path)
	if err != nil {
		return -1, opErr(ErrNoSuchFile, err.Error())
	}
	length := int64(-1)
	err = fs.do(false, func(txn *kv.Txn) error {
		nodeID, err := fs.paths.readEntry(txn, pathKey)
		if err != nil {
			return err
		}
		if nodeID > 0 {
			length = fs.data.length(txn, nodeID)
		}
		return nil
	})
	return length, err
}

// ReadAttrs returns the inode record at path together with its id.
func (fs *FS) ReadAttrs(path string) (int64, *InodeEntry, error) {
	pathKey, err := NewPathKey(path)
	if err != nil {
		return 0, nil, opErr(ErrNoSuchFile, err.Error())
	}
	var entry *InodeEntry
	var nodeID int64
	err = fs.do(false, func(txn *kv.Txn) error {
		id, err := fs.paths.readEntry(txn, pathKey)
		if err != nil {
			return err
		}
		if id <= 0 {
			return opErr(ErrNoSuchFile, "path does not exist")
		}
		nodeID = id
		entry, err = fs.inodes.readEntry(txn, id)
		if err != nil {
			return err
		}
		if entry == nil {
			return ioErr("missing inode entry for resolvable path", nil)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return nodeID, entry, nil
}

// WriteAttrs replaces the inode record at path. A missing path is an
// error.
func (fs *FS) WriteAttrs(path string, entry InodeEntry) error {
	pathKey, err := NewPathKey(path)
	if err != nil {
		return opErr(ErrNoSuchFile, err.Error())
	}
	return fs.do(true, func(txn *kv.Txn) error {
		nodeID, err := fs.paths.readEntry(txn, pathKey)
		if err != nil {
			return err
		}
		if nodeID <= 0 {
			return opErr(ErrNoSuchFile, "path does not exist")
		}
		return fs.inodes.updateEntry(txn, nodeID, entry)
	})
}

// DirectoryListing returns the child names of the directory at path, in
// storage order.
func (fs *FS) DirectoryListing(path string) ([]string, error) {
	pathKey, err := NewPathKey(path)
	if err != nil {
		return nil, opErr(ErrNoSuchDir, err.Error())
	}
	var names []string
	err = fs.do(false, func(txn *kv.Txn) error {
		names, err = fs.paths.readSubPaths(txn, pathKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// CreateFileEntry creates a regular file at path.
func (fs *FS) CreateFileEntry(path string, mode uint32) error {
	return fs.createEntryImpl(path, NewFileEntry(mode))
}

// CreateDirectoryEntry creates a directory at path.
func (fs *FS) CreateDirectoryEntry(path string, mode uint32) error {
	return fs.createEntryImpl(path, NewDirectoryEntry(mode))
}

// CreateSymLink creates a symlink at linkPath whose target is target.
func (fs *FS) CreateSymLink(linkPath string, target string) error {
	return fs.createEntryImpl(linkPath, NewLinkEntry(target))
}

// createEntryImpl allocates a fresh inode id, writes the path record and
// the inode record, and refreshes the parent's mtime, all in one
// transaction.
func (fs *FS) createEntryImpl(path string, newEntry InodeEntry) error {
	pathKey, err := NewPathKey(path)
	if err != nil {
		return opErr(ErrNoSuchFile, err.Error())
	}
	if pathKey.IsRoot() {
		return opErr(ErrFileExists, "can not create root path")
	}
	return fs.do(true, func(txn *kv.Txn) error {
		parentID, err := fs.paths.readEntry(txn, pathKey.Parent())
		if err != nil {
			return err
		}
		if parentID <= 0 {
			return opErr(ErrNoSuchDir, "parent path does not exist")
		}
		parentEntry, err := fs.inodes.readEntry(txn, parentID)
		if err != nil {
			return err
		}
		if parentEntry == nil {
			return ioErr("missing inode entry for parent path", nil)
		}
		if !parentEntry.IsDirectory() {
			return opErr(ErrNotADirectory, "parent path is not a directory")
		}
		newID, err := fs.inodes.issuer.nextID(txn)
		if err != nil {
			return err
		}
		if err := fs.paths.createEntry(txn, pathKey, newID); err != nil {
			return err
		}
		if err := fs.inodes.createEntry(txn, newID, newEntry); err != nil {
			return err
		}
		return fs.inodes.updateEntry(txn, parentID, parentEntry.WithMtimeNow())
	})
}

// RemoveFileEntry unlinks the file or symlink at path and deletes its data
// pages.
func (fs *FS) RemoveFileEntry(path string) error {
	pathKey, err := NewPathKey(path)
	if err != nil {
		return opErr(ErrNoSuchFile, err.Error())
	}
	if pathKey.IsRoot() {
		return opErr(ErrNotAFile, "can not unlink root path")
	}
	return fs.do(true, func(txn *kv.Txn) error {
		nodeID, err := fs.paths.readEntry(txn, pathKey)
		if err != nil {
			return err
		}
		if nodeID <= 0 {
			return opErr(ErrNoSuchFile, "file does not exist")
		}
		parentID, err := fs.paths.readEntry(txn, pathKey.Parent())
		if err != nil {
			return err
		}
		if parentID <= 0 {
			return opErr(ErrNoSuchDir, "parent directory does not exist")
		}
		entry, err := fs.inodes.readEntry(txn, nodeID)
		if err != nil {
			return err
		}
		if entry == nil {
			return opErr(ErrNoSuchFile, "no such file")
		}
		if !entry.IsFile() && !entry.IsLink() {
			return opErr(ErrNotAFile, "path is not a file")
		}
		if err := fs.inodes.removeEntry(txn, nodeID); err != nil {
			return err
		}
		if err := fs.paths.removeEntry(txn, pathKey, true); err != nil {
			return err
		}
		if err := fs.updateMtime(txn, parentID); err != nil {
			return err
		}
		return fs.data.deleteEntry(txn, nodeID)
	})
}

// RemoveDirectoryEntry removes the empty directory at path.
func (fs *FS) RemoveDirectoryEntry(path string) error {
	pathKey, err := NewPathKey(path)
	if err != nil {
		return opErr(ErrNoSuchDir, err.Error())
	}
	if pathKey.IsRoot() {
		return opErr(ErrFileExists, "can not remove root path")
	}
	return fs.do(true, func(txn *kv.Txn) error {
		parentID, err := fs.paths.readEntry(txn, pathKey.Parent())
		if err != nil {
			return err
		}
		if parentID <= 0 {
			return opErr(ErrNoSuchDir, "parent directory does not exist")
		}
		parentEntry, err := fs.inodes.readEntry(txn, parentID)
		if err != nil {
			return err
		}
		if parentEntry == nil {
			return ioErr("missing inode entry for parent path", nil)
		}
		if !parentEntry.IsDirectory() {
			return opErr(ErrNotADirectory, "parent path is not a directory")
		}
		nodeID, err := fs.paths.readEntry(txn, pathKey)
		if err != nil {
			return err
		}
		if nodeID <= 0 {
			return opErr(ErrNoSuchDir, "directory does not exist")
		}
		entry, err := fs.inodes.readEntry(txn, nodeID)
		if err != nil {
			return err
		}
		if entry == nil {
			return ioErr("missing inode entry for resolvable path", nil)
		}
		if !entry.IsDirectory() {
			return opErr(ErrNotADirectory, "path is not a directory")
		}
		hasChildren, err := fs.paths.hasChildren(txn, nodeID)
		if err != nil {
			return err
		}
		if hasChildren {
			return opErr(ErrDirNotEmpty, "directory not empty")
		}
		if err := fs.paths.removeEntry(txn, pathKey, true); err != nil {
			return err
		}
		if err := fs.inodes.removeEntry(txn, nodeID); err != nil {
			return err
		}
		return fs.updateMtime(txn, parentID)
	})
}

// Read copies up to count bytes at offset from the regular file at path
// into buf.
func (fs *FS) Read(path string, buf []byte, count, offset int64) (int, error) {
	pathKey, err := NewPathKey(path)
	if err != nil {
		return 0, opErr(ErrNoSuchFile, err.Error())
	}
	read := 0
	err = fs.do(false, func(txn *kv.Txn) error {
		nodeID, err := fs.requireFile(txn, pathKey)
		if err != nil {
			return err
		}
		read, err = fs.data.readData(txn, nodeID, buf, count, offset)
		return err
	})
	return read, err
}

// WriteFileData writes count bytes at offset into the regular file at
// path and refreshes its mtime.
func (fs *FS) WriteFileData(path string, buf []byte, count, offset int64) (int, error) {
	pathKey, err := NewPathKey(path)
	if err != nil {
		return 0, opErr(ErrNoSuchFile, err.Error())
	}
	written := 0
	err = fs.do(true, func(txn *kv.Txn) error {
		nodeID, err := fs.requireFile(txn, pathKey)
		if err != nil {
			return err
		}
		written, err = fs.data.writeData(txn, nodeID, buf, count, offset)
		if err != nil {
			return err
		}
		return fs.updateMtime(txn, nodeID)
	})
	return written, err
}

// Truncate shrinks the file at path to size. Sizes at or beyond the
// current length are a successful no-op.
func (fs *FS) Truncate(path string, size int64) error {
	pathKey, err := NewPathKey(path)
	if err != nil {
		return opErr(ErrNoSuchFile, err.Error())
	}
	return fs.do(true, func(txn *kv.Txn) error {
		nodeID, err := fs.requireFile(txn, pathKey)
		if err != nil {
			return err
		}
		return fs.data.truncate(txn, nodeID, size)
	})
}

// Rename moves the entry at oldPath to newPath, keeping its inode id and
// therefore all data and metadata.
func (fs *FS) Rename(oldPath, newPath string) error {
	oldKey, err := NewPathKey(oldPath)
	if err != nil {
		return opErr(ErrNoSuchFile, err.Error())
	}
	newKey, err := NewPathKey(newPath)
	if err != nil {
		return opErr(ErrNoSuchFile, err.Error())
	}
	return fs.do(true, func(txn *kv.Txn) error {
		return fs.paths.rename(txn, oldKey, newKey)
	})
}

// ReadSymLink returns the target of the symlink at path.
func (fs *FS) ReadSymLink(path string) (string, error) {
	pathKey, err := NewPathKey(path)
	if err != nil {
		return "", opErr(ErrNoSuchFile, err.Error())
	}
	target := ""
	err = fs.do(false, func(txn *kv.Txn) error {
		nodeID, err := fs.paths.readEntry(txn, pathKey)
		if err != nil {
			return err
		}
		if nodeID <= 0 {
			return opErr(ErrNoSuchFile, "file does not exist")
		}
		entry, err := fs.inodes.readEntry(txn, nodeID)
		if err != nil {
			return err
		}
		if entry == nil {
			return ioErr("missing inode entry for resolvable path", nil)
		}
		if !entry.IsLink() {
			return ioErr("not a symlink", nil)
		}
		target = entry.TargetPath
		return nil
	})
	return target, err
}

// ReadStatfsInfo reports the page size and page count for statfs.
func (fs *FS) ReadStatfsInfo() (StatfsInfo, error) {
	info := StatfsInfo{PageSize: fs.params.PageSize}
	err := fs.do(false, func(txn *kv.Txn) error {
		info.PagesUsed = fs.data.totalPagesUsed(txn)
		return nil
	})
	return info, err
}

// TotalPagesUsed returns the cardinality of the page table.
func (fs *FS) TotalPagesUsed() (uint64, error) {
	info, err := fs.ReadStatfsInfo()
	return info.PagesUsed, err
}

// Sizes returns the record counts of the main tables.
func (fs *FS) Sizes() (map[string]uint64, error) {
	out := make(map[string]uint64)
	err := fs.do(false, func(txn *kv.Txn) error {
		out["Paths"] = fs.paths.size(txn)
		out["Inodes"] = fs.inodes.size(txn)
		out["Pages"] = fs.data.totalPagesUsed(txn)
		return nil
	})
	return out, err
}

// updateMtime refreshes the mtime of nodeID.
func (fs *FS) updateMtime(txn *kv.Txn, nodeID int64) error {
	entry, err := fs.inodes.readEntry(txn, nodeID)
	if err != nil {
		return err
	}
	if entry == nil {
		return ioErr("missing inode entry for path", nil)
	}
	return fs.inodes.updateEntry(txn, nodeID, entry.WithMtimeNow())
}

// requireFile resolves pathKey and verifies it is a regular file.
func (fs *FS) requireFile(txn *kv.Txn, pathKey PathKey) (int64, error) {
	nodeID, err := fs.paths.readEntry(txn, pathKey)
	if err != nil {
		return 0, err
	}
	if nodeID <= 0 {
		return 0, opErr(ErrNoSuchFile, "file does not exist")
	}
	entry, err := fs.inodes.readEntry(txn, nodeID)
	if err != nil {
		return 0, err
	}
	if entry == nil {
		return 0, opErr(ErrNoSuchFile, "no such file")
	}
	if !entry.IsFile() {
		return 0, opErr(ErrNotAFile, "path is not a file")
	}
	return nodeID, nil
}

// Env exposes the underlying store environment (compaction, stats).
func (fs *FS) Env() *kv.Env {
	return fs.env
}

// Close rejects new operations, waits for in-flight operations and open
// iterators to drain, then closes the store.
func (fs *FS) Close() error {
	if !fs.closed.CompareAndSwap(false, true) {
		return nil
	}
	for fs.activeOps.Load() > 0 || fs.env.OpenCursors() > 0 {
		tlog.Debug.Printf("close waiting for %d active operations and %d open iterators",
			fs.activeOps.Load(), fs.env.OpenCursors())
		time.Sleep(10 * time.Millisecond)
	}
	return fs.env.Close()
}
