package kvfs

import (
	"fmt"
	"io"

	"github.com/jcxfs/jcxfs/internal/kv"
)

// DumpStats writes table record counts to w.
func (fs *FS) DumpStats(w io.Writer) error {
	return fs.do(false, func(txn *kv.Txn) error {
		fmt.Fprintln(w, "db stats:")
		fmt.Fprintf(w, "  %s records: %d\n", storePath, fs.paths.size(txn))
		fmt.Fprintf(w, "  %s records: %d\n", storeInode, fs.inodes.size(txn))
		fmt.Fprintf(w, "  %s records: %d\n", storeData, fs.data.totalPagesUsed(txn))
		fmt.Fprintf(w, "  %s records: %d\n", storeDataLength, fs.data.lengths.Count(txn))
		fmt.Fprintf(w, "  page size: %d\n", fs.params.PageSize)
		fmt.Fprintf(w, "  log utilization: %d%%\n", fs.env.Utilization())
		return nil
	})
}

// DumpContents writes a human-readable record dump of every table to w.
func (fs *FS) DumpContents(w io.Writer) error {
	return fs.do(false, func(txn *kv.Txn) error {
		fmt.Fprintln(w, "PathStore dump:")
		var scanErr error
		fs.paths.store.Scan(txn, func(key, val []byte) bool {
			parentID, err := inodeKeyToID(key)
			if err != nil {
				scanErr = err
				return false
			}
			record, err := decodePathRecord(val)
			if err != nil {
				scanErr = err
				return false
			}
			fmt.Fprintf(w, "  id=%s child record: id=%s name=%q\n",
				prettyID(parentID), prettyID(record.id), record.name)
			return true
		})
		if scanErr != nil {
			return ioErr("path dump failed", scanErr)
		}

		fmt.Fprintln(w, "InodeStore dump:")
		fs.inodes.store.Scan(txn, func(key, val []byte) bool {
			id, err := inodeKeyToID(key)
			if err != nil {
				scanErr = err
				return false
			}
			entry, err := decodeInodeEntry(val)
			if err != nil {
				scanErr = err
				return false
			}
			fmt.Fprintf(w, "  inode: id=%s type=%s mode=%o uid=%d gid=%d\n",
				prettyID(id), typeName(entry), entry.Mode&^ModeMaskType, entry.UID, entry.GID)
			return true
		})
		if scanErr != nil {
			return ioErr("inode dump failed", scanErr)
		}

		fmt.Fprintln(w, "DataStore dump:")
		fs.data.pages.Scan(txn, func(key, val []byte) bool {
			dk, err := decodeDataKey(key)
			if err != nil {
				scanErr = err
				return false
			}
			fmt.Fprintf(w, "  dataPage: inode=%s page=%d length=%d\n",
				prettyID(dk.fid), dk.page, len(val))
			return true
		})
		if scanErr != nil {
			return ioErr("data dump failed", scanErr)
		}
		return nil
	})
}

func typeName(e InodeEntry) string {
	switch {
	case e.IsDirectory():
		return "DIR"
	case e.IsFile():
		return "FILE"
	case e.IsLink():
		return "LINK"
	}
	return "unknown"
}
