package kvfs

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// RootInode is the reserved inode id of "/".
const RootInode int64 = 1

// POSIX file type masks carried in the high bits of InodeEntry.Mode.
const (
	ModeMaskType uint32 = 0xF000
	ModeTypeDir  uint32 = 0x4000
	ModeTypeReg  uint32 = 0x8000
	ModeTypeLink uint32 = 0xA000
)

// Initial permission bits for freshly created entries when the caller
// supplies none.
const (
	initialDirMode  = 0755
	initialFileMode = 0444
	initialLinkMode = 0444
)

// InodeEntry describes one filesystem object: type and permissions,
// timestamps (seconds precision), owner, and the target path for
// symlinks. Serialized as JSON with short field names so the format can
// grow without breaking old databases.
type InodeEntry struct {
	Mode  uint32 `json:"m"`
	Atime int64  `json:"at"`
	Ctime int64  `json:"ct"`
	Btime int64  `json:"bt"`
	Mtime int64  `json:"mt"`
	UID   int32  `json:"u"`
	GID   int32  `json:"g"`
	// TargetPath is set for symlinks only.
	TargetPath string `json:"p,omitempty"`
}

// NewDirectoryEntry returns a directory inode with the given permission
// bits ORed into the directory type mask.
func NewDirectoryEntry(mode uint32) InodeEntry {
	return newEntry(ModeTypeDir | mode)
}

// NewFileEntry returns a regular-file inode.
func NewFileEntry(mode uint32) InodeEntry {
	return newEntry(ModeTypeReg | mode)
}

// NewLinkEntry returns a symlink inode pointing at target.
func NewLinkEntry(target string) InodeEntry {
	e := newEntry(ModeTypeLink | initialLinkMode)
	e.TargetPath = target
	return e
}

// DefaultDirectoryEntry is the root inode written on first open.
func DefaultDirectoryEntry() InodeEntry {
	return NewDirectoryEntry(initialDirMode)
}

func newEntry(mode uint32) InodeEntry {
	now := time.Now().Unix()
	return InodeEntry{
		Mode:  mode,
		Atime: now,
		Ctime: now,
		Btime: now,
		Mtime: now,
	}
}

// IsDirectory reports directory type.
func (e InodeEntry) IsDirectory() bool {
	return e.Mode&ModeMaskType == ModeTypeDir
}

// IsFile reports regular-file type.
func (e InodeEntry) IsFile() bool {
	return e.Mode&ModeMaskType == ModeTypeReg
}

// IsLink reports symlink type.
func (e InodeEntry) IsLink() bool {
	return e.Mode&ModeMaskType == ModeTypeLink
}

func (e InodeEntry) validType() bool {
	switch e.Mode & ModeMaskType {
	case ModeTypeDir, ModeTypeReg, ModeTypeLink:
		return true
	}
	return false
}

// WithMtimeNow returns a copy with a refreshed modification time.
func (e InodeEntry) WithMtimeNow() InodeEntry {
	e.Mtime = time.Now().Unix()
	return e
}

// WithMode returns a copy with new permission bits; the type bits are
// preserved.
func (e InodeEntry) WithMode(mode uint32) InodeEntry {
	e.Mode = (e.Mode & ModeMaskType) | (mode &^ ModeMaskType)
	return e
}

// WithUidGid returns a copy with a new owner.
func (e InodeEntry) WithUidGid(uid, gid int32) InodeEntry {
	e.UID = uid
	e.GID = gid
	return e
}

// WithAtimeMtime returns a copy with new access and modification times.
func (e InodeEntry) WithAtimeMtime(atime, mtime int64) InodeEntry {
	e.Atime = atime
	e.Mtime = mtime
	return e
}

func decodeInodeEntry(data []byte) (InodeEntry, error) {
	var e InodeEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return InodeEntry{}, fmt.Errorf("error decoding stored inode entry: %w", err)
	}
	if !e.validType() {
		return InodeEntry{}, fmt.Errorf("unknown file type in mask %o", e.Mode)
	}
	return e, nil
}

func (e InodeEntry) encode() ([]byte, error) {
	if !e.validType() {
		return nil, fmt.Errorf("unknown file type in mask %o", e.Mode)
	}
	return json.Marshal(e)
}

// inodeKey serializes an inode id in compressed signed-varint form for key
// compactness.
func inodeKey(id int64) []byte {
	return binary.AppendVarint(nil, id)
}

func inodeKeyToID(key []byte) (int64, error) {
	id, n := binary.Varint(key)
	if n <= 0 || n != len(key) {
		return 0, fmt.Errorf("malformed inode id key")
	}
	return id, nil
}

// prettyID formats an inode id the way the dump output prints them.
func prettyID(id int64) string {
	return fmt.Sprintf("%016x", uint64(id))
}
