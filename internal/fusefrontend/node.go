package fusefrontend

import (
	"context"
	"syscall"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/jcxfs/jcxfs/internal/kvfs"
	"github.com/jcxfs/jcxfs/internal/tlog"
)

// Node is a file or directory in the mounted tree.
type Node struct {
	gofs.Inode
}

var _ gofs.NodeGetattrer = (*Node)(nil)
var _ gofs.NodeLookuper = (*Node)(nil)
var _ gofs.NodeReaddirer = (*Node)(nil)
var _ gofs.NodeMkdirer = (*Node)(nil)
var _ gofs.NodeRmdirer = (*Node)(nil)
var _ gofs.NodeCreater = (*Node)(nil)
var _ gofs.NodeUnlinker = (*Node)(nil)
var _ gofs.NodeRenamer = (*Node)(nil)
var _ gofs.NodeSymlinker = (*Node)(nil)
var _ gofs.NodeReadlinker = (*Node)(nil)
var _ gofs.NodeOpener = (*Node)(nil)
var _ gofs.NodeReader = (*Node)(nil)
var _ gofs.NodeWriter = (*Node)(nil)
var _ gofs.NodeSetattrer = (*Node)(nil)
var _ gofs.NodeFsyncer = (*Node)(nil)

// rootNode returns the RootNode this node belongs to.
func (n *Node) rootNode() *RootNode {
	return n.Root().Operations().(*RootNode)
}

// path returns the absolute path of this node inside the mount.
func (n *Node) path() string {
	return "/" + n.Path(n.Root())
}

// childPath joins a child name onto this node's path.
func (n *Node) childPath(name string) string {
	p := n.path()
	if p == "/" {
		return "/" + name
	}
	return p + "/" + name
}

// fillAttr populates a fuse attr block from an inode record.
func (n *Node) fillAttr(path string, id int64, entry *kvfs.InodeEntry, out *fuse.Attr) syscall.Errno {
	rn := n.rootNode()
	out.Ino = uint64(id)
	out.Mode = entry.Mode
	out.Atime = uint64(entry.Atime)
	out.Ctime = uint64(entry.Ctime)
	out.Mtime = uint64(entry.Mtime)
	out.Owner = fuse.Owner{Uid: uint32(entry.UID), Gid: uint32(entry.GID)}
	out.Blksize = uint32(rn.fs.PageSize())
	switch {
	case entry.IsDirectory():
		out.Nlink = 2
	case entry.IsFile():
		out.Nlink = 1
		length, err := rn.fs.FileLength(path)
		if err != nil {
			return errnoFromErr(err)
		}
		if length > 0 {
			out.Size = uint64(length)
			pageSize := uint64(rn.fs.PageSize())
			out.Blocks = (out.Size + pageSize - 1) / pageSize
		}
	case entry.IsLink():
		out.Nlink = 1
		out.Size = uint64(len(entry.TargetPath))
	}
	return 0
}

// newChild wraps a resolved entry in an inode for lookup-style replies.
func (n *Node) newChild(ctx context.Context, id int64, entry *kvfs.InodeEntry) *gofs.Inode {
	return n.NewInode(ctx, &Node{}, gofs.StableAttr{
		Mode: entry.Mode & kvfs.ModeMaskType,
		Ino:  uint64(id),
	})
}

func (n *Node) Getattr(ctx context.Context, f gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	path := n.path()
	id, entry, err := n.rootNode().fs.ReadAttrs(path)
	if err != nil {
		return errnoFromErr(err)
	}
	return n.fillAttr(path, id, entry, &out.Attr)
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	path := n.childPath(name)
	id, entry, err := n.rootNode().fs.ReadAttrs(path)
	if err != nil {
		return nil, errnoFromErr(err)
	}
	if errno := n.fillAttr(path, id, entry, &out.Attr); errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, id, entry), 0
}

func (n *Node) Readdir(ctx context.Context) (gofs.DirStream, syscall.Errno) {
	rn := n.rootNode()
	path := n.path()
	names, err := rn.fs.DirectoryListing(path)
	if err != nil {
		return nil, errnoFromErr(err)
	}
	entries := make([]fuse.DirEntry, 0, len(names)+2)
	entries = append(entries,
		fuse.DirEntry{Name: ".", Mode: kvfs.ModeTypeDir},
		fuse.DirEntry{Name: "..", Mode: kvfs.ModeTypeDir},
	)
	for _, name := range names {
		id, entry, err := rn.fs.ReadAttrs(n.childPath(name))
		if err != nil {
			tlog.Warn.Printf("readdir: dangling entry %q: %v", name, err)
			continue
		}
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Mode: entry.Mode & kvfs.ModeMaskType,
			Ino:  uint64(id),
		})
	}
	return gofs.NewListDirStream(entries), 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	rn := n.rootNode()
	if rn.args.ReadOnly {
		return nil, syscall.EROFS
	}
	path := n.childPath(name)
	if err := rn.fs.CreateDirectoryEntry(path, mode); err != nil {
		return nil, errnoFromErr(err)
	}
	return n.lookupCreated(ctx, path, &out.Attr)
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofs.Inode, gofs.FileHandle, uint32, syscall.Errno) {
	rn := n.rootNode()
	if rn.args.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}
	path := n.childPath(name)
	if err := rn.fs.CreateFileEntry(path, mode); err != nil {
		return nil, nil, 0, errnoFromErr(err)
	}
	child, errno := n.lookupCreated(ctx, path, &out.Attr)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	return child, nil, 0, 0
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	rn := n.rootNode()
	if rn.args.ReadOnly {
		return nil, syscall.EROFS
	}
	path := n.childPath(name)
	if err := rn.fs.CreateSymLink(path, target); err != nil {
		return nil, errnoFromErr(err)
	}
	return n.lookupCreated(ctx, path, &out.Attr)
}

// lookupCreated re-resolves a freshly created path for the entry reply.
func (n *Node) lookupCreated(ctx context.Context, path string, out *fuse.Attr) (*gofs.Inode, syscall.Errno) {
	id, entry, err := n.rootNode().fs.ReadAttrs(path)
	if err != nil {
		return nil, errnoFromErr(err)
	}
	if errno := n.fillAttr(path, id, entry, out); errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, id, entry), 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	rn := n.rootNode()
	if rn.args.ReadOnly {
		return syscall.EROFS
	}
	return errnoFromErr(rn.fs.RemoveFileEntry(n.childPath(name)))
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	rn := n.rootNode()
	if rn.args.ReadOnly {
		return syscall.EROFS
	}
	return errnoFromErr(rn.fs.RemoveDirectoryEntry(n.childPath(name)))
}

func (n *Node) Rename(ctx context.Context, name string, newParent gofs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	rn := n.rootNode()
	if rn.args.ReadOnly {
		return syscall.EROFS
	}
	oldPath := n.childPath(name)
	parentPath := "/" + newParent.EmbeddedInode().Path(n.Root())
	newPath := parentPath + "/" + newName
	if parentPath == "/" {
		newPath = "/" + newName
	}
	return errnoFromErr(rn.fs.Rename(oldPath, newPath))
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.rootNode().fs.ReadSymLink(n.path())
	if err != nil {
		return nil, errnoFromErr(err)
	}
	// go-fuse terminates the reply buffer itself, no trailing NUL here
	return []byte(target), 0
}

// Open is a no-op: all state is derived from the path.
func (n *Node) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	if n.rootNode().args.ReadOnly && flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, 0, 0
}

func (n *Node) Read(ctx context.Context, f gofs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	read, err := n.rootNode().fs.Read(n.path(), dest, int64(len(dest)), off)
	if err != nil {
		return nil, errnoFromErr(err)
	}
	return fuse.ReadResultData(dest[:read]), 0
}

func (n *Node) Write(ctx context.Context, f gofs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	rn := n.rootNode()
	if rn.args.ReadOnly {
		return 0, syscall.EROFS
	}
	written, err := rn.fs.WriteFileData(n.path(), data, int64(len(data)), off)
	if err != nil {
		return 0, errnoFromErr(err)
	}
	return uint32(written), 0
}

// Setattr implements truncate, chmod, chown and utimens.
func (n *Node) Setattr(ctx context.Context, f gofs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	rn := n.rootNode()
	if rn.args.ReadOnly {
		return syscall.EROFS
	}
	path := n.path()

	if size, ok := in.GetSize(); ok {
		if err := rn.fs.Truncate(path, int64(size)); err != nil {
			return errnoFromErr(err)
		}
	}

	id, entry, err := rn.fs.ReadAttrs(path)
	if err != nil {
		return errnoFromErr(err)
	}
	updated := *entry
	changed := false

	if mode, ok := in.GetMode(); ok {
		updated = updated.WithMode(mode)
		changed = true
	}
	uid, hasUID := in.GetUID()
	gid, hasGID := in.GetGID()
	if hasUID || hasGID {
		newUID := updated.UID
		newGID := updated.GID
		if hasUID {
			newUID = int32(uid)
		}
		if hasGID {
			newGID = int32(gid)
		}
		updated = updated.WithUidGid(newUID, newGID)
		changed = true
	}
	atime, hasAtime := in.GetATime()
	mtime, hasMtime := in.GetMTime()
	if hasAtime || hasMtime {
		newAtime := updated.Atime
		newMtime := updated.Mtime
		if hasAtime {
			newAtime = atime.Unix()
		}
		if hasMtime {
			newMtime = mtime.Unix()
		}
		updated = updated.WithAtimeMtime(newAtime, newMtime)
		changed = true
	}

	if changed {
		if err := rn.fs.WriteAttrs(path, updated); err != nil {
			return errnoFromErr(err)
		}
		entry = &updated
	}
	return n.fillAttr(path, id, entry, &out.Attr)
}

// Fsync is a no-op: every facade call commits (and syncs) its own store
// transaction before returning.
func (n *Node) Fsync(ctx context.Context, f gofs.FileHandle, flags uint32) syscall.Errno {
	return 0
}
