// Package fusefrontend binds the filesystem facade to the kernel through
// go-fuse. Nodes keep no per-open state: every operation derives the full
// path from its position in the tree and runs one facade call.
package fusefrontend

import (
	"context"
	"syscall"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/jcxfs/jcxfs/internal/kvfs"
)

// freeBlocks is reported in statfs. The backing store is an append-only
// log whose physical consumption is not page-proportional, so a large
// constant keeps the mount usable.
const freeBlocks = 1_000_000_000

// nameMax is advertised in statfs. The core does not limit name length.
const nameMax = 255

// Args carries mount configuration into the node tree.
type Args struct {
	// ReadOnly rejects every mutating operation with EROFS.
	ReadOnly bool
}

// RootNode is the root of the filesystem tree.
type RootNode struct {
	Node
	fs   *kvfs.FS
	args Args
}

// NewRootNode builds the tree root around an open facade.
func NewRootNode(fsys *kvfs.FS, args Args) *RootNode {
	return &RootNode{fs: fsys, args: args}
}

var _ gofs.NodeStatfser = (*Node)(nil)

// Statfs reports page-granular usage of the data table. Implemented on
// Node because the kernel may direct statfs at any inode.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	info, err := n.rootNode().fs.ReadStatfsInfo()
	if err != nil {
		return errnoFromErr(err)
	}
	out.Bsize = uint32(info.PageSize)
	out.Frsize = uint32(info.PageSize)
	out.Blocks = info.PagesUsed
	out.Bfree = freeBlocks
	out.Bavail = freeBlocks
	out.NameLen = nameMax
	return 0
}
