package kvfs

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

const testPassword = "test-password"

func newTestFS(t *testing.T, pageSize int32) *FS {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, Init(InitParams{Dir: dir, Password: testPassword, PageSize: pageSize}))
	fsys, err := Open(Config{Dir: dir, Password: testPassword})
	require.NoError(t, err)
	t.Cleanup(func() { fsys.Close() })
	return fsys
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	out := make([]byte, n)
	rng := rand.New(rand.NewSource(0x1badb002))
	_, err := rng.Read(out)
	require.NoError(t, err)
	return out
}

func TestCreateWriteLength(t *testing.T) {
	fsys := newTestFS(t, 32768)
	data := randomBytes(t, 5555)

	require.NoError(t, fsys.CreateFileEntry("/file1", 0644))
	written, err := fsys.WriteFileData("/file1", data, 5555, 0)
	require.NoError(t, err)
	require.Equal(t, 5555, written)

	length, err := fsys.FileLength("/file1")
	require.NoError(t, err)
	require.EqualValues(t, 5555, length)
}

func TestCreateWriteRead(t *testing.T) {
	fsys := newTestFS(t, 32768)
	data := randomBytes(t, 5555)

	require.NoError(t, fsys.CreateFileEntry("/file1", 0644))
	_, err := fsys.WriteFileData("/file1", data, 5555, 0)
	require.NoError(t, err)

	buf := make([]byte, 5555)
	read, err := fsys.Read("/file1", buf, 5555, 0)
	require.NoError(t, err)
	require.Equal(t, 5555, read)
	require.True(t, bytes.Equal(data, buf), "read back data must be bit-exact")
}

func TestCreateWriteUnlinkRead(t *testing.T) {
	fsys := newTestFS(t, 32768)
	data := randomBytes(t, 5555)

	pagesBefore, err := fsys.TotalPagesUsed()
	require.NoError(t, err)

	require.NoError(t, fsys.CreateFileEntry("/file1", 0644))
	_, err = fsys.WriteFileData("/file1", data, 5555, 0)
	require.NoError(t, err)

	pagesWithFile, err := fsys.TotalPagesUsed()
	require.NoError(t, err)
	require.Greater(t, pagesWithFile, pagesBefore)

	require.NoError(t, fsys.RemoveFileEntry("/file1"))

	buf := make([]byte, 5555)
	_, err = fsys.Read("/file1", buf, 5555, 0)
	require.Error(t, err)
	require.Equal(t, ErrNoSuchFile, KindOf(err))

	pagesAfter, err := fsys.TotalPagesUsed()
	require.NoError(t, err)
	require.Equal(t, pagesBefore, pagesAfter, "unlink must release every page the file occupied")
}

func TestDirectoryListing(t *testing.T) {
	fsys := newTestFS(t, DefaultPageSize)

	for _, dir := range []string{"/1", "/2", "/3", "/1/a", "/1/b", "/1/c", "/1/a/aaa", "/1/a/bbb", "/1/a/ccc"} {
		require.NoError(t, fsys.CreateDirectoryEntry(dir, 0755))
	}

	rootNames, err := fsys.DirectoryListing("/")
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3"}, rootNames)

	subNames, err := fsys.DirectoryListing("/1/a")
	require.NoError(t, err)
	require.Equal(t, []string{"aaa", "bbb", "ccc"}, subNames)
}

func TestZeroTrailingWriteRead(t *testing.T) {
	fsys := newTestFS(t, DefaultPageSize)
	data := []byte{0x10, 0x10, 0x00, 0x00}

	require.NoError(t, fsys.CreateFileEntry("/z", 0644))
	written, err := fsys.WriteFileData("/z", data, 4, 0)
	require.NoError(t, err)
	require.Equal(t, 4, written)

	length, err := fsys.FileLength("/z")
	require.NoError(t, err)
	require.EqualValues(t, 4, length)

	buf := make([]byte, 4)
	read, err := fsys.Read("/z", buf, 4, 0)
	require.NoError(t, err)
	require.Equal(t, 4, read)
	require.Equal(t, data, buf, "elided trailing zeros must be reconstructed")
}

func TestTrailingZeroElisionRoundTrip(t *testing.T) {
	fsys := newTestFS(t, 1024)

	cases := [][]byte{
		bytes.Repeat([]byte{0}, 10),
		append(bytes.Repeat([]byte{0xaa}, 100), bytes.Repeat([]byte{0}, 2000)...),
		append(bytes.Repeat([]byte{0}, 1024), 0x01),
	}
	for i, data := range cases {
		path := "/f" + string(rune('a'+i))
		require.NoError(t, fsys.CreateFileEntry(path, 0644))
		_, err := fsys.WriteFileData(path, data, int64(len(data)), 0)
		require.NoError(t, err)

		length, err := fsys.FileLength(path)
		require.NoError(t, err)
		require.EqualValues(t, len(data), length)

		buf := make([]byte, len(data))
		read, err := fsys.Read(path, buf, int64(len(data)), 0)
		require.NoError(t, err)
		require.Equal(t, len(data), read)
		require.Equal(t, data, buf)
	}
}

func TestHoleReadBack(t *testing.T) {
	fsys := newTestFS(t, 1024)
	data := randomBytes(t, 100)
	offset := int64(3000)

	require.NoError(t, fsys.CreateFileEntry("/holey", 0644))
	_, err := fsys.WriteFileData("/holey", data, 100, offset)
	require.NoError(t, err)

	length, err := fsys.FileLength("/holey")
	require.NoError(t, err)
	require.EqualValues(t, offset+100, length)

	buf := make([]byte, offset)
	read, err := fsys.Read("/holey", buf, offset, 0)
	require.NoError(t, err)
	require.Equal(t, int(offset), read)
	require.Equal(t, make([]byte, offset), buf, "the hole must read as zeros")

	tail := make([]byte, 100)
	read, err = fsys.Read("/holey", tail, 100, offset)
	require.NoError(t, err)
	require.Equal(t, 100, read)
	require.Equal(t, data, tail)
}

func TestTruncateDiscardsPages(t *testing.T) {
	fsys := newTestFS(t, 1024)
	data := randomBytes(t, 5000)

	require.NoError(t, fsys.CreateFileEntry("/big", 0644))
	_, err := fsys.WriteFileData("/big", data, 5000, 0)
	require.NoError(t, err)

	pagesBefore, err := fsys.TotalPagesUsed()
	require.NoError(t, err)

	require.NoError(t, fsys.Truncate("/big", 1024))

	length, err := fsys.FileLength("/big")
	require.NoError(t, err)
	require.EqualValues(t, 1024, length)

	pagesAfter, err := fsys.TotalPagesUsed()
	require.NoError(t, err)
	require.GreaterOrEqual(t, pagesBefore-pagesAfter, uint64(4))

	// the byte just below the new length survives
	buf := make([]byte, 1)
	read, err := fsys.Read("/big", buf, 1, 1023)
	require.NoError(t, err)
	require.Equal(t, 1, read)
	require.Equal(t, data[1023], buf[0])

	// reads beyond the new length clamp to nothing
	read, err = fsys.Read("/big", buf, 1, 1024)
	require.NoError(t, err)
	require.Zero(t, read)
}

func TestTruncateGrowIsNoop(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateFileEntry("/f", 0644))
	_, err := fsys.WriteFileData("/f", []byte("abc"), 3, 0)
	require.NoError(t, err)

	require.NoError(t, fsys.Truncate("/f", 100))
	length, err := fsys.FileLength("/f")
	require.NoError(t, err)
	require.EqualValues(t, 3, length)
}

func TestTruncateThenReadSeesZeros(t *testing.T) {
	fsys := newTestFS(t, 1024)
	data := bytes.Repeat([]byte{0xee}, 3000)
	require.NoError(t, fsys.CreateFileEntry("/f", 0644))
	_, err := fsys.WriteFileData("/f", data, 3000, 0)
	require.NoError(t, err)

	require.NoError(t, fsys.Truncate("/f", 1500))
	// rewrite past the cut: the discarded bytes must not resurface
	_, err = fsys.WriteFileData("/f", []byte{0x01}, 1, 2999)
	require.NoError(t, err)

	buf := make([]byte, 1499)
	read, err := fsys.Read("/f", buf, 1499, 1500)
	require.NoError(t, err)
	require.Equal(t, 1499, read)
	require.Equal(t, make([]byte, 1499), buf, "bytes beyond the truncation point must read as zeros")
}

func TestRenameIdempotence(t *testing.T) {
	fsys := newTestFS(t, 1024)
	data := randomBytes(t, 2500)

	require.NoError(t, fsys.CreateDirectoryEntry("/d", 0755))
	require.NoError(t, fsys.CreateFileEntry("/d/f", 0644))
	_, err := fsys.WriteFileData("/d/f", data, 2500, 0)
	require.NoError(t, err)

	_, before, err := fsys.ReadAttrs("/d/f")
	require.NoError(t, err)

	require.NoError(t, fsys.Rename("/d", "/e"))
	length, err := fsys.FileLength("/d/f")
	require.NoError(t, err)
	require.EqualValues(t, -1, length, "the old path must stop resolving")
	require.NoError(t, fsys.Rename("/e", "/d"))

	_, after, err := fsys.ReadAttrs("/d/f")
	require.NoError(t, err)
	require.Equal(t, before, after, "rename there and back must restore attributes")

	names, err := fsys.DirectoryListing("/d")
	require.NoError(t, err)
	require.Equal(t, []string{"f"}, names)

	buf := make([]byte, 2500)
	read, err := fsys.Read("/d/f", buf, 2500, 0)
	require.NoError(t, err)
	require.Equal(t, 2500, read)
	require.Equal(t, data, buf)
}

func TestRenameKeepsSubtreeReachable(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateDirectoryEntry("/a", 0755))
	require.NoError(t, fsys.CreateDirectoryEntry("/a/b", 0755))
	require.NoError(t, fsys.CreateFileEntry("/a/b/f", 0644))

	// warm the resolution cache with the old paths
	_, _, err := fsys.ReadAttrs("/a/b/f")
	require.NoError(t, err)

	require.NoError(t, fsys.Rename("/a", "/renamed"))

	_, _, err = fsys.ReadAttrs("/renamed/b/f")
	require.NoError(t, err, "descendants must resolve under the new prefix")
	_, _, err = fsys.ReadAttrs("/a/b/f")
	require.Error(t, err, "stale cached paths must not resolve")
	require.Equal(t, ErrNoSuchFile, KindOf(err))
}

func TestRenameRefusesExistingDestination(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateFileEntry("/src", 0644))
	require.NoError(t, fsys.CreateFileEntry("/dst", 0644))

	err := fsys.Rename("/src", "/dst")
	require.Error(t, err)
	require.Equal(t, ErrFileExists, KindOf(err))
}

func TestRenameRefusesMissingDestinationParent(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateFileEntry("/src", 0644))

	err := fsys.Rename("/src", "/nodir/dst")
	require.Error(t, err)
	require.Equal(t, ErrNoSuchDir, KindOf(err))
}

func TestCreateRefusesExistingPath(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateFileEntry("/f", 0644))
	err := fsys.CreateFileEntry("/f", 0644)
	require.Error(t, err)
	require.Equal(t, ErrFileExists, KindOf(err))
}

func TestCreateRefusesMissingParent(t *testing.T) {
	fsys := newTestFS(t, 1024)
	err := fsys.CreateFileEntry("/nodir/f", 0644)
	require.Error(t, err)
	require.Equal(t, ErrNoSuchDir, KindOf(err))
}

func TestCreateRefusesFileParent(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateFileEntry("/f", 0644))
	err := fsys.CreateFileEntry("/f/child", 0644)
	require.Error(t, err)
	require.Equal(t, ErrNotADirectory, KindOf(err))
}

func TestRmdirRefusesNonEmpty(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateDirectoryEntry("/d", 0755))
	require.NoError(t, fsys.CreateFileEntry("/d/f", 0644))

	err := fsys.RemoveDirectoryEntry("/d")
	require.Error(t, err)
	require.Equal(t, ErrDirNotEmpty, KindOf(err))

	require.NoError(t, fsys.RemoveFileEntry("/d/f"))
	require.NoError(t, fsys.RemoveDirectoryEntry("/d"))
}

func TestUnlinkRefusesDirectory(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateDirectoryEntry("/d", 0755))
	err := fsys.RemoveFileEntry("/d")
	require.Error(t, err)
	require.Equal(t, ErrNotAFile, KindOf(err))
}

func TestSymlinkRoundTrip(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateSymLink("/link", "/some/target"))

	target, err := fsys.ReadSymLink("/link")
	require.NoError(t, err)
	require.Equal(t, "/some/target", target)

	_, entry, err := fsys.ReadAttrs("/link")
	require.NoError(t, err)
	require.True(t, entry.IsLink())
	require.EqualValues(t, ModeTypeLink|0444, entry.Mode)

	// unlink removes symlinks too
	require.NoError(t, fsys.RemoveFileEntry("/link"))
	_, err = fsys.ReadSymLink("/link")
	require.Error(t, err)
}

func TestWriteAttrsMissingPathFails(t *testing.T) {
	fsys := newTestFS(t, 1024)
	err := fsys.WriteAttrs("/missing", DefaultDirectoryEntry())
	require.Error(t, err)
	require.Equal(t, ErrNoSuchFile, KindOf(err))
}

func TestAttrsUpdate(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateFileEntry("/f", 0644))

	_, entry, err := fsys.ReadAttrs("/f")
	require.NoError(t, err)
	require.True(t, entry.IsFile())
	require.EqualValues(t, ModeTypeReg|0644, entry.Mode)

	updated := entry.WithMode(0600).WithUidGid(1000, 1000)
	require.NoError(t, fsys.WriteAttrs("/f", updated))

	_, entry2, err := fsys.ReadAttrs("/f")
	require.NoError(t, err)
	require.EqualValues(t, ModeTypeReg|0600, entry2.Mode, "chmod must preserve the type bits")
	require.EqualValues(t, 1000, entry2.UID)
	require.EqualValues(t, 1000, entry2.GID)
}

func TestRootAlwaysResolves(t *testing.T) {
	fsys := newTestFS(t, 1024)
	id, entry, err := fsys.ReadAttrs("/")
	require.NoError(t, err)
	require.Equal(t, RootInode, id)
	require.True(t, entry.IsDirectory())
}

func TestRootMutationRefused(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.Error(t, fsys.RemoveDirectoryEntry("/"))
	require.Error(t, fsys.Rename("/", "/x"))
	require.Error(t, fsys.CreateDirectoryEntry("/", 0755))
}

func TestParentMtimeRefreshedOnChildChange(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateDirectoryEntry("/d", 0755))

	_, before, err := fsys.ReadAttrs("/d")
	require.NoError(t, err)

	// force an observable mtime difference
	older := *before
	older.Mtime -= 10
	require.NoError(t, fsys.WriteAttrs("/d", older))

	require.NoError(t, fsys.CreateFileEntry("/d/f", 0644))
	_, after, err := fsys.ReadAttrs("/d")
	require.NoError(t, err)
	require.Greater(t, after.Mtime, older.Mtime, "adding a child must refresh the parent's mtime")
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(InitParams{Dir: dir, Password: testPassword, PageSize: 4096}))

	data := randomBytes(t, 10000)
	fsys, err := Open(Config{Dir: dir, Password: testPassword})
	require.NoError(t, err)
	require.NoError(t, fsys.CreateDirectoryEntry("/docs", 0755))
	require.NoError(t, fsys.CreateFileEntry("/docs/a.txt", 0644))
	_, err = fsys.WriteFileData("/docs/a.txt", data, int64(len(data)), 0)
	require.NoError(t, err)
	require.NoError(t, fsys.Close())

	fsys2, err := Open(Config{Dir: dir, Password: testPassword})
	require.NoError(t, err)
	defer fsys2.Close()

	buf := make([]byte, len(data))
	read, err := fsys2.Read("/docs/a.txt", buf, int64(len(data)), 0)
	require.NoError(t, err)
	require.Equal(t, len(data), read)
	require.Equal(t, data, buf, "contents must survive close and reopen")
}

func TestIssuedInodeIdsAreInRange(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateFileEntry("/f", 0644))
	id, _, err := fsys.ReadAttrs("/f")
	require.NoError(t, err)
	require.GreaterOrEqual(t, id, idMin)
	require.Less(t, id, idMax)
}

func TestOverflowingReadRejected(t *testing.T) {
	fsys := newTestFS(t, 1024)
	require.NoError(t, fsys.CreateFileEntry("/f", 0644))
	buf := make([]byte, 8)
	_, err := fsys.Read("/f", buf, 8, int64(^uint64(0)>>1)-4)
	require.Error(t, err)
	require.Equal(t, ErrIO, KindOf(err))
}
