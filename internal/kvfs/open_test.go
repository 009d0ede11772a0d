package kvfs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcxfs/jcxfs/internal/keywrap"
)

func TestOpenWrongPassword(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(InitParams{Dir: dir, Password: "right"}))

	_, err := Open(Config{Dir: dir, Password: "wrong"})
	require.Error(t, err)
	var authErr *keywrap.AuthError
	require.True(t, errors.As(err, &authErr), "wrong password must surface as AuthError, got %v", err)
}

func TestInitRefusesNonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(InitParams{Dir: dir, Password: "pw"}))
	err := Init(InitParams{Dir: dir, Password: "pw"})
	require.Error(t, err, "init must refuse a non-empty directory")
}

func TestInitRejectsBadPageSize(t *testing.T) {
	require.Error(t, Init(InitParams{Dir: t.TempDir(), Password: "pw", PageSize: 32}))
	require.Error(t, Init(InitParams{Dir: t.TempDir(), Password: "pw", PageSize: 2_000_000}))
}

func TestChangePasswordClosure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(InitParams{Dir: dir, Password: "old"}))

	data := randomBytes(t, 1234)
	fsys, err := Open(Config{Dir: dir, Password: "old"})
	require.NoError(t, err)
	require.NoError(t, fsys.CreateFileEntry("/f", 0644))
	_, err = fsys.WriteFileData("/f", data, int64(len(data)), 0)
	require.NoError(t, err)
	require.NoError(t, fsys.Close())

	require.NoError(t, ChangePassword(dir, "old", "new"))

	// the old password no longer opens the database
	_, err = Open(Config{Dir: dir, Password: "old"})
	var authErr *keywrap.AuthError
	require.True(t, errors.As(err, &authErr))

	// the new password does, and prior contents are intact
	fsys2, err := Open(Config{Dir: dir, Password: "new"})
	require.NoError(t, err)
	defer fsys2.Close()
	buf := make([]byte, len(data))
	read, err := fsys2.Read("/f", buf, int64(len(data)), 0)
	require.NoError(t, err)
	require.Equal(t, len(data), read)
	require.Equal(t, data, buf)
}

func TestChangePasswordWrongOldPassword(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(InitParams{Dir: dir, Password: "old"}))

	err := ChangePassword(dir, "not-old", "new")
	var authErr *keywrap.AuthError
	require.True(t, errors.As(err, &authErr))
}

func TestMissingSidecarIsFatal(t *testing.T) {
	_, err := Open(Config{Dir: t.TempDir(), Password: "pw"})
	require.Error(t, err)
}

func TestSecondOpenIsLockedOut(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(InitParams{Dir: dir, Password: "pw"}))

	fsys, err := Open(Config{Dir: dir, Password: "pw"})
	require.NoError(t, err)
	defer fsys.Close()

	_, err = Open(Config{Dir: dir, Password: "pw"})
	require.Error(t, err, "the store lock must reject a second opener")
}
