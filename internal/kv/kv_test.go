package kv

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

func testOpen(t *testing.T, dir string) *Env {
	t.Helper()
	env, err := Open(Options{
		Dir:      dir,
		CipherID: CipherChaCha20,
		Key:      testKey,
		IV:       0x1122334455667788,
	})
	require.NoError(t, err)
	return env
}

func TestPutGetDelete(t *testing.T) {
	env := testOpen(t, t.TempDir())
	defer env.Close()

	st, err := env.OpenStore("T", ModeUnique)
	require.NoError(t, err)

	require.NoError(t, env.Update(func(txn *Txn) error {
		return st.Put(txn, []byte("k"), []byte("v1"))
	}))
	require.NoError(t, env.Update(func(txn *Txn) error {
		return st.Put(txn, []byte("k"), []byte("v2"))
	}))

	env.View(func(txn *Txn) error {
		require.Equal(t, []byte("v2"), st.Get(txn, []byte("k")))
		require.Nil(t, st.Get(txn, []byte("missing")))
		require.EqualValues(t, 1, st.Count(txn))
		return nil
	})

	require.NoError(t, env.Update(func(txn *Txn) error {
		removed, err := st.Delete(txn, []byte("k"))
		require.True(t, removed)
		return err
	}))
	env.View(func(txn *Txn) error {
		require.Nil(t, st.Get(txn, []byte("k")))
		return nil
	})
}

func TestDupStoreScanOrder(t *testing.T) {
	env := testOpen(t, t.TempDir())
	defer env.Close()

	st, err := env.OpenStore("D", ModeDup)
	require.NoError(t, err)

	key := []byte("parent")
	require.NoError(t, env.Update(func(txn *Txn) error {
		for _, v := range []string{"b", "a", "c"} {
			if err := st.Put(txn, key, []byte(v)); err != nil {
				return err
			}
		}
		return st.Put(txn, []byte("other"), []byte("z"))
	}))

	env.View(func(txn *Txn) error {
		var got []string
		st.ScanDup(txn, key, func(val []byte) bool {
			got = append(got, string(val))
			return true
		})
		require.Equal(t, []string{"a", "b", "c"}, got, "duplicates are ordered by value bytes")
		require.EqualValues(t, 4, st.Count(txn))
		return nil
	})

	require.NoError(t, env.Update(func(txn *Txn) error {
		removed, err := st.DeleteExact(txn, key, []byte("b"))
		require.True(t, removed)
		return err
	}))
	env.View(func(txn *Txn) error {
		var got []string
		st.ScanDup(txn, key, func(val []byte) bool {
			got = append(got, string(val))
			return true
		})
		require.Equal(t, []string{"a", "c"}, got)
		return nil
	})
}

func TestRollbackOnError(t *testing.T) {
	env := testOpen(t, t.TempDir())
	defer env.Close()

	st, err := env.OpenStore("T", ModeUnique)
	require.NoError(t, err)

	require.NoError(t, env.Update(func(txn *Txn) error {
		return st.Put(txn, []byte("keep"), []byte("old"))
	}))

	boom := fmt.Errorf("boom")
	err = env.Update(func(txn *Txn) error {
		if err := st.Put(txn, []byte("keep"), []byte("new")); err != nil {
			return err
		}
		if err := st.Put(txn, []byte("extra"), []byte("x")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	env.View(func(txn *Txn) error {
		require.Equal(t, []byte("old"), st.Get(txn, []byte("keep")), "aborted put must roll back")
		require.Nil(t, st.Get(txn, []byte("extra")), "aborted insert must roll back")
		return nil
	})
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()

	env := testOpen(t, dir)
	st, err := env.OpenStore("T", ModeUnique)
	require.NoError(t, err)
	dup, err := env.OpenStore("D", ModeDup)
	require.NoError(t, err)
	require.NoError(t, env.Update(func(txn *Txn) error {
		if err := st.Put(txn, []byte("k"), []byte("v")); err != nil {
			return err
		}
		if err := dup.Put(txn, []byte("p"), []byte("a")); err != nil {
			return err
		}
		return dup.Put(txn, []byte("p"), []byte("b"))
	}))
	require.NoError(t, env.Close())

	env2 := testOpen(t, dir)
	defer env2.Close()
	st2, err := env2.OpenStore("T", ModeUnique)
	require.NoError(t, err)
	dup2, err := env2.OpenStore("D", ModeDup)
	require.NoError(t, err)
	env2.View(func(txn *Txn) error {
		require.Equal(t, []byte("v"), st2.Get(txn, []byte("k")))
		require.EqualValues(t, 2, dup2.Count(txn))
		return nil
	})
}

func TestWrongKeyFailsReplay(t *testing.T) {
	dir := t.TempDir()

	env := testOpen(t, dir)
	st, err := env.OpenStore("T", ModeUnique)
	require.NoError(t, err)
	require.NoError(t, env.Update(func(txn *Txn) error {
		return st.Put(txn, []byte("k"), []byte("v"))
	}))
	require.NoError(t, env.Close())

	_, err = Open(Options{
		Dir:      dir,
		CipherID: CipherChaCha20,
		Key:      bytes.Repeat([]byte{0x43}, 32),
		IV:       0x1122334455667788,
	})
	require.Error(t, err, "a wrong key must not replay into a usable environment")
}

func TestLockExclusive(t *testing.T) {
	dir := t.TempDir()
	env := testOpen(t, dir)
	defer env.Close()

	_, err := Open(Options{Dir: dir, CipherID: CipherChaCha20, Key: testKey, IV: 1})
	require.Error(t, err, "second open of a locked database must fail")
}

func TestCompactKeepsData(t *testing.T) {
	dir := t.TempDir()
	env := testOpen(t, dir)

	st, err := env.OpenStore("T", ModeUnique)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		require.NoError(t, env.Update(func(txn *Txn) error {
			return st.Put(txn, key, bytes.Repeat([]byte{byte(i)}, 100))
		}))
	}
	// churn: delete most of it so the log is mostly garbage
	for i := 10; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		require.NoError(t, env.Update(func(txn *Txn) error {
			_, err := st.Delete(txn, key)
			return err
		}))
	}
	require.Less(t, env.Utilization(), 50)
	require.NoError(t, env.Compact())
	require.GreaterOrEqual(t, env.Utilization(), 90)
	require.NoError(t, env.Close())

	env2 := testOpen(t, dir)
	defer env2.Close()
	st2, err := env2.OpenStore("T", ModeUnique)
	require.NoError(t, err)
	env2.View(func(txn *Txn) error {
		require.EqualValues(t, 10, st2.Count(txn))
		require.Equal(t, bytes.Repeat([]byte{5}, 100), st2.Get(txn, []byte("key-005")))
		return nil
	})
}

func TestUpdateOnReadOnlyEnv(t *testing.T) {
	dir := t.TempDir()
	env := testOpen(t, dir)
	st, err := env.OpenStore("T", ModeUnique)
	require.NoError(t, err)
	require.NoError(t, env.Update(func(txn *Txn) error {
		return st.Put(txn, []byte("k"), []byte("v"))
	}))
	require.NoError(t, env.Close())

	ro, err := Open(Options{Dir: dir, CipherID: CipherChaCha20, Key: testKey, IV: 0x1122334455667788, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	require.ErrorIs(t, ro.Update(func(txn *Txn) error { return nil }), ErrReadOnly)
}
