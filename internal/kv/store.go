package kv

import (
	"bytes"
	"fmt"
)

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Mode returns the store's key mode.
func (s *Store) Mode() StoreMode {
	return s.mode
}

// Get returns the value stored under key, or nil if absent. On a
// duplicate-key store it returns the first duplicate in value order.
func (s *Store) Get(txn *Txn, key []byte) []byte {
	if s.mode == ModeUnique {
		it, ok := s.tree.Get(item{key: key})
		if !ok {
			return nil
		}
		return it.val
	}
	var out []byte
	s.ascendKey(key, func(it item) bool {
		out = it.val
		return false
	})
	return out
}

// Has reports whether any value is stored under key.
func (s *Store) Has(txn *Txn, key []byte) bool {
	if s.mode == ModeUnique {
		return s.tree.Has(item{key: key})
	}
	found := false
	s.ascendKey(key, func(item) bool {
		found = true
		return false
	})
	return found
}

// Put stores key/value. On a unique store an existing value is replaced;
// on a duplicate store an identical key/value pair is a no-op.
func (s *Store) Put(txn *Txn, key, val []byte) error {
	if err := s.writable(txn); err != nil {
		return err
	}
	key = cloneBytes(key)
	val = cloneBytes(val)
	prev, existed := s.applyPut(key, val)
	switch {
	case s.mode == ModeDup && existed:
		// exact pair already present, nothing logged
		return nil
	case existed:
		txn.undo = append(txn.undo, func() { s.applyPut(prev.key, prev.val) })
	default:
		if s.mode == ModeDup {
			txn.undo = append(txn.undo, func() { s.applyDeleteExact(key, val) })
		} else {
			txn.undo = append(txn.undo, func() { s.applyDelete(key) })
		}
	}
	txn.pending = append(txn.pending, encodeRecord(opPut, s.id, key, val)...)
	return nil
}

// Delete removes the value stored under key on a unique store. Returns
// false if the key was absent.
func (s *Store) Delete(txn *Txn, key []byte) (bool, error) {
	if err := s.writable(txn); err != nil {
		return false, err
	}
	if s.mode != ModeUnique {
		return false, fmt.Errorf("kv: Delete on duplicate-key store %q, use DeleteExact", s.name)
	}
	prev, existed := s.applyDelete(key)
	if !existed {
		return false, nil
	}
	txn.undo = append(txn.undo, func() { s.applyPut(prev.key, prev.val) })
	txn.pending = append(txn.pending, encodeRecord(opDel, s.id, key, nil)...)
	return true, nil
}

// DeleteExact removes one exact key/value pair from a duplicate-key store
// (cursor search-both + delete-current semantics). Returns false if the
// pair was absent.
func (s *Store) DeleteExact(txn *Txn, key, val []byte) (bool, error) {
	if err := s.writable(txn); err != nil {
		return false, err
	}
	if s.mode != ModeDup {
		return false, fmt.Errorf("kv: DeleteExact on unique-key store %q, use Delete", s.name)
	}
	prev, existed := s.applyDeleteExact(key, val)
	if !existed {
		return false, nil
	}
	txn.undo = append(txn.undo, func() { s.applyPut(prev.key, prev.val) })
	txn.pending = append(txn.pending, encodeRecord(opDel, s.id, key, val)...)
	return true, nil
}

// Count returns the number of key/value pairs in the store.
func (s *Store) Count(txn *Txn) uint64 {
	return uint64(s.tree.Len())
}

// Scan visits every key/value pair in key order (then value order for
// duplicate stores). Return false from fn to stop early.
func (s *Store) Scan(txn *Txn, fn func(key, val []byte) bool) {
	s.env.openCursors.Add(1)
	defer s.env.openCursors.Add(-1)
	s.tree.Ascend(func(it item) bool {
		return fn(it.key, it.val)
	})
}

// ScanDup visits every value stored under key, in storage order. Return
// false from fn to stop early.
func (s *Store) ScanDup(txn *Txn, key []byte, fn func(val []byte) bool) {
	s.env.openCursors.Add(1)
	defer s.env.openCursors.Add(-1)
	s.ascendKey(key, func(it item) bool {
		return fn(it.val)
	})
}

// ascendKey walks all items whose key equals key. Exact matches are
// contiguous at the seek position, so the walk stops at the first
// non-matching key.
func (s *Store) ascendKey(key []byte, fn func(item) bool) {
	s.tree.AscendGreaterOrEqual(item{key: key}, func(it item) bool {
		if !bytes.Equal(it.key, key) {
			return false
		}
		return fn(it)
	})
}

// writable validates that the transaction permits mutation of this store.
func (s *Store) writable(txn *Txn) error {
	if txn == nil || !txn.write {
		return fmt.Errorf("kv: write to store %q outside a write transaction", s.name)
	}
	if txn.env != s.env {
		return fmt.Errorf("kv: transaction belongs to a different environment")
	}
	return nil
}

// applyPut inserts without logging. Returns the replaced item, if any.
func (s *Store) applyPut(key, val []byte) (item, bool) {
	if s.mode == ModeDup {
		if s.tree.Has(item{key: key, val: val}) {
			return item{}, true
		}
		s.tree.ReplaceOrInsert(item{key: key, val: val})
		return item{}, false
	}
	return s.tree.ReplaceOrInsert(item{key: key, val: val})
}

// applyDelete removes a unique-store key without logging.
func (s *Store) applyDelete(key []byte) (item, bool) {
	return s.tree.Delete(item{key: key})
}

// applyDeleteExact removes one dup-store pair without logging.
func (s *Store) applyDeleteExact(key, val []byte) (item, bool) {
	return s.tree.Delete(item{key: key, val: val})
}
