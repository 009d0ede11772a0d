package kvfs

import (
	"encoding/binary"
	"math"

	"github.com/jcxfs/jcxfs/internal/kv"
	"github.com/jcxfs/jcxfs/internal/tlog"
)

// dataStore holds regular file contents as fixed-size pages plus one
// logical-length record per inode. Trailing zero bytes of a page are
// elided on write and reconstructed on read, so sparse tails cost
// nothing on disk.
type dataStore struct {
	pages    *kv.Store
	lengths  *kv.Store
	pageSize int64
}

func newDataStore(env *kv.Env, pageSize int32) (*dataStore, error) {
	pages, err := env.OpenStore(storeData, kv.ModeUnique)
	if err != nil {
		return nil, err
	}
	lengths, err := env.OpenStore(storeDataLength, kv.ModeUnique)
	if err != nil {
		return nil, err
	}
	return &dataStore{pages: pages, lengths: lengths, pageSize: int64(pageSize)}, nil
}

// length returns the logical file length, 0 if no record exists.
func (s *dataStore) length(txn *kv.Txn, fid int64) int64 {
	stored := s.lengths.Get(txn, lengthKey(fid))
	if stored == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(stored))
}

func (s *dataStore) writeLength(txn *kv.Txn, fid int64, length int64) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(length))
	return s.lengths.Put(txn, lengthKey(fid), value)
}

// totalPagesUsed is the cardinality of the page table.
func (s *dataStore) totalPagesUsed(txn *kv.Txn) uint64 {
	return s.pages.Count(txn)
}

// readData copies up to count bytes starting at offset into buf, clamping
// to the logical length and zero-filling holes within the stored extent.
// Returns the number of bytes copied.
func (s *dataStore) readData(txn *kv.Txn, fid int64, buf []byte, count, offset int64) (int, error) {
	if err := checkRange(count, offset); err != nil {
		return 0, err
	}
	if count > int64(len(buf)) {
		count = int64(len(buf))
	}
	storedLength := s.length(txn, fid)
	if offset+count > storedLength {
		count = storedLength - offset
		tlog.Debug.Printf("read requested beyond file length, clamped to %d", count)
	}
	if count <= 0 {
		return 0, nil
	}

	position := offset
	lastPosition := offset + count
	copied := 0
	page := offset / s.pageSize

	for position < lastPosition {
		pageData, err := s.readPage(txn, fid, page)
		if err != nil {
			return copied, err
		}
		remaining := lastPosition - position
		pageReadStart := position % s.pageSize
		pageReadLength := s.pageSize - pageReadStart
		if pageReadLength > remaining {
			pageReadLength = remaining
		}
		pageReadEnd := pageReadStart + pageReadLength

		effectiveEnd := pageReadEnd
		if int64(len(pageData)) < effectiveEnd {
			effectiveEnd = int64(len(pageData))
		}
		copyLength := effectiveEnd - pageReadStart
		if copyLength > 0 {
			copied += copy(buf[copied:], pageData[pageReadStart:effectiveEnd])
			position += copyLength
		}
		// pad the elided zero tail of the page
		padBytes := pageReadLength - max64(copyLength, 0)
		for i := int64(0); i < padBytes; i++ {
			buf[copied] = 0
			copied++
		}
		position += padBytes

		page++
	}
	return copied, nil
}

// writeData writes count bytes from buf at offset, page by page, growing
// the logical length when the write extends past it. Partial pages are
// read-modify-write; trailing zeros of each resulting page are elided.
func (s *dataStore) writeData(txn *kv.Txn, fid int64, buf []byte, count, offset int64) (int, error) {
	if err := checkRange(count, offset); err != nil {
		return 0, err
	}
	if count > int64(len(buf)) {
		count = int64(len(buf))
	}

	position := offset
	page := offset / s.pageSize
	written := int64(0)

	for written < count {
		pageWriteStart := position % s.pageSize
		pageWriteEnd := pageWriteStart + (count - written)
		if pageWriteEnd > s.pageSize {
			pageWriteEnd = s.pageSize
		}
		pageWriteLength := pageWriteEnd - pageWriteStart

		var pageOutput []byte
		if pageWriteStart != 0 || pageWriteEnd != s.pageSize {
			// not writing a full page, so overlay onto the existing one
			existing, err := s.readPage(txn, fid, page)
			if err != nil {
				return int(written), err
			}
			outputLen := pageWriteEnd
			if int64(len(existing)) > outputLen {
				outputLen = int64(len(existing))
			}
			pageOutput = make([]byte, outputLen)
			copy(pageOutput, existing)
		} else {
			pageOutput = make([]byte, pageWriteEnd)
		}
		copy(pageOutput[pageWriteStart:pageWriteEnd], buf[written:written+pageWriteLength])

		if err := s.writePage(txn, fid, page, pageOutput); err != nil {
			return int(written), err
		}
		position += pageWriteLength
		written += pageWriteLength
		page++
	}

	if err := s.updateLengthIfNeeded(txn, fid, offset+count); err != nil {
		return int(written), err
	}
	return int(written), nil
}

func (s *dataStore) updateLengthIfNeeded(txn *kv.Txn, fid int64, newLength int64) error {
	storedLength := s.length(txn, fid)
	if newLength > storedLength {
		tlog.Debug.Printf("setlength inode=%s length=%d old=%d", prettyID(fid), newLength, storedLength)
		return s.writeLength(txn, fid, newLength)
	}
	return nil
}

// truncate shrinks the file to length. Growing is implicit on the next
// write; length >= current length is a no-op.
func (s *dataStore) truncate(txn *kv.Txn, fid int64, length int64) error {
	if length < 0 {
		return ioErr("negative truncate length", nil)
	}
	existingLength := s.length(txn, fid)
	if existingLength <= length {
		return nil
	}

	// firstDeadPage is the lowest page index that holds no byte below
	// length. A page-aligned length makes the boundary page itself dead.
	firstDeadPage := length / s.pageSize
	if endPosition := length % s.pageSize; endPosition > 0 {
		pageData, err := s.readPage(txn, fid, firstDeadPage)
		if err != nil {
			return err
		}
		if int64(len(pageData)) > endPosition {
			if err := s.writePage(txn, fid, firstDeadPage, pageData[:endPosition]); err != nil {
				return err
			}
		}
		firstDeadPage++
	}

	existingTotalPages := existingLength / s.pageSize
	for loopPage := firstDeadPage; loopPage <= existingTotalPages; loopPage++ {
		if err := s.deletePage(txn, fid, loopPage); err != nil {
			return err
		}
	}

	tlog.Debug.Printf("truncated id=%s new length=%d", prettyID(fid), length)
	return s.writeLength(txn, fid, length)
}

// deleteEntry removes every page and the length record for fid.
func (s *dataStore) deleteEntry(txn *kv.Txn, fid int64) error {
	totalLength := s.length(txn, fid)
	totalPages := totalLength / s.pageSize
	for loopPage := int64(0); loopPage <= totalPages; loopPage++ {
		if err := s.deletePage(txn, fid, loopPage); err != nil {
			return err
		}
	}
	if _, err := s.lengths.Delete(txn, lengthKey(fid)); err != nil {
		return err
	}
	tlog.Debug.Printf("removed %d pages for fid %s", totalPages+1, prettyID(fid))
	return nil
}

// readPage returns the stored bytes of one page, possibly shorter than the
// page size because of trailing-zero elision. A missing page reads as
// empty.
func (s *dataStore) readPage(txn *kv.Txn, fid int64, page int64) ([]byte, error) {
	key, err := s.pageKey(fid, page)
	if err != nil {
		return nil, err
	}
	return s.pages.Get(txn, key), nil
}

// writePage stores one page with its trailing zero bytes elided.
func (s *dataStore) writePage(txn *kv.Txn, fid int64, page int64, data []byte) error {
	key, err := s.pageKey(fid, page)
	if err != nil {
		return err
	}
	return s.pages.Put(txn, key, data[:len(data)-suffixZeroCount(data)])
}

func (s *dataStore) deletePage(txn *kv.Txn, fid int64, page int64) error {
	key, err := s.pageKey(fid, page)
	if err != nil {
		return err
	}
	_, err = s.pages.Delete(txn, key)
	return err
}

func (s *dataStore) pageKey(fid int64, page int64) ([]byte, error) {
	if page > math.MaxInt32 {
		return nil, ioErr("page index exceeds 32-bit range", nil)
	}
	key, err := encodeDataKey(fid, int32(page))
	if err != nil {
		return nil, ioErr("invalid data key", err)
	}
	return key, nil
}

// checkRange rejects negative and overflowing read/write ranges.
func checkRange(count, offset int64) error {
	if count < 0 || offset < 0 {
		return ioErr("negative count or offset", nil)
	}
	if offset > math.MaxInt64-count {
		return ioErr("offset + count overflows", nil)
	}
	return nil
}

// suffixZeroCount counts the trailing zero bytes of data.
func suffixZeroCount(data []byte) int {
	n := 0
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] != 0 {
			break
		}
		n++
	}
	return n
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
