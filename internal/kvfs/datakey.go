package kvfs

import (
	"encoding/binary"
	"fmt"
)

// dataKey addresses one page of one regular file. The 12-byte big-endian
// encoding (8-byte id, 4-byte page index) keeps all pages of an inode in a
// contiguous key range, in page order.
type dataKey struct {
	fid  int64
	page int32
}

const dataKeyLen = 12

func encodeDataKey(fid int64, page int32) ([]byte, error) {
	if fid <= 0 {
		return nil, fmt.Errorf("fid value must be a positive long")
	}
	if page < 0 {
		return nil, fmt.Errorf("page value must not be negative")
	}
	key := make([]byte, dataKeyLen)
	binary.BigEndian.PutUint64(key, uint64(fid))
	binary.BigEndian.PutUint32(key[8:], uint32(page))
	return key, nil
}

func decodeDataKey(key []byte) (dataKey, error) {
	if len(key) != dataKeyLen {
		return dataKey{}, fmt.Errorf("malformed data key of length %d", len(key))
	}
	return dataKey{
		fid:  int64(binary.BigEndian.Uint64(key)),
		page: int32(binary.BigEndian.Uint32(key[8:])),
	}, nil
}

// lengthKey addresses the logical-length record of one inode.
func lengthKey(fid int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(fid))
	return key
}
