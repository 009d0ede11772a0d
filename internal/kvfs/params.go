package kvfs

import (
	"encoding/json"
	"fmt"

	"github.com/jcxfs/jcxfs/internal/kv"
)

// Version is the on-disk format version of the filesystem tables.
const Version = 1

// Page size limits. The page size is fixed at database creation.
const (
	DefaultPageSize = 65536
	MinPageSize     = 64
	MaxPageSize     = 1024000
)

// Table names inside the encrypted store.
const (
	storePath       = "PATH"
	storeInode      = "INODE"
	storeInodeMeta  = "INODE_META"
	storeData       = "DATA"
	storeDataLength = "DATA_LENGTH"
	storeMeta       = "META"
)

// paramsKey is the reserved key of the internal parameter record in the
// META table. Invisible until the correct password is supplied.
var paramsKey = []byte("JCXFS_PARAMS")

// Params are the internal database parameters, stored encrypted.
type Params struct {
	Version  uint32 `json:"version"`
	PageSize int32  `json:"pageSize"`
}

// ValidatePageSize checks the configured page size range.
func ValidatePageSize(pageSize int32) error {
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		return fmt.Errorf("page size %d out of range [%d, %d]", pageSize, MinPageSize, MaxPageSize)
	}
	return nil
}

func readParams(env *kv.Env, meta *kv.Store) (*Params, error) {
	var p *Params
	err := env.View(func(txn *kv.Txn) error {
		data := meta.Get(txn, paramsKey)
		if data == nil {
			return nil
		}
		p = &Params{}
		return json.Unmarshal(data, p)
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read stored fs params: %w", err)
	}
	return p, nil
}

func writeParams(env *kv.Env, meta *kv.Store, p Params) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return env.Update(func(txn *kv.Txn) error {
		return meta.Put(txn, paramsKey, data)
	})
}
