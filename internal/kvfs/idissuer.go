package kvfs

import (
	"fmt"
	"math"
	"sync"

	"github.com/jcxfs/jcxfs/internal/kv"
)

// Inode id allocation range [idMin, idMax). The counter wraps to idMin when
// it reaches idMax and probes for an unused id, so ids can be reused after
// their entries are gone.
const (
	idMin int64 = math.MaxInt32 + 1
	idMax int64 = math.MaxInt64 - 10
)

var idCounterKey = []byte("ID_COUNTER")

// inodeIDIssuer hands out unused inode ids. The in-memory counter is
// seeded from the persisted value and the new value is written in the same
// transaction that consumes the id, so a crash either commits both or
// neither.
type inodeIDIssuer struct {
	mu      sync.Mutex
	counter int64
	meta    *kv.Store
	inodes  *inodeStore
}

func newInodeIDIssuer(env *kv.Env, meta *kv.Store, inodes *inodeStore) (*inodeIDIssuer, error) {
	issuer := &inodeIDIssuer{meta: meta, inodes: inodes, counter: idMin}
	err := env.View(func(txn *kv.Txn) error {
		stored := meta.Get(txn, idCounterKey)
		if stored == nil {
			return nil
		}
		value, err := inodeKeyToID(stored)
		if err != nil {
			return fmt.Errorf("error initializing inode-id-issuer: %w", err)
		}
		issuer.counter = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issuer, nil
}

// nextID returns an unused id and persists the advanced counter in txn.
func (i *inodeIDIssuer) nextID(txn *kv.Txn) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	maxAttempts := idMax - idMin
	for attempt := int64(0); attempt < maxAttempts; attempt++ {
		candidate := i.next()
		used, err := i.inodes.hasID(txn, candidate)
		if err != nil {
			return 0, err
		}
		if used {
			continue
		}
		if err := i.meta.Put(txn, idCounterKey, inodeKey(candidate)); err != nil {
			return 0, err
		}
		return candidate, nil
	}
	return 0, ioErr("unable to allocate new inode id, id space exhausted", nil)
}

func (i *inodeIDIssuer) next() int64 {
	i.counter++
	if i.counter >= idMax {
		i.counter = idMin
	}
	return i.counter
}
