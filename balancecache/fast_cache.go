package balancecache

import (
	"encoding/binary"
	"fmt"

	"github.com/VictoriaMetrics/fastcache"
)

// FastCache bounds the memory used by cached balances.  Values are stored as
// 8-byte big-endian integers.
type FastCache struct {
	entries *fastcache.Cache
}

func NewFastCache(maxBytes int) *FastCache {
	return &FastCache{entries: fastcache.New(maxBytes)}
}

func (c *FastCache) Get(key Key) (int64, bool, error) {
	buf, ok := c.entries.HasGet(nil, []byte(key.String()))
	if !ok {
		return 0, false, nil
	}
	if len(buf) != 8 {
		return 0, false, fmt.Errorf("corrupted cached value of %d bytes for %v", len(buf), key)
	}
	return int64(binary.BigEndian.Uint64(buf)), true, nil
}

func (c *FastCache) Set(key Key, value int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(value))
	c.entries.Set([]byte(key.String()), buf[:])
	return nil
}

func (c *FastCache) Delete(key Key) error {
	c.entries.Del([]byte(key.String()))
	return nil
}

func (c *FastCache) Reset() {
	c.entries.Reset()
}
