package balancecache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// LRUCache bounds the number of cached balances.
type LRUCache struct {
	entries *lru.Cache
}

func NewLRUCache(size int) (*LRUCache, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{entries: entries}, nil
}

func (c *LRUCache) Get(key Key) (int64, bool, error) {
	value, ok := c.entries.Get(key.String())
	if !ok {
		return 0, false, nil
	}
	balance, ok := value.(int64)
	if !ok {
		return 0, false, fmt.Errorf("unexpected cached value type %T for %v", value, key)
	}
	return balance, true, nil
}

func (c *LRUCache) Set(key Key, value int64) error {
	c.entries.Add(key.String(), value)
	return nil
}

func (c *LRUCache) Delete(key Key) error {
	c.entries.Remove(key.String())
	return nil
}

func (c *LRUCache) Len() int {
	return c.entries.Len()
}
