package loader

import (
	"encoding/base64"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/blake2b"
)

// Cache memoizes parses keyed by a blake2b digest of the image bytes.
type Cache struct {
	cache *lru.ARCCache
}

func NewCache(size int) *Cache {
	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}

	return &Cache{cache: cache}
}

func cacheKey(image []byte) string {
	sum := blake2b.Sum256(image)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Load returns the parsed program for image, from cache when possible.
func (c *Cache) Load(image []byte) (*Program, error) {
	key := cacheKey(image)

	if val, ok := c.cache.Get(key); ok {
		return val.(*Program), nil
	}

	prog, err := Parse(image)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, prog)
	return prog, nil
}
