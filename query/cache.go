package query

import (
	"fmt"

	"github.com/coocood/freecache"
	"github.com/golang/groupcache/singleflight"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/format"
	"github.com/janelia-flyem/densityserver/storage"
)

// HeaderCache keeps encoded headers of recently queried files, keyed by reference, size
// and version so a replaced file is read again.  Concurrent loads of the same file share
// one read.  A nil *HeaderCache reads the header every time.
type HeaderCache struct {
	cache *freecache.Cache
	group singleflight.Group
}

// NewHeaderCache returns a cache of the given size in megabytes, or nil if mb <= 0.
func NewHeaderCache(mb int) *HeaderCache {
	if mb <= 0 {
		return nil
	}
	density.Infof("Created header cache of %d MB\n", mb)
	return &HeaderCache{cache: freecache.NewCache(mb * 1024 * 1024)}
}

// Load returns the header of the open file r.
func (c *HeaderCache) Load(r storage.Reader) (*format.Header, error) {
	if c == nil {
		return format.Decode(r, r.Size())
	}
	key := []byte(fmt.Sprintf("%s@%d@%s", r.Ref(), r.Size(), r.Version()))
	if enc, err := c.cache.Get(key); err == nil {
		return format.Unmarshal(enc[format.LengthPrefixSize:])
	} else if err != freecache.ErrNotFound {
		density.Errorf("header cache get of %q: %v\n", key, err)
	}
	v, err := c.group.Do(string(key), func() (interface{}, error) {
		h, err := format.Decode(r, r.Size())
		if err != nil {
			return nil, err
		}
		enc, err := h.Encode()
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(key, enc, 0); err != nil {
			density.Warningf("could not cache header of %q: %v\n", r.Ref(), err)
		}
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*format.Header), nil
}
