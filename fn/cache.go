package fn

import (
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// codecCache holds generated codecs: encode routines keyed by entry
// address, decode routines keyed by canonical name. Lookups are
// read-mostly; builds are deduplicated so concurrent first uses of one
// callable run a single build. Failed builds are not cached, a later
// call retries after registrations may have changed.
type codecCache struct {
	mu  sync.RWMutex
	enc map[uintptr]*fnCodec
	dec map[string]*fnCodec

	group  singleflight.Group
	builds atomic.Int64
}

var cache = newCodecCache()

func newCodecCache() *codecCache {
	return &codecCache{
		enc: make(map[uintptr]*fnCodec),
		dec: make(map[string]*fnCodec),
	}
}

func (c *codecCache) encoderFor(addr uintptr) (*fnCodec, error) {
	c.mu.RLock()
	codec := c.enc[addr]
	c.mu.RUnlock()
	if codec != nil {
		return codec, nil
	}

	v, err, _ := c.group.Do("e:"+strconv.FormatUint(uint64(addr), 16), func() (any, error) {
		c.mu.RLock()
		codec := c.enc[addr]
		c.mu.RUnlock()
		if codec != nil {
			return codec, nil
		}
		codec, err := buildEncoder(addr)
		if err != nil {
			return nil, err
		}
		c.builds.Add(1)
		c.mu.Lock()
		c.enc[addr] = codec
		c.mu.Unlock()
		return codec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*fnCodec), nil
}

func (c *codecCache) decoderFor(name string) (*fnCodec, error) {
	c.mu.RLock()
	codec := c.dec[name]
	c.mu.RUnlock()
	if codec != nil {
		return codec, nil
	}

	v, err, _ := c.group.Do("d:"+name, func() (any, error) {
		c.mu.RLock()
		codec := c.dec[name]
		c.mu.RUnlock()
		if codec != nil {
			return codec, nil
		}
		codec, err := buildDecoder(name)
		if err != nil {
			return nil, err
		}
		c.builds.Add(1)
		c.mu.Lock()
		c.dec[name] = codec
		c.mu.Unlock()
		return codec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*fnCodec), nil
}

// clear replaces both cache sides with empty maps. Codecs already
// handed out stay valid; builds in flight land in the new maps.
func (c *codecCache) clear() {
	c.mu.Lock()
	c.enc = make(map[uintptr]*fnCodec)
	c.dec = make(map[string]*fnCodec)
	c.mu.Unlock()
}
