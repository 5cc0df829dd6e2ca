package tts

import (
	"crypto/sha256"
	"fmt"

	"github.com/aloudlabs/aloud-core/internal/audio"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ClipCache keeps recently synthesized clips in memory, keyed by the exact
// synthesis parameters. A nil cache is valid and caches nothing; audio is
// never written to disk.
type ClipCache struct {
	lru *lru.Cache[string, *audio.Clip]
}

// NewClipCache builds a cache holding up to size clips. Size zero or less
// returns nil, which disables caching.
func NewClipCache(size int) (*ClipCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, *audio.Clip](size)
	if err != nil {
		return nil, err
	}
	return &ClipCache{lru: c}, nil
}

func (c *ClipCache) Get(engine Engine, voice string, rate float64, text string) (*audio.Clip, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(clipKey(engine, voice, rate, text))
}

func (c *ClipCache) Put(engine Engine, voice string, rate float64, text string, clip *audio.Clip) {
	if c == nil || clip == nil {
		return
	}
	c.lru.Add(clipKey(engine, voice, rate, text), clip)
}

func (c *ClipCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

func clipKey(engine Engine, voice string, rate float64, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s|%s|%.2f|%x", engine, voice, rate, sum[:8])
}
