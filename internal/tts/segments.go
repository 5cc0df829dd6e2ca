package tts

import (
	"context"
	"fmt"

	"github.com/aloudlabs/aloud-core/internal/audio"
)

// segmentResult carries one generated segment, or the error that stopped
// generation, through the feed.
type segmentResult struct {
	index int
	text  string
	clip  *audio.Clip
	err   error
}

// segmentFeed generates audio for each text segment in arrival order while
// playback consumes the results. Generation failures travel through the feed
// so the play loop rejects instead of stalling on a segment that will never
// arrive.
type segmentFeed struct {
	texts []string
	out   chan segmentResult
}

func newSegmentFeed(ctx context.Context, texts []string, voice string, rate float64, gen Generator, cache *ClipCache) *segmentFeed {
	f := &segmentFeed{
		texts: texts,
		out:   make(chan segmentResult, len(texts)),
	}
	go func() {
		defer close(f.out)
		for i, text := range texts {
			if ctx.Err() != nil {
				return
			}
			clip, err := generateSegment(ctx, gen, cache, text, voice, rate)
			f.out <- segmentResult{index: i, text: text, clip: clip, err: err}
			if err != nil {
				return
			}
		}
	}()
	return f
}

func generateSegment(ctx context.Context, gen Generator, cache *ClipCache, text, voice string, rate float64) (*audio.Clip, error) {
	if clip, ok := cache.Get(EngineKokoro, voice, rate, text); ok {
		return clip, nil
	}
	clip, err := gen.Generate(ctx, text, voice, rate)
	if err != nil {
		return nil, err
	}
	cache.Put(EngineKokoro, voice, rate, text, clip)
	return clip, nil
}

// playAll renders every segment strictly in index order, awaiting each
// segment's completion before the next begins.
func (f *segmentFeed) playAll(ctx context.Context, player Player) error {
	for want := 0; want < len(f.texts); want++ {
		var res segmentResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-f.out:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return fmt.Errorf("segment %d was never produced", want)
			}
			res = r
		}
		if res.err != nil {
			return fmt.Errorf("generate segment %d: %w", res.index, res.err)
		}
		if res.clip == nil || len(res.clip.PCM) == 0 {
			return fmt.Errorf("segment %d produced no audio", res.index)
		}
		if err := player.Play(ctx, res.clip); err != nil {
			return err
		}
	}
	return nil
}
