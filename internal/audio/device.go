package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Device renders clips to the local audio output. oto allows one context per
// process, so the runtime constructs exactly one Device and shares it.
type Device struct {
	octx       *oto.Context
	sampleRate int
	channels   int
	log        *slog.Logger

	// serializes access to the output stream
	mu sync.Mutex
}

func NewDevice(sampleRate int, log *slog.Logger) (*Device, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	}
	octx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio context: %w", err)
	}
	<-ready

	log = log.With(slog.String("component", "audio-device"))
	log.Info("audio output ready", slog.Int("sample_rate", sampleRate))
	return &Device{
		octx:       octx,
		sampleRate: sampleRate,
		channels:   2,
		log:        log,
	}, nil
}

// Play renders one clip and blocks until playback completes naturally or ctx
// fires. A fired ctx pauses the stream immediately and returns ctx.Err().
func (d *Device) Play(ctx context.Context, clip *Clip) error {
	if clip == nil || len(clip.PCM) == 0 {
		return errors.New("empty clip")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	prepared := clip.Convert(d.sampleRate, d.channels)
	player := d.octx.NewPlayer(bytes.NewReader(prepared.PCM))
	defer player.Close()

	player.Play()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close suspends the underlying audio context. oto contexts cannot be torn
// down; suspension releases the output stream until process exit.
func (d *Device) Close() error {
	if d == nil || d.octx == nil {
		return nil
	}
	return d.octx.Suspend()
}
