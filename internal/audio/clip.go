// Package audio holds the PCM clip model shared by the speech engines and
// the playback device that renders clips to the local output.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
)

// Clip is decoded audio: interleaved signed 16-bit little-endian PCM.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Duration reports the playable length of the clip.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.PCM) / 2 / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Decode turns synthesized audio bytes into a clip. An empty format sniffs
// the container from the payload header.
func Decode(data []byte, format string) (*Clip, error) {
	if len(data) == 0 {
		return nil, errors.New("empty audio payload")
	}
	switch format {
	case "wav":
		return DecodeWAV(data)
	case "mp3":
		return DecodeMP3(data)
	case "":
		if bytes.HasPrefix(data, []byte("RIFF")) {
			return DecodeWAV(data)
		}
		return DecodeMP3(data)
	}
	return nil, fmt.Errorf("unsupported audio format %q", format)
}

// DecodeWAV decodes a RIFF/WAVE payload.
func DecodeWAV(data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav payload")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, errors.New("wav payload has no samples")
	}
	pcm, err := intBufferPCM16(buf)
	if err != nil {
		return nil, err
	}
	return &Clip{
		PCM:        pcm,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

// DecodeMP3 decodes an MPEG layer-3 payload. go-mp3 always emits 16-bit
// stereo at the stream's sample rate.
func DecodeMP3(data []byte) (*Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("read mp3 samples: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("mp3 payload has no samples")
	}
	return &Clip{
		PCM:        pcm,
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}, nil
}

func intBufferPCM16(buf *audio.IntBuffer) ([]byte, error) {
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = 16
	}
	out := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		var v int
		switch {
		case depth == 16:
			v = sample
		case depth == 8:
			v = (sample - 128) << 8
		case depth > 16:
			v = sample >> (depth - 16)
		default:
			return nil, fmt.Errorf("unsupported wav bit depth %d", depth)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out, nil
}

// Convert returns a clip matching the requested rate and channel count,
// resampling and re-mixing as needed. The receiver is returned unchanged
// when it already matches.
func (c *Clip) Convert(sampleRate, channels int) *Clip {
	if c == nil {
		return nil
	}
	out := c
	if out.Channels != channels {
		out = &Clip{PCM: remixChannels(out.PCM, out.Channels, channels), SampleRate: out.SampleRate, Channels: channels}
	}
	if out.SampleRate != sampleRate {
		out = &Clip{PCM: Resample(out.PCM, out.Channels, out.SampleRate, sampleRate), SampleRate: sampleRate, Channels: out.Channels}
	}
	return out
}

// Resample converts interleaved 16-bit PCM between sample rates using linear
// interpolation per channel.
func Resample(in []byte, channels, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 || channels <= 0 {
		return in
	}
	inFrames := len(in) / 2 / channels
	if inFrames < 2 {
		return nil
	}
	outFrames := int(int64(inFrames) * int64(to) / int64(from))
	out := make([]byte, outFrames*channels*2)

	ratio := float64(from) / float64(to)
	for f := 0; f < outFrames; f++ {
		srcPos := float64(f) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		for ch := 0; ch < channels; ch++ {
			s0 := frameSample(in, channels, inFrames, srcIdx, ch)
			s1 := frameSample(in, channels, inFrames, srcIdx+1, ch)
			v := int16(float64(s0) + frac*(float64(s1)-float64(s0)))
			binary.LittleEndian.PutUint16(out[(f*channels+ch)*2:], uint16(v))
		}
	}
	return out
}

func frameSample(buf []byte, channels, frames, frame, ch int) int16 {
	if frame >= frames {
		frame = frames - 1
	}
	if frame < 0 {
		return 0
	}
	off := (frame*channels + ch) * 2
	return int16(binary.LittleEndian.Uint16(buf[off:]))
}

func remixChannels(in []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return in
	}
	frames := len(in) / 2 / from
	out := make([]byte, frames*to*2)
	for f := 0; f < frames; f++ {
		var sum int
		for ch := 0; ch < from; ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(in[(f*from+ch)*2:])))
		}
		v := uint16(int16(sum / from))
		for ch := 0; ch < to; ch++ {
			binary.LittleEndian.PutUint16(out[(f*to+ch)*2:], v)
		}
	}
	return out
}
