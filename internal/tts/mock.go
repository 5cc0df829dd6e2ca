package tts

import (
	"context"
	"sync"
	"time"

	"github.com/aloudlabs/aloud-core/internal/audio"
)

// Test doubles for the engine and playback seams. Error fields inject
// failures; a non-nil Gate holds the call in flight until the test sends
// on it (or closes it), which makes cancellation timing deterministic.

type MockPlatform struct {
	VoiceList []Voice
	VoicesErr error
	SpeakErr  error
	// FailText limits SpeakErr to one utterance; empty fails every call.
	FailText string
	Delay    time.Duration
	Gate     chan struct{}

	mu     sync.Mutex
	spoken []Utterance
}

func (m *MockPlatform) Voices(_ context.Context) ([]Voice, error) {
	if m.VoicesErr != nil {
		return nil, m.VoicesErr
	}
	return m.VoiceList, nil
}

func (m *MockPlatform) Speak(ctx context.Context, utt Utterance) error {
	if err := hold(ctx, m.Gate, m.Delay); err != nil {
		return err
	}
	if m.SpeakErr != nil && (m.FailText == "" || m.FailText == utt.Text) {
		return m.SpeakErr
	}
	m.mu.Lock()
	m.spoken = append(m.spoken, utt)
	m.mu.Unlock()
	return nil
}

func (m *MockPlatform) Spoken() []Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Utterance(nil), m.spoken...)
}

type MockGenerator struct {
	InitErr     error
	GenerateErr error
	// FailText limits GenerateErr to one segment; empty fails every segment.
	FailText string
	Delay    time.Duration
	Gate     chan struct{}

	mu    sync.Mutex
	inits []string
	texts []string
}

func (m *MockGenerator) Init(ctx context.Context, precision string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.InitErr != nil {
		return m.InitErr
	}
	m.mu.Lock()
	m.inits = append(m.inits, precision)
	m.mu.Unlock()
	return nil
}

func (m *MockGenerator) Generate(ctx context.Context, text, _ string, _ float64) (*audio.Clip, error) {
	if err := hold(ctx, m.Gate, m.Delay); err != nil {
		return nil, err
	}
	if m.GenerateErr != nil && (m.FailText == "" || m.FailText == text) {
		return nil, m.GenerateErr
	}
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	return textClip(text), nil
}

func (m *MockGenerator) Close() error { return nil }

func (m *MockGenerator) Inits() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.inits...)
}

func (m *MockGenerator) Generated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

type MockRemote struct {
	Err   error
	Delay time.Duration
	Gate  chan struct{}

	mu   sync.Mutex
	reqs []RemoteRequest
}

func (m *MockRemote) Synthesize(ctx context.Context, req RemoteRequest) (*audio.Clip, error) {
	if err := hold(ctx, m.Gate, m.Delay); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	return textClip(req.Text), nil
}

func (m *MockRemote) Requests() []RemoteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RemoteRequest(nil), m.reqs...)
}

type MockPlayer struct {
	Err   error
	Delay time.Duration
	Gate  chan struct{}

	mu     sync.Mutex
	played []*audio.Clip
}

func (m *MockPlayer) Play(ctx context.Context, clip *audio.Clip) error {
	if err := hold(ctx, m.Gate, m.Delay); err != nil {
		return err
	}
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	m.played = append(m.played, clip)
	m.mu.Unlock()
	return nil
}

func (m *MockPlayer) Played() []*audio.Clip {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*audio.Clip(nil), m.played...)
}

func hold(ctx context.Context, gate chan struct{}, delay time.Duration) error {
	if gate != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gate:
		}
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return ctx.Err()
}

// textClip builds a clip whose samples spell the source text, so tests can
// tell which segment produced which playback.
func textClip(text string) *audio.Clip {
	pcm := []byte(text)
	if len(pcm)%2 == 1 {
		pcm = append(pcm, 0)
	}
	return &audio.Clip{PCM: pcm, SampleRate: 22050, Channels: 1}
}
