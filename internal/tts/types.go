package tts

import (
	"context"
	"errors"

	"github.com/aloudlabs/aloud-core/internal/audio"
	"github.com/aloudlabs/aloud-core/internal/config"
)

// Engine identifies which synthesis backend serves a request.
type Engine string

const (
	EngineLocal  Engine = "local"
	EngineKokoro Engine = "kokoro"
	EngineRemote Engine = "remote"
)

// EngineFor maps the config selector onto a backend: the empty selector is
// the platform synthesizer, "browser-kokoro" the on-device model, anything
// else the remote service.
func EngineFor(selector string) Engine {
	switch selector {
	case config.EngineSelectorLocal:
		return EngineLocal
	case config.EngineSelectorKokoro:
		return EngineKokoro
	default:
		return EngineRemote
	}
}

// Voice is one entry of the platform synthesizer's voice list.
type Voice struct {
	ID      string
	Name    string
	Lang    string
	Default bool
}

// Utterance is a prepared unit of platform speech.
type Utterance struct {
	Text  string
	Voice string
	Rate  float64
}

// Platform drives the platform speech synthesizer (the local engine).
// Speak blocks until the utterance completes; a fired ctx must stop the
// engine immediately.
type Platform interface {
	Voices(ctx context.Context) ([]Voice, error)
	Speak(ctx context.Context, utt Utterance) error
}

// Generator produces audio for one text segment (the on-device engine).
// The first Init fixes the numeric precision for the engine's lifetime;
// later calls are no-ops. Close releases whatever the engine holds open.
type Generator interface {
	Init(ctx context.Context, precision string) error
	Generate(ctx context.Context, text, voice string, rate float64) (*audio.Clip, error)
	Close() error
}

// RemoteRequest mirrors the remote synthesis API surface.
type RemoteRequest struct {
	Text   string
	Voice  string
	Format string
	Markup bool
	Rate   float64
}

// RemoteSynth fetches synthesized audio from the remote service.
type RemoteSynth interface {
	Synthesize(ctx context.Context, req RemoteRequest) (*audio.Clip, error)
}

// Player renders one clip, blocking until completion or ctx cancellation.
type Player interface {
	Play(ctx context.Context, clip *audio.Clip) error
}

// Backends bundles the adapters a queue drives. A nil field rejects loads
// for the engine that needs it.
type Backends struct {
	Platform Platform
	Kokoro   Generator
	Remote   RemoteSynth
	Player   Player
	Cache    *ClipCache
}

// Callbacks are the optional lifecycle hooks of one request. Each fires at
// most once per play cycle, and Finish and Cancel are mutually exclusive.
type Callbacks struct {
	OnLoading  func()
	OnSpeaking func()
	OnFinish   func()
	OnCancel   func()
}

// resource is the engine-specific playback payload. Exactly one variant
// exists per load cycle, and it always matches the selected engine.
type resource interface {
	engine() Engine
}

type utteranceResource struct {
	utt Utterance
}

func (utteranceResource) engine() Engine { return EngineLocal }

type segmentResource struct {
	feed *segmentFeed
}

func (segmentResource) engine() Engine { return EngineKokoro }

type clipResource struct {
	clip *audio.Clip
}

func (clipResource) engine() Engine { return EngineRemote }

var (
	// ErrNoContent rejects a load whose text yields no speakable segments.
	ErrNoContent = errors.New("no content to speak")
	// ErrUnknownRequest reports a cancel target that is not queued.
	ErrUnknownRequest = errors.New("request not queued")
)
