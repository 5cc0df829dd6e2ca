package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/aloudlabs/aloud-core/internal/sentence"
	"github.com/google/uuid"
)

// State tracks a request through the queue.
type State int

const (
	StateQueued State = iota
	StateLoading
	StatePlaying
	StateFinished
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "error"
	}
	return "unknown"
}

// Request is one unit of text scheduled for playback. The request owns its
// engine resource and cancellation handle; a Queue drives its lifecycle.
type Request struct {
	ID        string
	SessionID string
	MessageID string
	Text      string
	Markup    bool
	// Voice overrides the configured voice for this request when non-empty.
	Voice     string
	CreatedAt time.Time

	stripped string
	cb       Callbacks

	mu       sync.Mutex
	state    State
	engine   Engine
	res      resource
	ctx      context.Context
	cancel   context.CancelFunc
	terminal bool
}

// NewRequest builds a queued request. The markup-stripped variant of the
// text is derived once here and never recomputed.
func NewRequest(text string, markup bool, cb Callbacks) *Request {
	stripped := text
	if markup {
		stripped = sentence.StripMarkup(text)
	}
	return &Request{
		ID:        uuid.NewString(),
		Text:      text,
		Markup:    markup,
		CreatedAt: time.Now().UTC(),
		stripped:  stripped,
		cb:        cb,
		state:     StateQueued,
	}
}

// Stripped returns the markup-free variant of the text.
func (r *Request) Stripped() string { return r.stripped }

// State reports the current lifecycle state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Engine reports the backend chosen at load time; empty before loading.
func (r *Request) Engine() Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine
}

// renew arms a fresh cancellation handle and resets the request for one
// load/play cycle, so a previously cancelled request re-enters as new.
func (r *Request) renew(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.ctx = ctx
	r.cancel = cancel
	r.state = StateQueued
	r.engine = ""
	r.res = nil
	r.terminal = false
	r.mu.Unlock()
}

func (r *Request) context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// abort fires the cancellation handle. Safe to call repeatedly and after
// the cycle has already resolved.
func (r *Request) abort() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Request) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Request) fireLoading() {
	if r.cb.OnLoading != nil {
		r.cb.OnLoading()
	}
}

func (r *Request) fireSpeaking() {
	if r.cb.OnSpeaking != nil {
		r.cb.OnSpeaking()
	}
}

// finish marks the cycle resolved. The first terminal outcome wins; a late
// cancel or failure after finish is a no-op, and vice versa.
func (r *Request) finish() {
	if !r.enterTerminal(StateFinished) {
		return
	}
	if r.cb.OnFinish != nil {
		r.cb.OnFinish()
	}
}

func (r *Request) cancelled() {
	if !r.enterTerminal(StateCancelled) {
		return
	}
	if r.cb.OnCancel != nil {
		r.cb.OnCancel()
	}
}

// failed marks the cycle rejected by an engine error. Neither OnFinish nor
// OnCancel fires: errors surface through the queue observer instead.
func (r *Request) failed() {
	r.enterTerminal(StateFailed)
}

func (r *Request) enterTerminal(s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal {
		return false
	}
	r.terminal = true
	r.state = s
	return true
}

// load prepares exactly the resource the chosen engine needs for playback.
// The engine is read from cfg once and holds for the lifetime of the cycle.
func (r *Request) load(ctx context.Context, cfg config.SpeechConfig, be Backends) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	engine := EngineFor(cfg.Engine)
	r.mu.Lock()
	r.engine = engine
	r.mu.Unlock()

	switch engine {
	case EngineLocal:
		return r.loadLocal(ctx, cfg, be)
	case EngineKokoro:
		return r.loadKokoro(ctx, cfg, be)
	default:
		return r.loadRemote(ctx, cfg, be)
	}
}

// loadLocal resolves the configured voice against the platform list and
// prepares an utterance of the stripped text. A missing match or a failed
// listing falls back to the platform default voice.
func (r *Request) loadLocal(ctx context.Context, cfg config.SpeechConfig, be Backends) error {
	if be.Platform == nil {
		return errors.New("platform synthesizer not configured")
	}
	utt := Utterance{Text: r.stripped, Rate: cfg.Rate}
	if voices, err := be.Platform.Voices(ctx); err == nil {
		if v, ok := matchVoice(voices, r.voice(cfg)); ok {
			utt.Voice = v.ID
		}
	} else if ctx.Err() != nil {
		return ctx.Err()
	}
	r.setResource(utteranceResource{utt: utt})
	return nil
}

// loadKokoro splits the stripped text into segments and starts the ordered
// generation feed. The engine is initialized once per process with the
// configured precision before first use.
func (r *Request) loadKokoro(ctx context.Context, cfg config.SpeechConfig, be Backends) error {
	if be.Kokoro == nil {
		return errors.New("kokoro engine not configured")
	}
	if be.Player == nil {
		return errors.New("audio player not configured")
	}
	strategy, err := sentence.ParseStrategy(cfg.SplitStrategy)
	if err != nil {
		return err
	}
	segments := sentence.Split(r.stripped, strategy)
	if len(segments) == 0 {
		return ErrNoContent
	}
	if err := be.Kokoro.Init(ctx, cfg.Kokoro.Precision); err != nil {
		return fmt.Errorf("init kokoro engine: %w", err)
	}
	feed := newSegmentFeed(ctx, segments, r.voice(cfg), cfg.Rate, be.Kokoro, be.Cache)
	r.setResource(segmentResource{feed: feed})
	return nil
}

// loadRemote fetches audio for the unstripped text: the remote service is
// markup-aware, so the raw content travels as-is.
func (r *Request) loadRemote(ctx context.Context, cfg config.SpeechConfig, be Backends) error {
	if be.Remote == nil {
		return errors.New("remote synthesizer not configured")
	}
	if be.Player == nil {
		return errors.New("audio player not configured")
	}
	req := RemoteRequest{
		Text:   r.Text,
		Voice:  r.voice(cfg),
		Format: cfg.Remote.Format,
		Markup: r.Markup,
		Rate:   cfg.Rate,
	}
	if clip, ok := be.Cache.Get(EngineRemote, req.Voice, req.Rate, req.Text); ok {
		r.setResource(clipResource{clip: clip})
		return nil
	}
	clip, err := be.Remote.Synthesize(ctx, req)
	if err != nil {
		return fmt.Errorf("remote synthesis: %w", err)
	}
	be.Cache.Put(EngineRemote, req.Voice, req.Rate, req.Text, clip)
	r.setResource(clipResource{clip: clip})
	return nil
}

// play produces audible output from the loaded resource and returns when
// playback completes naturally, fails, or the cancellation handle fires.
func (r *Request) play(ctx context.Context, be Backends) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	res := r.res
	r.mu.Unlock()

	switch res := res.(type) {
	case utteranceResource:
		return be.Platform.Speak(ctx, res.utt)
	case segmentResource:
		return res.feed.playAll(ctx, be.Player)
	case clipResource:
		return be.Player.Play(ctx, res.clip)
	case nil:
		return errors.New("request has no loaded resource")
	}
	return fmt.Errorf("unexpected resource for engine %q", res.engine())
}

func (r *Request) setResource(res resource) {
	r.mu.Lock()
	r.res = res
	r.mu.Unlock()
}

// voice picks the per-request override when present, else the configured
// default.
func (r *Request) voice(cfg config.SpeechConfig) string {
	if r.Voice != "" {
		return r.Voice
	}
	return cfg.Voice
}

// matchVoice resolves a voice identifier against the platform list.
func matchVoice(voices []Voice, id string) (Voice, bool) {
	if id == "" {
		return Voice{}, false
	}
	for _, v := range voices {
		if v.ID == id || v.Name == id {
			return v, true
		}
	}
	return Voice{}, false
}
