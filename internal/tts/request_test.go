package tts

import (
	"context"
	"strings"
	"testing"
)

func TestNewRequestStripsMarkup(t *testing.T) {
	r := NewRequest("**Loud** and `clear`", true, Callbacks{})
	if got := r.Stripped(); got != "Loud and clear" {
		t.Fatalf("stripped = %q, want markup removed", got)
	}
	if r.Text != "**Loud** and `clear`" {
		t.Fatalf("original text mutated: %q", r.Text)
	}

	plain := NewRequest("**not** markup", false, Callbacks{})
	if got := plain.Stripped(); got != "**not** markup" {
		t.Fatalf("plain text stripped anyway: %q", got)
	}
}

func TestEngineSelection(t *testing.T) {
	cases := []struct {
		selector string
		want     Engine
	}{
		{"", EngineLocal},
		{"browser-kokoro", EngineKokoro},
		{"openai", EngineRemote},
		{"elevenlabs", EngineRemote},
	}
	for _, tc := range cases {
		if got := EngineFor(tc.selector); got != tc.want {
			t.Fatalf("EngineFor(%q) = %s, want %s", tc.selector, got, tc.want)
		}
	}
}

func TestStateNames(t *testing.T) {
	cases := map[State]string{
		StateQueued:    "queued",
		StateLoading:   "loading",
		StatePlaying:   "playing",
		StateFinished:  "finished",
		StateCancelled: "cancelled",
		StateFailed:    "error",
		State(99):      "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestLoadLocalResolvesVoice(t *testing.T) {
	platform := &MockPlatform{VoiceList: []Voice{
		{ID: "af", Name: "Afrikaans"},
		{ID: "en-us", Name: "English", Default: true},
	}}
	cfg := localConfig()
	cfg.Voice = "English"

	r := NewRequest("hello there.", false, Callbacks{})
	if err := r.load(context.Background(), cfg, Backends{Platform: platform}); err != nil {
		t.Fatalf("load: %v", err)
	}
	res, ok := r.res.(utteranceResource)
	if !ok {
		t.Fatalf("resource = %T, want utterance", r.res)
	}
	if res.utt.Voice != "en-us" {
		t.Fatalf("voice = %q, want the matched platform id", res.utt.Voice)
	}
	if res.utt.Text != "hello there." || res.utt.Rate != 1 {
		t.Fatalf("utterance = %+v", res.utt)
	}
	if r.Engine() != EngineLocal {
		t.Fatalf("engine = %s, want local", r.Engine())
	}
}

func TestLoadLocalVoiceListingFailure(t *testing.T) {
	platform := &MockPlatform{VoicesErr: context.DeadlineExceeded}
	cfg := localConfig()
	cfg.Voice = "English"

	r := NewRequest("still speaks.", false, Callbacks{})
	if err := r.load(context.Background(), cfg, Backends{Platform: platform}); err != nil {
		t.Fatalf("load with failed voice listing: %v", err)
	}
	res := r.res.(utteranceResource)
	if res.utt.Voice != "" {
		t.Fatalf("voice = %q, want platform default fallback", res.utt.Voice)
	}
}

func TestLoadLocalPerRequestVoiceOverride(t *testing.T) {
	platform := &MockPlatform{VoiceList: []Voice{
		{ID: "af", Name: "Afrikaans"},
		{ID: "en-us", Name: "English"},
	}}
	cfg := localConfig()
	cfg.Voice = "English"

	r := NewRequest("override.", false, Callbacks{})
	r.Voice = "af"
	if err := r.load(context.Background(), cfg, Backends{Platform: platform}); err != nil {
		t.Fatalf("load: %v", err)
	}
	res := r.res.(utteranceResource)
	if res.utt.Voice != "af" {
		t.Fatalf("voice = %q, want the per-request override", res.utt.Voice)
	}
}

func TestLoadRemoteSendsRawText(t *testing.T) {
	remote := &MockRemote{}
	cfg := remoteConfig()
	cfg.Voice = "ash"

	r := NewRequest("**Loud** and clear", true, Callbacks{})
	if err := r.load(context.Background(), cfg, Backends{Remote: remote, Player: &MockPlayer{}}); err != nil {
		t.Fatalf("load: %v", err)
	}
	reqs := remote.Requests()
	if len(reqs) != 1 {
		t.Fatalf("remote called %d times", len(reqs))
	}
	got := reqs[0]
	if got.Text != "**Loud** and clear" {
		t.Fatalf("remote text = %q, want the unstripped original", got.Text)
	}
	if !got.Markup || got.Voice != "ash" || got.Format != "wav" || got.Rate != 1 {
		t.Fatalf("remote request = %+v", got)
	}
	if _, ok := r.res.(clipResource); !ok {
		t.Fatalf("resource = %T, want clip", r.res)
	}
}

func TestLoadRejectsMissingPlayer(t *testing.T) {
	gen := &MockGenerator{}
	kokoro := NewRequest("needs a player.", false, Callbacks{})
	err := kokoro.load(context.Background(), kokoroConfig(), Backends{Kokoro: gen})
	if err == nil || !strings.Contains(err.Error(), "player") {
		t.Fatalf("kokoro load without a player = %v, want rejection", err)
	}
	if inits := gen.Inits(); len(inits) != 0 {
		t.Fatalf("engine initialized despite the rejected load: %v", inits)
	}

	synth := &MockRemote{}
	remote := NewRequest("needs a player.", false, Callbacks{})
	err = remote.load(context.Background(), remoteConfig(), Backends{Remote: synth})
	if err == nil || !strings.Contains(err.Error(), "player") {
		t.Fatalf("remote load without a player = %v, want rejection", err)
	}
	if reqs := synth.Requests(); len(reqs) != 0 {
		t.Fatalf("remote called despite the rejected load: %v", reqs)
	}
}

func TestPlayWithoutResource(t *testing.T) {
	r := NewRequest("nothing loaded.", false, Callbacks{})
	if err := r.play(context.Background(), Backends{}); err == nil {
		t.Fatal("play without a loaded resource succeeded")
	}
}

func TestMatchVoice(t *testing.T) {
	voices := []Voice{
		{ID: "en-us", Name: "English"},
		{ID: "de", Name: "German"},
	}
	if _, ok := matchVoice(voices, ""); ok {
		t.Fatal("empty id matched a voice")
	}
	if v, ok := matchVoice(voices, "de"); !ok || v.ID != "de" {
		t.Fatalf("id match = %+v, %v", v, ok)
	}
	if v, ok := matchVoice(voices, "English"); !ok || v.ID != "en-us" {
		t.Fatalf("name match = %+v, %v", v, ok)
	}
	if _, ok := matchVoice(voices, "Klingon"); ok {
		t.Fatal("unknown voice matched")
	}
}
