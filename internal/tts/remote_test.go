package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/aloudlabs/aloud-core/internal/config"
)

func encodeWAV(t *testing.T, samples []int, sampleRate, channels int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return data
}

func TestRemoteClientSynthesize(t *testing.T) {
	type captured struct {
		auth    string
		payload remotePayload
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p remotePayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got <- captured{auth: r.Header.Get("Authorization"), payload: p}
		w.Write(encodeWAV(t, make([]int, 480), 24000, 1))
	}))
	t.Cleanup(srv.Close)

	client, err := NewRemoteClient(config.RemoteSynthConfig{
		URL:       srv.URL,
		Token:     "sekrit",
		Model:     "tts-1",
		Format:    "wav",
		TimeoutMS: 5000,
	}, testLogger())
	if err != nil {
		t.Fatalf("new remote client: %v", err)
	}

	clip, err := client.Synthesize(context.Background(), RemoteRequest{
		Text:   "**Bold** move",
		Voice:  "ash",
		Format: "wav",
		Markup: true,
		Rate:   1.25,
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if clip.SampleRate != 24000 || clip.Channels != 1 || len(clip.PCM) == 0 {
		t.Fatalf("clip = %d Hz, %d ch, %d bytes", clip.SampleRate, clip.Channels, len(clip.PCM))
	}

	c := <-got
	if c.auth != "Bearer sekrit" {
		t.Fatalf("authorization = %q", c.auth)
	}
	p := c.payload
	if p.Input != "**Bold** move" {
		t.Fatalf("input = %q, want the raw markup text", p.Input)
	}
	if p.Model != "tts-1" || p.Voice != "ash" || p.Format != "wav" {
		t.Fatalf("payload = %+v", p)
	}
	if p.Speed != 1.25 || !p.Markup {
		t.Fatalf("payload = %+v, want speed and markup forwarded", p)
	}
}

func TestRemoteClientErrorStatus(t *testing.T) {
	authCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCh <- r.Header.Get("Authorization")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream melted"))
	}))
	t.Cleanup(srv.Close)

	client, err := NewRemoteClient(config.RemoteSynthConfig{URL: srv.URL, Model: "tts-1", Format: "wav"}, testLogger())
	if err != nil {
		t.Fatalf("new remote client: %v", err)
	}
	_, err = client.Synthesize(context.Background(), RemoteRequest{Text: "hello", Format: "wav"})
	if err == nil {
		t.Fatal("bad gateway reported success")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream melted") {
		t.Fatalf("error = %v, want status and body snippet", err)
	}
	if auth := <-authCh; auth != "" {
		t.Fatalf("authorization = %q without a configured token", auth)
	}
}

func TestRemoteClientCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	client, err := NewRemoteClient(config.RemoteSynthConfig{URL: srv.URL, Model: "tts-1", Format: "wav"}, testLogger())
	if err != nil {
		t.Fatalf("new remote client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Synthesize(ctx, RemoteRequest{Text: "hello", Format: "wav"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled synthesis returned %v, want context.Canceled", err)
	}
}

func TestRemoteClientRejectsEmptyURL(t *testing.T) {
	if _, err := NewRemoteClient(config.RemoteSynthConfig{}, testLogger()); err == nil {
		t.Fatal("empty url accepted")
	}
}
