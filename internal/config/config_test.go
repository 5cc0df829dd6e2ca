package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Speech.Engine != EngineSelectorLocal {
		t.Fatalf("expected local engine by default, got %q", cfg.Speech.Engine)
	}
	if cfg.Speech.Rate != 1.0 {
		t.Fatalf("expected default rate 1.0, got %v", cfg.Speech.Rate)
	}
	if cfg.Speech.SplitStrategy != "punctuation" {
		t.Fatalf("expected punctuation split strategy, got %q", cfg.Speech.SplitStrategy)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("speech:\n  engine: browser-kokoro\n  voice: af_bella\n  kokoro:\n    command: kokoro-worker --stdio\n    precision: fp16\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Speech.Engine != EngineSelectorKokoro {
		t.Fatalf("expected kokoro engine, got %q", cfg.Speech.Engine)
	}
	if cfg.Speech.Voice != "af_bella" {
		t.Fatalf("expected voice override, got %q", cfg.Speech.Voice)
	}
	if cfg.Speech.Kokoro.Precision != "fp16" {
		t.Fatalf("expected precision fp16, got %q", cfg.Speech.Kokoro.Precision)
	}
	// Untouched sections keep their defaults.
	if cfg.Speech.Remote.Format != "mp3" {
		t.Fatalf("expected default remote format, got %q", cfg.Speech.Remote.Format)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ALOUD_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("ALOUD_BUS_USERNAME", "alice")
	t.Setenv("ALOUD_BUS_PASSWORD", "secret")
	t.Setenv("ALOUD_BUS_TLS_INSECURE", "true")
	t.Setenv("ALOUD_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("ALOUD_BUS_STORE_DIR", "/var/lib/aloud/nats")
	t.Setenv("ALOUD_NODE_ID", "test-node")
	t.Setenv("ALOUD_SPEECH_ENGINE", "openai")
	t.Setenv("ALOUD_SPEECH_REMOTE_URL", "https://tts.example.com/v1/audio/speech")
	t.Setenv("ALOUD_SPEECH_REMOTE_TOKEN", "sk-test")
	t.Setenv("ALOUD_SPEECH_RATE", "1.5")
	t.Setenv("ALOUD_SPEECH_AUTOPLAY", "true")
	t.Setenv("ALOUD_SPEECH_SHOW_TRANSCRIPT", "false")
	t.Setenv("ALOUD_SPEECH_CACHE_CLIPS", "16")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Bus.StoreDir != "/var/lib/aloud/nats" {
		t.Fatalf("expected store dir override, got %q", cfg.Bus.StoreDir)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.Speech.Engine != "openai" {
		t.Fatalf("expected engine override, got %q", cfg.Speech.Engine)
	}
	if cfg.Speech.Remote.URL == "" || cfg.Speech.Remote.Token != "sk-test" {
		t.Fatalf("expected remote overrides, got %+v", cfg.Speech.Remote)
	}
	if cfg.Speech.Rate != 1.5 {
		t.Fatalf("expected rate 1.5, got %v", cfg.Speech.Rate)
	}
	if !cfg.Speech.Autoplay {
		t.Fatal("expected autoplay override true")
	}
	if cfg.Speech.ShowTranscript {
		t.Fatal("expected show_transcript override false")
	}
	if cfg.Speech.CacheClips != 16 {
		t.Fatalf("expected cache_clips 16, got %d", cfg.Speech.CacheClips)
	}
}

func TestValidateSpeech(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rate", func(c *Config) { c.Speech.Rate = 0 }},
		{"rate too high", func(c *Config) { c.Speech.Rate = 5 }},
		{"unknown strategy", func(c *Config) { c.Speech.SplitStrategy = "words" }},
		{"negative cache", func(c *Config) { c.Speech.CacheClips = -1 }},
		{"kokoro without command", func(c *Config) {
			c.Speech.Engine = EngineSelectorKokoro
			c.Speech.Kokoro.Command = ""
		}},
		{"bad precision", func(c *Config) {
			c.Speech.Engine = EngineSelectorKokoro
			c.Speech.Kokoro.Command = "kokoro-worker"
			c.Speech.Kokoro.Precision = "int4"
		}},
		{"remote without url", func(c *Config) { c.Speech.Engine = "openai" }},
		{"bad remote format", func(c *Config) {
			c.Speech.Engine = "openai"
			c.Speech.Remote.URL = "https://tts.example.com"
			c.Speech.Remote.Format = "ogg"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
