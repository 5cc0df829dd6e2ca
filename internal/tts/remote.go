package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aloudlabs/aloud-core/internal/audio"
	"github.com/aloudlabs/aloud-core/internal/config"
)

// remoteClient fetches synthesized audio from an HTTP speech service with
// an OpenAI-style speech endpoint.
type remoteClient struct {
	url    string
	token  string
	model  string
	client *http.Client
	log    *slog.Logger
}

type remotePayload struct {
	Model  string  `json:"model"`
	Input  string  `json:"input"`
	Voice  string  `json:"voice,omitempty"`
	Format string  `json:"response_format"`
	Speed  float64 `json:"speed,omitempty"`
	Markup bool    `json:"markup,omitempty"`
}

func NewRemoteClient(cfg config.RemoteSynthConfig, log *slog.Logger) (RemoteSynth, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote synthesis url empty")
	}
	// TimeoutMS zero means no client-side deadline; a slow service then
	// holds the queue until the request is cancelled.
	return &remoteClient{
		url:    cfg.URL,
		token:  cfg.Token,
		model:  cfg.Model,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		log:    log.With(slog.String("component", "remote-tts")),
	}, nil
}

func (r *remoteClient) Synthesize(ctx context.Context, req RemoteRequest) (*audio.Clip, error) {
	payload := remotePayload{
		Model:  r.model,
		Input:  req.Text,
		Voice:  req.Voice,
		Format: req.Format,
		Speed:  req.Rate,
		Markup: req.Markup,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("remote synthesis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("remote synthesis HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	r.log.Debug("remote synthesis done",
		slog.Int("bytes", len(data)),
		slog.Duration("took", time.Since(start)))
	return audio.Decode(data, req.Format)
}
