// Package router bridges chat traffic to speech. Finalized assistant
// messages become speak requests when autoplay is enabled, so connected
// frontends never talk to the speech service directly.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aloudlabs/aloud-core/internal/bus"
	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/aloudlabs/aloud-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

type Service struct {
	cfg    config.RouterConfig
	speech config.SpeechConfig
	bus    *bus.Client
	logger *slog.Logger
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	// last spoken message id per session, so bus redeliveries and message
	// edits do not replay audio
	sessions map[string]string
}

func NewService(parent context.Context, cfg config.RouterConfig, speech config.SpeechConfig, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		speech:   speech,
		bus:      busClient,
		logger:   logger.With(slog.String("component", "router")),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]string),
	}
}

func (s *Service) Start() error {
	if !s.active() {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectChatMessage, s.handleMessage)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	return !s.active() || s.sub != nil
}

func (s *Service) active() bool {
	return s.cfg.Enabled && s.speech.Autoplay
}

func (s *Service) handleMessage(msg *nats.Msg) {
	var m protocol.ChatMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		s.logger.Warn("router failed to decode chat message", slogError(err))
		return
	}
	if !m.Final || m.Text == "" || m.Role != s.cfg.Role {
		return
	}

	s.mu.Lock()
	if m.MessageID != "" && s.sessions[m.SessionID] == m.MessageID {
		s.mu.Unlock()
		return
	}
	s.sessions[m.SessionID] = m.MessageID
	s.mu.Unlock()

	req := protocol.SpeakRequest{
		SessionID: m.SessionID,
		MessageID: m.MessageID,
		Text:      m.Text,
		Markup:    m.Markup,
	}
	if err := s.bus.PublishJSON(protocol.SubjectSpeechSay, req); err != nil {
		s.logger.Warn("router failed to publish speak request", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
