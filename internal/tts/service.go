// Package tts schedules text-to-speech playback: a FIFO queue drives each
// request through one of three synthesis engines and renders the result
// to the local audio output.
package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aloudlabs/aloud-core/internal/bus"
	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/aloudlabs/aloud-core/internal/eventstore"
	"github.com/aloudlabs/aloud-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service ties the speech queue to the bus: it consumes say, cancel, and
// stop subjects, drives the queue, and publishes per-session status events
// for every lifecycle transition.
type Service struct {
	cfg    config.SpeechConfig
	bus    *bus.Client
	store  *eventstore.Store
	queue  *Queue
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.SpeechConfig, busClient *bus.Client, store *eventstore.Store, be Backends, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    busClient,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "speech-service")),
	}
	s.queue = NewQueue(ctx, cfg, be, s.observe, log)
	return s
}

func (s *Service) Start() error {
	if err := s.subscribe(protocol.SubjectSpeechSay, s.handleSay); err != nil {
		return err
	}
	if err := s.subscribe(protocol.SubjectSpeechCancel, s.handleCancel); err != nil {
		s.drainSubs()
		return err
	}
	if err := s.subscribe(protocol.SubjectSpeechStop, s.handleStop); err != nil {
		s.drainSubs()
		return err
	}
	s.queue.Start()
	return nil
}

func (s *Service) subscribe(subject string, handler nats.MsgHandler) error {
	sub, err := s.bus.Conn().Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close stops intake, flushes the queue with cancellations, and waits for
// the drive loop to exit.
func (s *Service) Close() {
	s.drainSubs()
	s.queue.CancelAll()
	s.queue.Close()
	s.cancel()
}

func (s *Service) drainSubs() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool { return len(s.subs) == 3 }

// Queue exposes the owned queue for in-process callers.
func (s *Service) Queue() *Queue { return s.queue }

func (s *Service) handleSay(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.logger.Debug("dropping empty speak request", slog.String("session_id", req.SessionID))
		return
	}

	r := NewRequest(req.Text, req.Markup, Callbacks{})
	r.SessionID = req.SessionID
	r.MessageID = req.MessageID
	r.Voice = req.Voice
	s.queue.Enqueue(r)
	s.logger.Info("speech request queued",
		slog.String("request_id", r.ID),
		slog.String("session_id", r.SessionID),
		slog.Int("queue_len", s.queue.Len()))
}

func (s *Service) handleCancel(msg *nats.Msg) {
	var req protocol.SpeakCancel
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode cancel request", slogError(err))
		return
	}
	if req.RequestID == "" {
		return
	}
	if err := s.queue.Cancel(req.RequestID); err != nil {
		s.logger.Debug("cancel target not queued", slog.String("request_id", req.RequestID))
	}
}

func (s *Service) handleStop(_ *nats.Msg) {
	s.queue.CancelAll()
	s.logger.Info("speech queue flushed")
}

// observe is the queue's Observer: every transition becomes a status event
// on the session's subject and a row in the timeline store.
func (s *Service) observe(req *Request, state State, err error) {
	status := protocol.SpeakStatus{
		SessionID: req.SessionID,
		RequestID: req.ID,
		MessageID: req.MessageID,
		State:     state.String(),
		Engine:    string(req.Engine()),
		QueueLen:  s.queue.Len(),
		Timestamp: time.Now().UTC(),
	}
	if s.cfg.ShowTranscript {
		status.Text = req.Stripped()
	}
	if err != nil {
		status.Error = err.Error()
	}
	s.publishStatus(status)
	s.appendTimeline(req, state, err)
}

func (s *Service) publishStatus(status protocol.SpeakStatus) {
	if err := s.bus.PublishJSON(statusSubject(status.SessionID), status); err != nil {
		s.logger.Warn("failed to publish speech status", slogError(err))
	}
}

func statusSubject(sessionID string) string {
	if sessionID == "" {
		sessionID = "default"
	}
	return protocol.SubjectSpeechStatusPrefix + "." + sessionID
}

// appendTimeline records the transition in the event store. Best effort:
// playback never blocks on persistence failures.
func (s *Service) appendTimeline(req *Request, state State, err error) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	_ = s.store.AppendSession(ctx, sessionID, "speech")

	tr := eventstore.Transition{
		SessionID: sessionID,
		RequestID: req.ID,
		MessageID: req.MessageID,
		Engine:    string(req.Engine()),
		State:     state.String(),
	}
	if s.cfg.ShowTranscript {
		tr.Text = req.Stripped()
	}
	if err != nil {
		tr.Error = err.Error()
	}
	if aErr := s.store.AppendTransition(ctx, tr); aErr != nil {
		s.logger.Warn("failed to append speech transition", slogError(aErr))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
