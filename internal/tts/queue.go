package tts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aloudlabs/aloud-core/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Observer receives every lifecycle transition the queue drives. err is
// non-nil only for StateFailed.
type Observer func(req *Request, state State, err error)

// Queue sequences speech requests: strict FIFO order, at most one request
// loading or playing at a time, automatic advance on finish, failure, or
// cancellation. Each caller owns its instance; nothing here is global.
type Queue struct {
	cfg      config.SpeechConfig
	backends Backends
	observer Observer
	logger   *slog.Logger

	mu     sync.Mutex
	items  []*Request
	active *Request

	notify  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics *queueMetrics
}

func NewQueue(parent context.Context, cfg config.SpeechConfig, be Backends, obs Observer, log *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		cfg:      cfg,
		backends: be,
		observer: obs,
		logger:   log.With(slog.String("component", "speech-queue")),
		notify:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	m, err := newQueueMetrics(q.Len)
	if err != nil {
		q.logger.Warn("queue metrics unavailable", slogError(err))
	}
	q.metrics = m
	return q
}

// Start launches the drive goroutine.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.run()
}

// Close stops the drive loop and interrupts any active playback. Waiting
// elements are left untouched; call CancelAll first for a full teardown.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}

// Enqueue renews the request's cancellation handle and appends it to the
// tail. An idle queue begins processing immediately.
func (q *Queue) Enqueue(req *Request) {
	req.renew(q.ctx)
	q.mu.Lock()
	q.items = append(q.items, req)
	q.mu.Unlock()

	q.observe(req, StateQueued, nil)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Cancel interrupts the request with the given id. The active head is
// aborted and removed once the drive loop observes the rejection; a waiting
// element is removed immediately and never loads.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	var target *Request
	idx := -1
	for i, it := range q.items {
		if it.ID == id {
			target, idx = it, i
			break
		}
	}
	if target == nil {
		q.mu.Unlock()
		return ErrUnknownRequest
	}
	isActive := q.active == target
	if !isActive {
		q.items = append(q.items[:idx], q.items[idx+1:]...)
	}
	q.mu.Unlock()

	target.abort()
	if !isActive {
		target.cancelled()
		q.observe(target, StateCancelled, nil)
		q.metrics.outcome(q.ctx, target, StateCancelled)
	}
	return nil
}

// CancelAll cancels every queued element, newest first, ending with the
// active one. The queue is empty once the active rejection is observed.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	snapshot := append([]*Request(nil), q.items...)
	q.mu.Unlock()

	for i := len(snapshot) - 1; i >= 0; i-- {
		_ = q.Cancel(snapshot[i].ID)
	}
}

// Len reports the number of queued elements, including the active one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.notify:
			q.drain()
		}
	}
}

// drain processes head elements until the queue is empty. Program order
// enforces single-flight: the next head starts only after the current one
// has fully resolved and been removed.
func (q *Queue) drain() {
	for {
		if q.ctx.Err() != nil {
			return
		}
		req := q.head()
		if req == nil {
			return
		}
		q.process(req)
		q.remove(req)
	}
}

func (q *Queue) head() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	q.active = q.items[0]
	return q.active
}

func (q *Queue) remove(req *Request) {
	q.mu.Lock()
	if q.active == req {
		q.active = nil
	}
	for i, it := range q.items {
		if it == req {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
}

// process drives one element through its load/play cycle. Every outcome,
// success, failure, or cancellation, leaves the element removable; the
// caller advances unconditionally.
func (q *Queue) process(req *Request) {
	ctx := req.context()

	req.setState(StateLoading)
	req.fireLoading()
	q.observe(req, StateLoading, nil)

	loadStart := time.Now()
	err := req.load(ctx, q.cfg, q.backends)
	q.metrics.loadDuration(q.ctx, req, time.Since(loadStart))

	if err == nil {
		req.setState(StatePlaying)
		req.fireSpeaking()
		q.observe(req, StatePlaying, nil)

		playStart := time.Now()
		err = req.play(ctx, q.backends)
		q.metrics.playDuration(q.ctx, req, time.Since(playStart))
	}

	switch {
	case err == nil:
		req.finish()
		q.observe(req, StateFinished, nil)
		q.metrics.outcome(q.ctx, req, StateFinished)
	case errors.Is(err, context.Canceled):
		req.cancelled()
		q.observe(req, StateCancelled, nil)
		q.metrics.outcome(q.ctx, req, StateCancelled)
		q.logger.Debug("speech request cancelled", slog.String("request_id", req.ID))
	default:
		req.failed()
		q.observe(req, StateFailed, err)
		q.metrics.outcome(q.ctx, req, StateFailed)
		q.logger.Warn("speech request failed",
			slog.String("request_id", req.ID),
			slog.String("engine", string(req.Engine())),
			slogError(err))
	}
}

func (q *Queue) observe(req *Request, state State, err error) {
	if q.observer != nil {
		q.observer(req, state, err)
	}
}

type queueMetrics struct {
	requests metric.Int64Counter
	loadDur  metric.Float64Histogram
	playDur  metric.Float64Histogram
}

func newQueueMetrics(depth func() int) (*queueMetrics, error) {
	meter := otel.Meter("aloud.speech")

	requests, err := meter.Int64Counter("aloud.speech.requests",
		metric.WithDescription("Completed speech requests by outcome"))
	if err != nil {
		return nil, err
	}
	loadDur, err := meter.Float64Histogram("aloud.speech.load_seconds",
		metric.WithDescription("Engine resource loading duration"))
	if err != nil {
		return nil, err
	}
	playDur, err := meter.Float64Histogram("aloud.speech.play_seconds",
		metric.WithDescription("Playback duration"))
	if err != nil {
		return nil, err
	}
	gauge, err := meter.Int64ObservableGauge("aloud.speech.queue_depth",
		metric.WithDescription("Queued speech requests"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(depth()))
		return nil
	}, gauge)
	if err != nil {
		return nil, err
	}

	return &queueMetrics{requests: requests, loadDur: loadDur, playDur: playDur}, nil
}

func (m *queueMetrics) outcome(ctx context.Context, req *Request, state State) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", state.String()),
		attribute.String("engine", string(req.Engine())),
	))
}

func (m *queueMetrics) loadDuration(ctx context.Context, req *Request, d time.Duration) {
	if m == nil {
		return
	}
	m.loadDur.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("engine", string(req.Engine())),
	))
}

func (m *queueMetrics) playDuration(ctx context.Context, req *Request, d time.Duration) {
	if m == nil {
		return
	}
	m.playDur.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("engine", string(req.Engine())),
	))
}
