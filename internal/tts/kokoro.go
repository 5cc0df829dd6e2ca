package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/aloudlabs/aloud-core/internal/audio"
	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/mattn/go-shellwords"
)

// kokoroEngine owns a long-lived worker subprocess speaking a JSON-lines
// protocol: one request line in, one response line out, matched by id. The
// worker is started lazily on the first Init and the precision sent there
// stays fixed until the process is replaced.
type kokoroEngine struct {
	cmd        []string
	warmupText string
	log        *slog.Logger

	mu        sync.Mutex
	proc      *exec.Cmd
	stdin     io.WriteCloser
	dec       *json.Decoder
	stderr    *procTail
	precision string
	closed    bool
}

type kokoroRequest struct {
	ID        string  `json:"id"`
	Op        string  `json:"op"`
	Text      string  `json:"text,omitempty"`
	Voice     string  `json:"voice,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Precision string  `json:"precision,omitempty"`
}

type kokoroResponse struct {
	ID          string `json:"id"`
	OK          bool   `json:"ok"`
	Format      string `json:"format"`
	SampleRate  int    `json:"sample_rate"`
	AudioBase64 string `json:"audio_base64"`
	Error       string `json:"error"`
}

func NewKokoroEngine(cfg config.KokoroConfig, log *slog.Logger) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse kokoro command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("kokoro command empty")
	}
	return &kokoroEngine{
		cmd:        args,
		warmupText: cfg.WarmupText,
		log:        log.With(slog.String("component", "kokoro-tts")),
	}, nil
}

// Init starts the worker if it is not running. A precision that differs
// from the one the running worker was started with is logged and ignored.
func (e *kokoroEngine) Init(ctx context.Context, precision string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("kokoro worker closed")
	}
	if e.proc != nil {
		if precision != e.precision {
			e.log.Warn("model precision is fixed at first init",
				slog.String("active", e.precision),
				slog.String("requested", precision))
		}
		return nil
	}
	return e.startLocked(precision)
}

func (e *kokoroEngine) startLocked(precision string) error {
	cmd := exec.Command(e.cmd[0], e.cmd[1:]...)
	tail := &procTail{}
	cmd.Stderr = tail

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("kokoro worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("kokoro worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start kokoro worker: %w", err)
	}

	e.proc = cmd
	e.stdin = stdin
	e.dec = json.NewDecoder(stdout)
	e.stderr = tail
	e.precision = precision

	if _, err := e.roundTripLocked(kokoroRequest{Op: "init", Precision: precision}); err != nil {
		e.shutdownLocked()
		return fmt.Errorf("init kokoro worker: %w", err)
	}
	if e.warmupText != "" {
		if _, err := e.roundTripLocked(kokoroRequest{Op: "generate", Text: e.warmupText, Speed: 1}); err != nil {
			e.shutdownLocked()
			return fmt.Errorf("warm up kokoro worker: %w", err)
		}
	}
	e.log.Info("kokoro worker ready", slog.String("precision", precision))
	return nil
}

// Generate synthesizes one text segment. Synthesis is not abortable once
// the request line is written; ctx is only honored at entry so a cancelled
// request never touches the worker.
func (e *kokoroEngine) Generate(ctx context.Context, text, voice string, rate float64) (*audio.Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("kokoro worker closed")
	}
	if e.proc == nil {
		return nil, errors.New("kokoro worker not initialized")
	}

	if rate <= 0 {
		rate = 1
	}
	resp, err := e.roundTripLocked(kokoroRequest{Op: "generate", Text: text, Voice: voice, Speed: rate})
	if err != nil {
		return nil, err
	}
	if resp.AudioBase64 == "" {
		return nil, errors.New("kokoro worker returned no audio")
	}
	data, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode kokoro audio: %w", err)
	}
	clip, err := audio.Decode(data, resp.Format)
	if err != nil {
		return nil, err
	}
	if resp.SampleRate > 0 && clip.SampleRate != resp.SampleRate {
		clip.SampleRate = resp.SampleRate
	}
	return clip, nil
}

// roundTripLocked writes one request and decodes its response. Any wire
// failure tears the worker down so the next Init starts a fresh process.
func (e *kokoroEngine) roundTripLocked(req kokoroRequest) (*kokoroResponse, error) {
	req.ID = fmt.Sprintf("req-%d", time.Now().UnixNano())
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')
	if _, err := e.stdin.Write(line); err != nil {
		e.shutdownLocked()
		return nil, e.workerFailure("write to kokoro worker", err)
	}

	var resp kokoroResponse
	if err := e.dec.Decode(&resp); err != nil {
		e.shutdownLocked()
		return nil, e.workerFailure("read from kokoro worker", err)
	}
	if resp.ID != req.ID {
		e.shutdownLocked()
		return nil, fmt.Errorf("kokoro worker out of sync (got %q, expected %q)", resp.ID, req.ID)
	}
	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "unknown kokoro error"
		}
		return nil, errors.New(msg)
	}
	return &resp, nil
}

func (e *kokoroEngine) workerFailure(op string, err error) error {
	if tail := e.stderr.String(); tail != "" {
		return fmt.Errorf("%s: %w (worker stderr: %s)", op, err, tail)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Close stops the worker. Interrupt first, kill after a short grace.
func (e *kokoroEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.shutdownLocked()
	return nil
}

func (e *kokoroEngine) shutdownLocked() {
	stdin, proc := e.stdin, e.proc
	e.stdin, e.proc, e.dec = nil, nil, nil
	if stdin != nil {
		stdin.Close()
	}
	if proc == nil || proc.Process == nil {
		return
	}
	proc.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()
	select {
	case <-time.After(1200 * time.Millisecond):
		proc.Process.Kill()
		<-done
	case <-done:
	}
}

// procTail keeps the most recent stderr output of a worker process.
type procTail struct {
	mu  sync.Mutex
	buf []byte
}

func (t *procTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > 8<<10 {
		t.buf = t.buf[len(t.buf)-(8<<10):]
	}
	return len(p), nil
}

func (t *procTail) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
