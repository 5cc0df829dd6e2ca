package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/mattn/go-shellwords"
)

// execPlatform drives the operating system's speech command, the platform
// synthesizer of a headless runtime. The command is a template; {voice},
// {rate}, {wpm} and {text} are substituted per utterance.
type execPlatform struct {
	cmd     []string
	listCmd []string
	log     *slog.Logger

	mu     sync.Mutex
	voices []Voice
	listed bool
}

func NewExecPlatform(cfg config.LocalSynthConfig, log *slog.Logger) (Platform, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("speech command empty")
	}
	var listArgs []string
	if cfg.ListCommand != "" {
		listArgs, err = parser.Parse(cfg.ListCommand)
		if err != nil {
			return nil, fmt.Errorf("parse voice list command: %w", err)
		}
	}
	return &execPlatform{
		cmd:     args,
		listCmd: listArgs,
		log:     log.With(slog.String("component", "platform-tts")),
	}, nil
}

// Voices lists the platform voices, caching the first successful listing
// for the process lifetime.
func (p *execPlatform) Voices(ctx context.Context) ([]Voice, error) {
	p.mu.Lock()
	if p.listed {
		vs := p.voices
		p.mu.Unlock()
		return vs, nil
	}
	p.mu.Unlock()

	if len(p.listCmd) == 0 {
		return nil, nil
	}
	out, err := exec.CommandContext(ctx, p.listCmd[0], p.listCmd[1:]...).Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Warn("voice listing failed", slogError(err))
		return nil, fmt.Errorf("list voices: %w", err)
	}
	voices := parseVoiceList(string(out))

	p.mu.Lock()
	p.voices = voices
	p.listed = true
	p.mu.Unlock()
	return voices, nil
}

// Speak runs the speech command and blocks until it exits. A fired ctx
// kills the process, which serves as the engine-wide stop.
func (p *execPlatform) Speak(ctx context.Context, utt Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	args := buildSpeakArgs(p.cmd, utt)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("platform speech: %w", err)
	}
	return nil
}

// buildSpeakArgs renders the command template. A token that expands to
// nothing is dropped together with its preceding switch, so an unset voice
// leaves the platform default in charge. Text is appended when the template
// carries no {text} placeholder.
func buildSpeakArgs(template []string, utt Utterance) []string {
	wpm := strconv.Itoa(int(math.Round(175 * utt.Rate)))
	rate := strconv.FormatFloat(utt.Rate, 'f', -1, 64)
	replacer := strings.NewReplacer(
		"{voice}", utt.Voice,
		"{rate}", rate,
		"{wpm}", wpm,
		"{text}", utt.Text,
	)

	hasText := false
	out := make([]string, 0, len(template)+1)
	for _, tok := range template {
		if strings.Contains(tok, "{text}") {
			hasText = true
		}
		expanded := replacer.Replace(tok)
		if expanded == "" && tok != "" {
			if n := len(out); n > 0 && strings.HasPrefix(out[n-1], "-") {
				out = out[:n-1]
			}
			continue
		}
		out = append(out, expanded)
	}
	if !hasText {
		out = append(out, utt.Text)
	}
	return out
}

// parseVoiceList reads the columnar output of a voice listing command
// (espeak-ng --voices, say -v ?). The first column must be numeric or the
// line is treated as a header and skipped.
func parseVoiceList(out string) []Voice {
	var voices []Voice
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue
		}
		voices = append(voices, Voice{
			ID:   fields[3],
			Name: fields[3],
			Lang: fields[1],
		})
	}
	if len(voices) > 0 {
		voices[0].Default = true
	}
	return voices
}
