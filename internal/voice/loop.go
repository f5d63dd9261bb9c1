// Package voice runs the always-listening conversation loop.
package voice

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"luna/internal/assistant"
	"luna/internal/audio"
	"luna/internal/notify"
	"luna/pkg/stt"
)

const (
	StartTimeout = 5 * time.Second
	PhraseLimit  = 7 * time.Second
	IdlePause    = 500 * time.Millisecond
	Calibration  = time.Second

	ReplyGoodbye     = "Shutting down. Goodbye."
	ReplyInterrupted = "Interrupted by user. Exiting."
)

var shutdownPhrases = []string{"shutdown yourself", "stop listening"}

// Mic records one utterance at a time.
type Mic interface {
	Calibrate(ctx context.Context, d time.Duration) error
	Listen(ctx context.Context, startTimeout, phraseLimit time.Duration) ([]float32, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm16k []float32) (stt.Result, error)
}

// Loop listens, transcribes and answers until shut down.
type Loop struct {
	Assistant *assistant.Assistant
	Mic       Mic
	STT       Transcriber
	Notifier  *notify.Notifier

	StartTimeout time.Duration
	PhraseLimit  time.Duration
	IdlePause    time.Duration
	// Once stops after the first answered utterance.
	Once bool

	wake    chan struct{}
	trigger chan struct{}
}

func NewLoop(a *assistant.Assistant, mic Mic, rec Transcriber) *Loop {
	return &Loop{
		Assistant:    a,
		Mic:          mic,
		STT:          rec,
		StartTimeout: StartTimeout,
		PhraseLimit:  PhraseLimit,
		IdlePause:    IdlePause,
		wake:         make(chan struct{}, 1),
		trigger:      make(chan struct{}, 1),
	}
}

// Wake makes a muted loop re-check its mute state.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Trigger listens for one utterance now, even when muted.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
	l.Wake()
}

func (l *Loop) Run(ctx context.Context) error {
	st := l.Assistant.Store()
	shutdown := l.Assistant.Actions().ShutdownRequested()

	log.Info("Adjusting for background noise")
	if err := l.Mic.Calibrate(ctx, Calibration); err != nil && ctx.Err() == nil {
		log.Warn("Calibration failed, using default threshold", "err", err)
	}

	greeting := fmt.Sprintf("Hi %s. I am %s, your personal assistant.", st.UserName(ctx), st.AssistantName(ctx))
	l.say(ctx, greeting)

	silent := false
	for {
		select {
		case <-ctx.Done():
			l.say(context.WithoutCancel(ctx), ReplyInterrupted)
			return nil
		case <-shutdown:
			return nil
		default:
		}

		forced := l.takeTrigger()
		if !forced && st.Muted(ctx) {
			l.waitWake(ctx, shutdown)
			continue
		}
		if forced {
			l.Notifier.Listening(ctx)
		}

		if !silent {
			log.Info("Listening for speech")
		}

		text, err := l.hear(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, audio.ErrNoSpeech) {
				log.Warn("Could not hear", "err", err)
			}
			silent = true
			l.pause(ctx)
			continue
		}
		silent = false

		log.Info("Heard", "text", text)

		if IsShutdownPhrase(text) {
			l.say(ctx, ReplyGoodbye)
			return nil
		}

		if _, err := l.Assistant.Respond(ctx, text); err != nil {
			log.Warn("Could not speak reply", "err", err)
		}

		if l.Once {
			return nil
		}
	}
}

// hear records and transcribes one lowercased utterance.
func (l *Loop) hear(ctx context.Context) (string, error) {
	pcm, err := l.Mic.Listen(ctx, l.StartTimeout, l.PhraseLimit)
	if err != nil {
		return "", err
	}

	res, err := l.STT.Transcribe(ctx, pcm)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	text := strings.ToLower(strings.TrimSpace(res.Text))
	if text == "" {
		return "", audio.ErrNoSpeech
	}
	return text, nil
}

func (l *Loop) say(ctx context.Context, text string) {
	if err := l.Assistant.Say(ctx, text); err != nil {
		log.Warn("Could not speak", "err", err)
	}
}

func (l *Loop) takeTrigger() bool {
	select {
	case <-l.trigger:
		return true
	default:
		return false
	}
}

func (l *Loop) waitWake(ctx context.Context, shutdown <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-shutdown:
	case <-l.wake:
	}
}

func (l *Loop) pause(ctx context.Context) {
	t := time.NewTimer(l.IdlePause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// IsShutdownPhrase reports whether text asks the loop itself to stop.
func IsShutdownPhrase(text string) bool {
	text = strings.ToLower(text)
	for _, p := range shutdownPhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
