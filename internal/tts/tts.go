// Package tts speaks text through one of several engines.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownEngine = errors.New("unknown tts engine")

// Engine speaks text and returns once playback is done.
type Engine interface {
	Speak(ctx context.Context, text string) error
	Close() error
}

type Config struct {
	Voice string

	PiperBinary string
	PiperModel  string
	PiperRate   int

	APIKey     string
	HTTPClient *http.Client

	// Out receives the text of the print engine.
	Out io.Writer
}

type Factory func(cfg Config) (Engine, error)

var (
	mu      sync.RWMutex
	engines = map[string]Factory{}
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	engines[strings.ToLower(name)] = f
}

func New(name string, cfg Config) (Engine, error) {
	mu.RLock()
	f, ok := engines[strings.ToLower(name)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownEngine, name, strings.Join(Names(), ", "))
	}
	return f(cfg)
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(engines))
	for n := range engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Ducker lowers other audio while the assistant talks.
type Ducker interface {
	Duck(ctx context.Context) error
	Unduck(ctx context.Context) error
}

type ducked struct {
	Engine
	d Ducker
}

// WithDucking wraps e so other streams are ducked during speech.
func WithDucking(e Engine, d Ducker) Engine {
	if d == nil {
		return e
	}
	return &ducked{Engine: e, d: d}
}

func (e *ducked) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := e.d.Duck(ctx); err != nil {
		log.Warn("Could not duck other audio", "err", err)
	}
	defer func() {
		// restore even when ctx is already cancelled
		if err := e.d.Unduck(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Could not restore other audio", "err", err)
		}
	}()
	return e.Engine.Speak(ctx, text)
}
