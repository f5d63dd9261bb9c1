// Package stt turns 16 kHz mono speech into text.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNoAudio        = errors.New("no audio samples provided")
	ErrUnknownBackend = errors.New("unknown stt backend")
)

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string
}

// Recognizer transcribes one utterance. pcm16k is mono float32 in [-1, 1].
type Recognizer interface {
	Transcribe(ctx context.Context, pcm16k []float32) (Result, error)
	Close() error
}

// Config selects and tunes a backend.
type Config struct {
	Language  string
	ModelPath string
	APIKey    string
	BaseURL   string
	Model     string

	HTTPClient *http.Client
}

type Factory func(cfg Config) (Recognizer, error)

var (
	mu       sync.RWMutex
	backends = map[string]Factory{}
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	backends[strings.ToLower(name)] = f
}

func New(name string, cfg Config) (Recognizer, error) {
	mu.RLock()
	f, ok := backends[strings.ToLower(name)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownBackend, name, strings.Join(Names(), ", "))
	}
	return f(cfg)
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func joinSegments(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
