package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"luna/pkg/audioconv"
)

const (
	GroqURL = "https://api.groq.com/openai/v1/"

	OpenAIModel = "whisper-1"
	GroqModel   = "whisper-large-v3"
)

func init() {
	Register("openai", func(cfg Config) (Recognizer, error) {
		if cfg.Model == "" {
			cfg.Model = OpenAIModel
		}
		return NewHosted("openai", cfg)
	})
	Register("groq", func(cfg Config) (Recognizer, error) {
		if cfg.Model == "" {
			cfg.Model = GroqModel
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = GroqURL
		}
		return NewHosted("groq", cfg)
	})
}

// Hosted sends audio to an OpenAI compatible transcription endpoint.
type Hosted struct {
	name     string
	model    string
	language string
	client   openai.Client
}

func NewHosted(name string, cfg Config) (*Hosted, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s transcription: missing API key", name)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Hosted{
		name:     name,
		model:    cfg.Model,
		language: cfg.Language,
		client:   openai.NewClient(opts...),
	}, nil
}

func (h *Hosted) Close() error { return nil }

func (h *Hosted) Transcribe(ctx context.Context, pcm16k []float32) (Result, error) {
	if len(pcm16k) == 0 {
		return Result{}, ErrNoAudio
	}

	data, err := audioconv.EncodeWAV(pcm16k, audioconv.TargetRate)
	if err != nil {
		return Result{}, err
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(data), "speech.wav", "audio/wav"),
		Model: openai.AudioModel(h.model),
	}
	if h.language != "" && h.language != "auto" {
		params.Language = openai.String(h.language)
	}

	resp, err := h.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("%s transcription: %w", h.name, err)
	}

	return Result{Text: strings.TrimSpace(resp.Text), Language: h.language}, nil
}
