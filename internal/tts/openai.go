package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIModel = "gpt-4o-mini-tts"
	OpenAIVoice = "alloy"
)

func init() {
	Register("openai", func(cfg Config) (Engine, error) {
		return NewOpenAI(cfg, "")
	})
}

// OpenAI speaks through the hosted speech endpoint.
type OpenAI struct {
	client openai.Client
	voice  string
}

func NewOpenAI(cfg Config, baseURL string) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai tts: missing API key")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	voice := cfg.Voice
	if voice == "" {
		voice = OpenAIVoice
	}
	return &OpenAI{client: openai.NewClient(opts...), voice: voice}, nil
}

// Synthesize returns the speech as a WAV file.
func (o *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := o.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(OpenAIModel),
		Voice:          openai.AudioSpeechNewParamsVoice(o.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}
	return data, nil
}

func (o *OpenAI) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	data, err := o.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	return PlayWAV(ctx, bytes.NewReader(data))
}

func (o *OpenAI) Close() error { return nil }
