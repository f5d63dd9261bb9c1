package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const DefaultPiperRate = 22050

func init() {
	Register("piper", func(cfg Config) (Engine, error) {
		return NewPiper(cfg.PiperBinary, cfg.PiperModel, cfg.PiperRate), nil
	})
}

// Piper runs the piper binary and plays its raw output.
type Piper struct {
	binary string
	model  string
	rate   int
}

func NewPiper(binary, model string, rate int) *Piper {
	if binary == "" {
		binary = "piper"
	}
	if model == "" {
		model = "./models/en_US-amy-medium.onnx"
	}
	if rate <= 0 {
		rate = DefaultPiperRate
	}
	return &Piper{binary: binary, model: model, rate: rate}
}

func (p *Piper) Synthesize(ctx context.Context, text string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.binary, "--model", p.model, "--output-raw")
	cmd.Stdin = strings.NewReader(text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("piper: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (p *Piper) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pcm, err := p.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	return PlayPCM(ctx, pcm, p.rate)
}

func (p *Piper) Close() error { return nil }
