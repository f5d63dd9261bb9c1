//go:build !espeak_cgo

package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

func init() {
	Register("espeak", func(cfg Config) (Engine, error) {
		return &Espeak{binary: "espeak-ng", voice: cfg.Voice}, nil
	})
}

// Espeak runs the espeak-ng binary and plays the WAV it writes to stdout.
type Espeak struct {
	binary string
	voice  string
}

func (e *Espeak) args(text string) []string {
	args := []string{"--stdout"}
	if e.voice != "" {
		args = append(args, "-v", e.voice)
	}
	return append(args, "--", text)
}

func (e *Espeak) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, e.args(text)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("espeak-ng: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return PlayWAV(ctx, &stdout)
}

func (e *Espeak) Close() error { return nil }
