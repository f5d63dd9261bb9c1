package tts

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

func init() {
	Register("print", func(cfg Config) (Engine, error) {
		return NewPrint(cfg.Out), nil
	})
}

// Print writes text instead of speaking it; used without audio hardware.
type Print struct {
	out io.Writer
}

func NewPrint(out io.Writer) *Print {
	if out == nil {
		out = os.Stdout
	}
	return &Print{out: out}
}

func (p *Print) Speak(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := fmt.Fprintln(p.out, text)
	return err
}

func (p *Print) Close() error { return nil }
