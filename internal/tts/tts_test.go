package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"espeak", "openai", "piper", "print"}, Names())

	_, err := New("kokoro", Config{})
	require.ErrorIs(t, err, ErrUnknownEngine)

	_, err = New("openai", Config{})
	require.Error(t, err)
}

func TestPrint(t *testing.T) {
	var out bytes.Buffer
	e, err := New("print", Config{Out: &out})
	require.NoError(t, err)

	require.NoError(t, e.Speak(context.Background(), "Hello."))
	require.NoError(t, e.Speak(context.Background(), "   "))
	assert.Equal(t, "Hello.\n", out.String())
}

func TestPCMStreamer(t *testing.T) {
	var raw bytes.Buffer
	require.NoError(t, binary.Write(&raw, binary.LittleEndian, []int16{0, 16384, -32768}))
	raw.WriteByte(0x7f) // odd trailing byte is ignored

	s := NewPCMStreamer(raw.Bytes())

	buf := make([][2]float64, 2)
	n, ok := s.Stream(buf)
	assert.True(t, ok)
	assert.Equal(t, 2, n)
	assert.Equal(t, [2]float64{0.5, 0.5}, buf[1])

	n, ok = s.Stream(buf)
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, [2]float64{-1, -1}, buf[0])

	_, ok = s.Stream(buf)
	assert.False(t, ok)
	assert.NoError(t, s.Err())
}

type fakeDucker struct{ calls []string }

func (f *fakeDucker) Duck(context.Context) error {
	f.calls = append(f.calls, "duck")
	return errors.New("no pulseaudio")
}

func (f *fakeDucker) Unduck(context.Context) error {
	f.calls = append(f.calls, "unduck")
	return nil
}

func TestWithDucking(t *testing.T) {
	var out bytes.Buffer
	d := &fakeDucker{}
	e := WithDucking(NewPrint(&out), d)

	require.NoError(t, e.Speak(context.Background(), "hi"))
	require.NoError(t, e.Speak(context.Background(), ""))

	assert.Equal(t, []string{"duck", "unduck"}, d.calls)
	assert.Equal(t, "hi\n", out.String())

	p := NewPrint(&out)
	assert.Same(t, p, WithDucking(p, nil))
}
