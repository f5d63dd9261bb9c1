package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

const PlaybackRate = beep.SampleRate(44100)

var (
	speakerOnce sync.Once
	speakerErr  error
	playMu      sync.Mutex
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(PlaybackRate, PlaybackRate.N(time.Second/10))
	})
	return speakerErr
}

// Play streams s to the default output and blocks until it ends or ctx is
// cancelled.
func Play(ctx context.Context, s beep.Streamer, rate beep.SampleRate) error {
	if err := initSpeaker(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	playMu.Lock()
	defer playMu.Unlock()

	if rate != PlaybackRate {
		s = beep.Resample(4, rate, PlaybackRate, s)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// PlayWAV decodes and plays a WAV stream.
func PlayWAV(ctx context.Context, r io.Reader) error {
	s, format, err := wav.Decode(r)
	if err != nil {
		return fmt.Errorf("decode wav: %w", err)
	}
	defer s.Close()
	return Play(ctx, s, format.SampleRate)
}

// PlayPCM plays raw 16-bit little endian mono samples.
func PlayPCM(ctx context.Context, data []byte, rate int) error {
	return Play(ctx, NewPCMStreamer(data), beep.SampleRate(rate))
}

// PCMStreamer feeds 16-bit mono samples to beep as stereo frames.
type PCMStreamer struct {
	samples []int16
	pos     int
}

func NewPCMStreamer(data []byte) *PCMStreamer {
	samples := make([]int16, len(data)/2)
	_ = binary.Read(bytes.NewReader(data[:len(samples)*2]), binary.LittleEndian, samples)
	return &PCMStreamer{samples: samples}
}

func (p *PCMStreamer) Stream(buf [][2]float64) (int, bool) {
	if p.pos >= len(p.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && p.pos < len(p.samples) {
		v := float64(p.samples[p.pos]) / 32768
		buf[n][0], buf[n][1] = v, v
		n++
		p.pos++
	}
	return n, true
}

func (p *PCMStreamer) Err() error { return nil }
