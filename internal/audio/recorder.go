package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	SampleRate = 16000
	frameSize  = 320 // 20ms
	frameDur   = 20 * time.Millisecond

	DefaultThreshold = 0.015
	minThreshold     = 0.005
	// speech ends after this much quiet
	pauseDuration = 800 * time.Millisecond
	// ambient level is scaled by this to get the speech threshold
	ambientRatio = 1.5
)

var ErrNoSpeech = errors.New("no speech before timeout")

// Recorder captures 16 kHz mono speech from the default input device.
type Recorder struct {
	mu        sync.Mutex
	threshold float64
}

func NewRecorder() *Recorder { return &Recorder{threshold: DefaultThreshold} }

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

func (r *Recorder) Threshold() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

// Calibrate measures ambient noise for d and sets the speech threshold
// above it.
func (r *Recorder) Calibrate(ctx context.Context, d time.Duration) error {
	var (
		sum    float64
		frames int
	)

	err := r.capture(ctx, func(frame []float32) bool {
		sum += frameRMS(frame)
		frames++
		return time.Duration(frames)*frameDur >= d
	})
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}

	threshold := thresholdFor(sum, frames)

	r.mu.Lock()
	r.threshold = threshold
	r.mu.Unlock()

	log.Info("Calibrated microphone", "threshold", threshold)
	return nil
}

// Listen waits up to startTimeout for speech, then records until a pause
// or until phraseLimit. It returns ErrNoSpeech when nobody spoke.
func (r *Recorder) Listen(ctx context.Context, startTimeout, phraseLimit time.Duration) ([]float32, error) {
	det := newDetector(r.Threshold(), startTimeout, phraseLimit)

	var detErr error
	err := r.capture(ctx, func(frame []float32) bool {
		done, err := det.push(frame)
		detErr = err
		return done
	})
	if err != nil {
		return nil, err
	}
	if detErr != nil {
		return nil, detErr
	}
	return det.out, nil
}

// capture feeds frames to fn until it returns true or ctx ends.
func (r *Recorder) capture(ctx context.Context, fn func([]float32) bool) error {
	buf := make([]float32, frameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	defer stream.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return fmt.Errorf("read input stream: %w", err)
		}
		if fn(buf) {
			return nil
		}
	}
}

// detector splits a frame stream into one utterance.
type detector struct {
	threshold   float64
	startFrames int
	limitFrames int
	pauseFrames int

	waited   int
	recorded int
	quiet    int
	speaking bool
	out      []float32
}

func newDetector(threshold float64, startTimeout, phraseLimit time.Duration) *detector {
	d := &detector{
		threshold:   threshold,
		startFrames: int(startTimeout / frameDur),
		limitFrames: int(phraseLimit / frameDur),
		pauseFrames: int(pauseDuration / frameDur),
	}
	if d.startFrames <= 0 {
		d.startFrames = math.MaxInt
	}
	if d.limitFrames <= 0 {
		d.limitFrames = math.MaxInt
	}
	return d
}

func (d *detector) push(frame []float32) (bool, error) {
	loud := frameRMS(frame) > d.threshold

	if !d.speaking {
		if !loud {
			d.waited++
			if d.waited >= d.startFrames {
				return true, ErrNoSpeech
			}
			return false, nil
		}
		d.speaking = true
	}

	d.out = append(d.out, frame...)
	d.recorded++

	if loud {
		d.quiet = 0
	} else {
		d.quiet++
	}

	return d.quiet >= d.pauseFrames || d.recorded >= d.limitFrames, nil
}

func thresholdFor(sum float64, frames int) float64 {
	if frames == 0 {
		return DefaultThreshold
	}
	return math.Max(sum/float64(frames)*ambientRatio, minThreshold)
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
