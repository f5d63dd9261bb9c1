package voice

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luna/internal/actions"
	"luna/internal/assistant"
	"luna/internal/audio"
	"luna/internal/llm"
	"luna/internal/store"
	"luna/pkg/stt"
)

// fakeMic hands out one scripted transcript per Listen call; "" means
// nobody spoke.
type fakeMic struct {
	mu      sync.Mutex
	script  []string
	listens int
	onEmpty func()

	// calibrated records whether Calibrate ran, and spoken what had been
	// said by then.
	calibrated bool
	spoken     int
	rec        *recorder
}

func (m *fakeMic) Calibrate(context.Context, time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibrated = true
	if m.rec != nil {
		m.spoken = len(m.rec.lines())
	}
	return nil
}

func (m *fakeMic) Listen(ctx context.Context, _, _ time.Duration) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listens++
	if len(m.script) == 0 {
		if m.onEmpty != nil {
			m.onEmpty()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := m.script[0]
	m.script = m.script[1:]
	if next == "" {
		return nil, audio.ErrNoSpeech
	}
	return []float32{float32(len(next))}, nil
}

// fakeSTT returns what fakeMic scripted, keyed by call order.
type fakeSTT struct{ texts []string }

func (s *fakeSTT) Transcribe(_ context.Context, _ []float32) (stt.Result, error) {
	if len(s.texts) == 0 {
		return stt.Result{}, errors.New("nothing scripted")
	}
	t := s.texts[0]
	s.texts = s.texts[1:]
	return stt.Result{Text: t}, nil
}

type echoBackend struct {
	mu    sync.Mutex
	heard []string
	calls []llm.ToolCall
}

func (b *echoBackend) Name() string        { return "fake" }
func (b *echoBackend) Model() string       { return "fake" }
func (b *echoBackend) SupportsTools() bool { return true }

func (b *echoBackend) Chat(_ context.Context, req llm.Request) (llm.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heard = append(b.heard, req.Messages[len(req.Messages)-1].Content)
	if len(b.calls) > 0 {
		c := b.calls[0]
		b.calls = b.calls[1:]
		return llm.Response{ToolCalls: []llm.ToolCall{c}}, nil
	}
	return llm.Response{Content: "Sure thing."}, nil
}

type recorder struct {
	mu   sync.Mutex
	said []string
}

func (r *recorder) Speak(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.said = append(r.said, text)
	return nil
}

func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.said...)
}

func newLoop(t *testing.T, b *echoBackend, mic *fakeMic, texts ...string) (*Loop, *recorder, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "luna.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := actions.NewRegistry()
	require.NoError(t, actions.Builtin(reg, st, nopLauncher{}, nil))

	rec := &recorder{}
	mic.rec = rec
	a := assistant.New(assistant.Options{Store: st, Actions: reg, Backend: b, Speaker: rec})

	l := NewLoop(a, mic, &fakeSTT{texts: texts})
	l.IdlePause = time.Millisecond
	return l, rec, st
}

type nopLauncher struct{}

func (nopLauncher) OpenURL(context.Context, string) error { return nil }
func (nopLauncher) OpenApp(context.Context, string) error { return nil }

func TestLoopShutdownPhrase(t *testing.T) {
	b := &echoBackend{}
	mic := &fakeMic{script: []string{"", "x", "x"}}
	l, rec, _ := newLoop(t, b, mic, "What time is it", "Please STOP LISTENING now")

	require.NoError(t, l.Run(context.Background()))

	assert.Equal(t, []string{
		"Hi Soumodeep. I am Luna, your personal assistant.",
		"Sure thing.",
		ReplyGoodbye,
	}, rec.lines())
	require.Len(t, b.heard, 1)
	assert.Contains(t, b.heard[0], "User command: what time is it")
}

func TestLoopShutdownAction(t *testing.T) {
	b := &echoBackend{calls: []llm.ToolCall{{Name: actions.Shutdown, Arguments: map[string]any{}}}}
	mic := &fakeMic{script: []string{"x", "x"}}
	l, rec, _ := newLoop(t, b, mic, "turn yourself off", "never heard")

	require.NoError(t, l.Run(context.Background()))

	assert.Equal(t, "Okay, shutting down.", rec.lines()[1])
	assert.Equal(t, 1, mic.listens)
}

func TestLoopInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mic := &fakeMic{onEmpty: cancel}
	l, rec, _ := newLoop(t, &echoBackend{}, mic)

	require.NoError(t, l.Run(ctx))

	lines := rec.lines()
	assert.Equal(t, ReplyInterrupted, lines[len(lines)-1])
}

func TestLoopOnce(t *testing.T) {
	mic := &fakeMic{script: []string{"", "x", "x"}}
	l, rec, _ := newLoop(t, &echoBackend{}, mic, "hello", "again")
	l.Once = true

	require.NoError(t, l.Run(context.Background()))
	assert.Len(t, rec.lines(), 2)
	assert.Equal(t, 2, mic.listens)
}

func TestLoopMuted(t *testing.T) {
	mic := &fakeMic{script: []string{"x"}}
	l, rec, st := newLoop(t, &echoBackend{}, mic, "hello")
	l.Once = true
	ctx := context.Background()
	require.NoError(t, st.SetMuted(ctx, true))

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// muted: the greeting is spoken but nothing is recorded
	require.Eventually(t, func() bool { return len(rec.lines()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	mic.mu.Lock()
	assert.Zero(t, mic.listens)
	mic.mu.Unlock()

	require.NoError(t, st.SetMuted(ctx, false))
	l.Wake()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not resume after unmute")
	}
	assert.Equal(t, "Sure thing.", rec.lines()[1])
}

func TestLoopTriggerWhileMuted(t *testing.T) {
	mic := &fakeMic{script: []string{"x"}}
	l, rec, st := newLoop(t, &echoBackend{}, mic, "hello")
	l.Once = true
	ctx := context.Background()
	require.NoError(t, st.SetMuted(ctx, true))

	l.Trigger()
	require.NoError(t, l.Run(ctx))
	assert.Equal(t, "Sure thing.", rec.lines()[1])
	assert.True(t, st.Muted(ctx))
}

func TestLoopCalibratesBeforeGreeting(t *testing.T) {
	mic := &fakeMic{script: []string{"x"}}
	l, rec, _ := newLoop(t, &echoBackend{}, mic, "hello")
	l.Once = true

	require.NoError(t, l.Run(context.Background()))

	assert.True(t, mic.calibrated)
	assert.Zero(t, mic.spoken)
	assert.Equal(t, "Hi Soumodeep. I am Luna, your personal assistant.", rec.lines()[0])
}

func TestIsShutdownPhrase(t *testing.T) {
	assert.True(t, IsShutdownPhrase("luna shutdown yourself please"))
	assert.True(t, IsShutdownPhrase("Stop Listening"))
	assert.False(t, IsShutdownPhrase("shut the door"))
}
