package actions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luna/internal/store"
)

type fakeLauncher struct {
	urls []string
	apps []string
	err  error
}

func (f *fakeLauncher) OpenURL(_ context.Context, url string) error {
	f.urls = append(f.urls, url)
	return f.err
}

func (f *fakeLauncher) OpenApp(_ context.Context, command string) error {
	f.apps = append(f.apps, command)
	return f.err
}

func setup(t *testing.T) (*Registry, *store.Store, *fakeLauncher) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "luna.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	l := &fakeLauncher{}
	r := NewRegistry()
	require.NoError(t, Builtin(r, st, l, map[string]string{"browser": "firefox --new-window"}))
	return r, st, l
}

func TestNames(t *testing.T) {
	r, _, _ := setup(t)
	assert.Equal(t, []string{
		ChangeAssistantName, ChangeUserName, CloseTab, GetAssistantName,
		GetUserName, OpenApp, OpenTab, SearchWeb, Shutdown,
	}, r.Names())
	assert.True(t, r.Has(OpenApp))
	assert.False(t, r.Has("none"))

	cat := r.Catalogue()
	require.Len(t, cat, 9)
	assert.Equal(t, ChangeAssistantName, cat[0].Name)
	assert.Equal(t, "object", cat[0].Parameters["type"])
}

func TestChangeNames(t *testing.T) {
	r, st, _ := setup(t)
	ctx := context.Background()

	reply, err := r.Run(ctx, GetUserName, nil)
	require.NoError(t, err)
	assert.Equal(t, "Your name is Soumodeep.", reply)

	reply, err = r.Run(ctx, ChangeUserName, map[string]any{"new_name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Okay, I'll call you Ada now.", reply)
	assert.Equal(t, "Ada", st.UserName(ctx))

	reply, err = r.Run(ctx, ChangeAssistantName, map[string]any{"new_name": "Nova"})
	require.NoError(t, err)
	assert.Equal(t, "My new name is Nova.", reply)

	reply, err = r.Run(ctx, GetAssistantName, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "My name is Nova.", reply)
}

func TestMissingParameter(t *testing.T) {
	r, st, l := setup(t)
	ctx := context.Background()

	_, err := r.Run(ctx, ChangeUserName, map[string]any{"new_name": "  "})
	require.ErrorIs(t, err, ErrInvalidParams)

	var pe *ParamError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "I need the new name to do that.", pe.Sentence())
	assert.Equal(t, store.DefaultUserName, st.UserName(ctx))

	_, err = r.Run(ctx, OpenApp, nil)
	require.ErrorIs(t, err, ErrInvalidParams)
	assert.Empty(t, l.apps)
}

func TestWrongType(t *testing.T) {
	r, _, _ := setup(t)
	_, err := r.Run(context.Background(), SearchWeb, map[string]any{"query": 42})
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestUnknown(t *testing.T) {
	r, _, _ := setup(t)
	_, err := r.Run(context.Background(), "make_coffee", nil)
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestOpenApp(t *testing.T) {
	r, _, l := setup(t)
	ctx := context.Background()

	reply, err := r.Run(ctx, OpenApp, map[string]any{"app": "Browser"})
	require.NoError(t, err)
	assert.Equal(t, "Opening Browser.", reply)

	reply, err = r.Run(ctx, OpenApp, map[string]any{"app": "gimp"})
	require.NoError(t, err)
	assert.Equal(t, "Opening gimp.", reply)
	assert.Equal(t, []string{"firefox --new-window", "gimp"}, l.apps)

	l.err = errors.New("not found")
	reply, err = r.Run(ctx, OpenApp, map[string]any{"app": "nope"})
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I couldn't open nope. Error: not found", reply)
}

func TestBrowser(t *testing.T) {
	r, _, l := setup(t)
	ctx := context.Background()

	reply, err := r.Run(ctx, SearchWeb, map[string]any{"query": "go generics & you"})
	require.NoError(t, err)
	assert.Equal(t, "Here are the search results for go generics & you.", reply)

	reply, err = r.Run(ctx, OpenTab, map[string]any{"url": "example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Opening example.com in a new tab.", reply)

	_, err = r.Run(ctx, OpenTab, map[string]any{"url": "http://localhost:8080"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://www.google.com/search?q=go+generics+%26+you",
		"https://example.com",
		"http://localhost:8080",
	}, l.urls)

	reply, err = r.Run(ctx, CloseTab, nil)
	require.NoError(t, err)
	assert.Contains(t, reply, "not supported")
}

func TestShutdown(t *testing.T) {
	r, _, _ := setup(t)

	select {
	case <-r.ShutdownRequested():
		t.Fatal("shutdown requested too early")
	default:
	}

	reply, err := r.Run(context.Background(), Shutdown, nil)
	require.NoError(t, err)
	assert.Equal(t, "Okay, shutting down.", reply)

	select {
	case <-r.ShutdownRequested():
	default:
		t.Fatal("shutdown not requested")
	}

	// a second request must not panic on the closed channel
	r.RequestShutdown()
}

func TestRegisterRejectsIncomplete(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register(Action{Name: "x"}))
	require.Error(t, r.Register(Action{Run: func(context.Context, map[string]any) (string, error) { return "", nil }}))
}

func TestOpener(t *testing.T) {
	name, args := (&SystemLauncher{GOOS: "linux"}).opener("https://x")
	assert.Equal(t, "xdg-open", name)
	assert.Equal(t, []string{"https://x"}, args)

	name, _ = (&SystemLauncher{GOOS: "darwin"}).opener("https://x")
	assert.Equal(t, "open", name)

	name, args = (&SystemLauncher{GOOS: "windows"}).opener("https://x")
	assert.Equal(t, "cmd", name)
	assert.Equal(t, []string{"/c", "start", "", "https://x"}, args)
}
