package assistant

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luna/internal/actions"
	"luna/internal/config"
	"luna/internal/llm"
	"luna/internal/nlu"
	"luna/internal/store"
)

type fakeBackend struct {
	name  string
	tools bool
	resp  []llm.Response
	err   error
	reqs  []llm.Request
}

func (f *fakeBackend) Name() string        { return f.name }
func (f *fakeBackend) Model() string       { return "fake-model" }
func (f *fakeBackend) SupportsTools() bool { return f.tools }

func (f *fakeBackend) Chat(_ context.Context, req llm.Request) (llm.Response, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return llm.Response{}, f.err
	}
	if len(f.resp) == 0 {
		return llm.Response{}, llm.ErrEmptyResponse
	}
	r := f.resp[0]
	f.resp = f.resp[1:]
	return r, nil
}

type fakeLauncher struct{ urls, apps []string }

func (f *fakeLauncher) OpenURL(_ context.Context, u string) error {
	f.urls = append(f.urls, u)
	return nil
}

func (f *fakeLauncher) OpenApp(_ context.Context, c string) error {
	f.apps = append(f.apps, c)
	return nil
}

type fakeSpeaker struct{ said []string }

func (f *fakeSpeaker) Speak(_ context.Context, text string) error {
	f.said = append(f.said, text)
	return nil
}

type fixture struct {
	a       *Assistant
	st      *store.Store
	backend *fakeBackend
	launch  *fakeLauncher
	speaker *fakeSpeaker
	out     *bytes.Buffer
}

func newFixture(t *testing.T, b *fakeBackend) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "luna.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	l := &fakeLauncher{}
	reg := actions.NewRegistry()
	require.NoError(t, actions.Builtin(reg, st, l, nil))

	f := &fixture{st: st, backend: b, launch: l, speaker: &fakeSpeaker{}, out: &bytes.Buffer{}}
	f.a = New(Options{
		Store:        st,
		Actions:      reg,
		Backend:      b,
		Speaker:      f.speaker,
		Out:          f.out,
		HistoryTurns: 6,
	})
	return f
}

func TestAskToolCall(t *testing.T) {
	f := newFixture(t, &fakeBackend{name: "groq", tools: true, resp: []llm.Response{{
		ToolCalls: []llm.ToolCall{{ID: "1", Name: actions.SearchWeb, Arguments: map[string]any{"query": "weather"}}},
	}}})

	d := f.a.Ask(context.Background(), "search the weather")

	assert.Equal(t, "Here are the search results for weather.", d.Reply)
	assert.Equal(t, actions.SearchWeb, d.Action)
	assert.Equal(t, "weather", d.Parameters["query"])
	assert.Equal(t, []string{"https://www.google.com/search?q=weather"}, f.launch.urls)

	req := f.backend.reqs[0]
	assert.Len(t, req.Tools, 9)
	assert.False(t, req.JSONOnly)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "You can call tools if needed.")
	assert.Contains(t, req.Messages[0].Content, "User command: search the weather")
}

func TestAskToolPlainReply(t *testing.T) {
	f := newFixture(t, &fakeBackend{name: "openai", tools: true, resp: []llm.Response{{Content: "Hello!"}}})

	d := f.a.Ask(context.Background(), "hi")
	assert.Equal(t, nlu.Decision{Reply: "Hello!", Action: nlu.ActionNone, Parameters: map[string]any{}}, d)
}

func TestAskJSONMode(t *testing.T) {
	f := newFixture(t, &fakeBackend{name: "ollama", resp: []llm.Response{
		{Content: `{"reply": "Sure.", "action": "change_user_name", "parameters": {"new_name": "Ada"}}`},
		{Content: "```json\n{\"reply\": \"Hm.\", \"action\": \"get_user_name\", \"parameters\": {}}\n```"},
	}})
	ctx := context.Background()

	d := f.a.Ask(ctx, "call me ada")
	assert.Equal(t, "Okay, I'll call you Ada now.", d.Reply)
	assert.Equal(t, "Ada", f.st.UserName(ctx))

	req := f.backend.reqs[0]
	assert.True(t, req.JSONOnly)
	assert.Empty(t, req.Tools)
	assert.Contains(t, req.Messages[0].Content, "'open_app'")
	assert.Contains(t, req.Messages[0].Content, "'none'")

	// parameterless actions run too
	d = f.a.Ask(ctx, "what is my name")
	assert.Equal(t, "Your name is Ada.", d.Reply)
	assert.Equal(t, actions.GetUserName, d.Action)
}

func TestAskJSONModeMissingParam(t *testing.T) {
	f := newFixture(t, &fakeBackend{name: "ollama", resp: []llm.Response{
		{Content: `{"reply": "Opening.", "action": "open_app", "parameters": {}}`},
	}})

	d := f.a.Ask(context.Background(), "open something")
	assert.Equal(t, "I need the app to do that.", d.Reply)
	assert.Empty(t, f.launch.apps)
}

func TestAskJSONModeGarbage(t *testing.T) {
	f := newFixture(t, &fakeBackend{name: "ollama", resp: []llm.Response{{Content: "I am not JSON"}}})

	d := f.a.Ask(context.Background(), "hello")
	assert.Equal(t, nlu.ReplyInvalidJSON, d.Reply)
	assert.Equal(t, nlu.ActionNone, d.Action)
}

func TestAskBackendError(t *testing.T) {
	f := newFixture(t, &fakeBackend{name: "groq", tools: true, err: errors.New("503")})

	d := f.a.Ask(context.Background(), "hello")
	assert.Equal(t, ReplyBackendError, d.Reply)
	assert.Equal(t, nlu.ActionNone, d.Action)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, &fakeBackend{name: "openai", tools: true, resp: []llm.Response{
		{Content: "one"}, {Content: "two"}, {Content: "three"}, {Content: "four"}, {Content: "five"},
	}})
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c", "d", "e"} {
		f.a.Ask(ctx, u)
	}

	last := f.backend.reqs[4].Messages
	// six remembered turns plus the new prompt
	require.Len(t, last, 7)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "b"}, last[0])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "four"}, last[5])
	assert.True(t, strings.HasSuffix(last[6].Content, "User command: e"))
}

func TestRespondSpeaks(t *testing.T) {
	f := newFixture(t, &fakeBackend{name: "openai", tools: true, resp: []llm.Response{{Content: "Hello there."}}})
	ctx := context.Background()
	require.NoError(t, f.st.Set(ctx, store.KeyAssistantName, "nova"))

	_, err := f.a.Respond(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello there."}, f.speaker.said)
	assert.Equal(t, "Nova: Hello there.\n", f.out.String())
}

func TestShutdownAction(t *testing.T) {
	f := newFixture(t, &fakeBackend{name: "groq", tools: true, resp: []llm.Response{{
		ToolCalls: []llm.ToolCall{{Name: actions.Shutdown, Arguments: map[string]any{}}},
	}}})

	d := f.a.Ask(context.Background(), "turn off")
	assert.Equal(t, "Okay, shutting down.", d.Reply)

	select {
	case <-f.a.Actions().ShutdownRequested():
	default:
		t.Fatal("shutdown not requested")
	}
}

func TestValidate(t *testing.T) {
	good := &fakeBackend{name: "groq", tools: true, resp: []llm.Response{{Content: "Pong! How can I help?"}}}
	bad := &fakeBackend{name: "openai", tools: true, resp: []llm.Response{{Content: "Error: invalid key"}}}

	f := newFixture(t, &fakeBackend{name: "ollama"})
	f.a.connect = func(provider, key string) (llm.Backend, error) {
		switch provider {
		case llm.Groq:
			assert.Equal(t, "gsk-1", key)
			return good, nil
		case llm.OpenAI:
			return bad, nil
		}
		return nil, llm.ErrUnknownProvider
	}
	ctx := context.Background()

	err := f.a.Validate(ctx, "OpenAI", "sk")
	require.ErrorIs(t, err, ErrValidation)
	name, _, _ := f.st.Provider(ctx)
	assert.Empty(t, name)

	require.ErrorIs(t, f.a.Validate(ctx, "nope", ""), ErrValidation)

	require.NoError(t, f.a.Validate(ctx, "groq", "gsk-1"))
	name, key, err := f.st.Provider(ctx)
	require.NoError(t, err)
	assert.Equal(t, "groq", name)
	assert.Equal(t, "gsk-1", key)
	assert.Same(t, good, f.a.Backend())

	// the ping offers no tools so nothing can run
	assert.Empty(t, good.reqs[0].Tools)
}

func TestAcceptable(t *testing.T) {
	assert.True(t, Acceptable("Pong."))
	assert.False(t, Acceptable("ok"))
	assert.False(t, Acceptable("  "))
	assert.False(t, Acceptable(ReplyBackendError))
	assert.False(t, Acceptable(nlu.ReplyNotUnderstood))
	assert.False(t, Acceptable(nlu.ReplyInvalidJSON))
	assert.False(t, Acceptable("Could not reach the model"))
}

func TestSelectProvider(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "luna.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	cfg := config.Config{Provider: "openrouter", OpenRouterKey: "or", GroqKey: "gk"}

	assert.Equal(t, Selection{Provider: "groq", APIKey: "gk", Source: "flag"}, SelectProvider(ctx, "Groq", st, cfg))
	assert.Equal(t, Selection{Provider: "openrouter", APIKey: "or", Source: "env"}, SelectProvider(ctx, "", st, cfg))
	assert.Equal(t, Selection{Provider: "ollama", Source: "default"}, SelectProvider(ctx, "", st, config.Config{}))

	require.NoError(t, st.SaveProvider(ctx, "groq", "saved"))
	assert.Equal(t, Selection{Provider: "groq", APIKey: "saved", Source: "store"}, SelectProvider(ctx, "", st, cfg))

	require.NoError(t, st.SaveProvider(ctx, "groq", ""))
	assert.Equal(t, "gk", SelectProvider(ctx, "", st, cfg).APIKey)
}

func TestNiceName(t *testing.T) {
	assert.Equal(t, "Luna", NiceName("luna", "Luna"))
	assert.Equal(t, "Luna", NiceName("  ", "Luna"))
	assert.Equal(t, "Ángel", NiceName("ángel", "Luna"))
	assert.Equal(t, "NOVA", NiceName("NOVA", "Luna"))
}
