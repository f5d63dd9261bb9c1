package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"sync"

	"luna/internal/actions"
	"luna/internal/llm"
	"luna/internal/nlu"
	"luna/internal/store"
)

const (
	ReplyBackendError = "There was an error understanding you."

	DefaultSession = "default"
)

// Speaker turns text into sound.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Connector builds a backend for a provider and key.
type Connector func(provider, apiKey string) (llm.Backend, error)

type Options struct {
	Store   *store.Store
	Actions *actions.Registry
	Backend llm.Backend
	// Speaker may be nil for text only use.
	Speaker Speaker
	// Out receives "Name: reply" lines when set.
	Out io.Writer

	Session      string
	HistoryTurns int
	Connect      Connector
}

// Assistant routes utterances to the current backend and runs the actions
// it asks for. Calls are serialized.
type Assistant struct {
	store   *store.Store
	actions *actions.Registry
	speaker Speaker
	out     io.Writer
	connect Connector

	session      string
	historyTurns int

	mu      sync.Mutex
	backend llm.Backend
}

func New(opts Options) *Assistant {
	if opts.Session == "" {
		opts.Session = DefaultSession
	}
	if opts.Connect == nil {
		opts.Connect = func(provider, apiKey string) (llm.Backend, error) {
			return llm.New(provider, llm.Options{APIKey: apiKey})
		}
	}
	return &Assistant{
		store:        opts.Store,
		actions:      opts.Actions,
		speaker:      opts.Speaker,
		out:          opts.Out,
		connect:      opts.Connect,
		session:      opts.Session,
		historyTurns: opts.HistoryTurns,
		backend:      opts.Backend,
	}
}

func (a *Assistant) Backend() llm.Backend {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend
}

func (a *Assistant) SetBackend(b llm.Backend) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.backend = b
	log.Info("Backend selected", "provider", b.Name(), "model", b.Model())
}

func (a *Assistant) Actions() *actions.Registry {
	return a.actions
}

func (a *Assistant) Store() *store.Store {
	return a.store
}

// Ask decides what to say and do about utterance, runs the chosen action
// and records the exchange. Backend failures become a spoken apology.
func (a *Assistant) Ask(ctx context.Context, utterance string) nlu.Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.backend == nil {
		log.Error("No backend configured")
		return apology()
	}

	d, err := a.decide(ctx, a.backend, utterance, a.history(ctx), true)
	if err != nil {
		log.Error("Backend failed", "provider", a.backend.Name(), "err", err)
		d = apology()
	}

	log.Debug("Decision", "reply", d.Reply, "action", d.Action, "params", d.Parameters)

	a.remember(ctx, llm.RoleUser, utterance)
	a.remember(ctx, llm.RoleAssistant, d.Reply)

	return d
}

// Respond answers utterance out loud.
func (a *Assistant) Respond(ctx context.Context, utterance string) (nlu.Decision, error) {
	d := a.Ask(ctx, utterance)
	return d, a.Say(ctx, d.Reply)
}

// Say prints and speaks text.
func (a *Assistant) Say(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	log.Info("Reply", "text", text)
	if a.out != nil {
		fmt.Fprintf(a.out, "%s: %s\n", NiceName(a.store.AssistantName(ctx), store.DefaultAssistantName), text)
	}

	if a.speaker == nil {
		return nil
	}
	if err := a.speaker.Speak(ctx, text); err != nil {
		return fmt.Errorf("speak: %w", err)
	}
	return nil
}

func (a *Assistant) decide(ctx context.Context, b llm.Backend, utterance string, history []llm.Message, run bool) (nlu.Decision, error) {
	user := a.store.UserName(ctx)
	name := a.store.AssistantName(ctx)

	if b.SupportsTools() {
		req := llm.Request{
			Messages: append(history, llm.Message{Role: llm.RoleUser, Content: nlu.ToolPrompt(user, name, utterance)}),
		}
		if run {
			req.Tools = a.toolSpecs()
		}

		resp, err := b.Chat(ctx, req)
		if err != nil {
			return nlu.Decision{}, err
		}

		if len(resp.ToolCalls) > 0 && run {
			call := resp.ToolCalls[0]
			return nlu.Decision{
				Reply:      a.run(ctx, call.Name, call.Arguments),
				Action:     call.Name,
				Parameters: call.Arguments,
			}, nil
		}

		return nlu.Normalize(nlu.Decision{Reply: resp.Content}, nil), nil
	}

	req := llm.Request{
		Messages: append(history, llm.Message{Role: llm.RoleUser, Content: nlu.Prompt(user, name, a.actions.Names(), utterance)}),
		JSONOnly: true,
	}

	resp, err := b.Chat(ctx, req)
	if err != nil {
		return nlu.Decision{}, err
	}

	d := nlu.Analyze(resp.Content, a.actions.Has)
	if run && d.Action != nlu.ActionNone {
		d.Reply = a.run(ctx, d.Action, d.Parameters)
	}
	return d, nil
}

func (a *Assistant) run(ctx context.Context, action string, params map[string]any) string {
	reply, err := a.actions.Run(ctx, action, params)

	var pe *actions.ParamError
	switch {
	case errors.As(err, &pe):
		return pe.Sentence()
	case err != nil:
		log.Warn("Action failed", "action", action, "err", err)
		return fmt.Sprintf("Failed to execute %s: %v", action, err)
	}
	return reply
}

func (a *Assistant) toolSpecs() []llm.ToolSpec {
	catalogue := a.actions.Catalogue()
	specs := make([]llm.ToolSpec, 0, len(catalogue))
	for _, act := range catalogue {
		specs = append(specs, llm.ToolSpec{
			Name:        act.Name,
			Description: act.Description,
			Parameters:  act.Parameters,
		})
	}
	return specs
}

func (a *Assistant) history(ctx context.Context) []llm.Message {
	turns, err := a.store.RecentTurns(ctx, a.session, a.historyTurns)
	if err != nil {
		log.Warn("Could not load history", "err", err)
		return nil
	}
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

func (a *Assistant) remember(ctx context.Context, role, content string) {
	if a.historyTurns <= 0 {
		return
	}
	if err := a.store.AppendTurn(ctx, a.session, role, content); err != nil {
		log.Warn("Could not save history", "err", err)
	}
}

func apology() nlu.Decision {
	return nlu.Decision{
		Reply:      ReplyBackendError,
		Action:     nlu.ActionNone,
		Parameters: map[string]any{},
	}
}
