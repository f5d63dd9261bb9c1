package actions

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidParams = errors.New("invalid parameters")
)

// ParamError reports required parameters the model did not supply.
type ParamError struct {
	Action  string
	Missing []string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: %s needs %s", ErrInvalidParams, e.Action, strings.Join(e.Missing, ", "))
}

func (e *ParamError) Is(target error) bool { return target == ErrInvalidParams }

// Sentence is the spoken form of the error.
func (e *ParamError) Sentence() string {
	words := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		words[i] = "the " + strings.ReplaceAll(m, "_", " ")
	}
	return fmt.Sprintf("I need %s to do that.", strings.Join(words, " and "))
}

// Handler runs an action and returns the sentence to speak.
type Handler func(ctx context.Context, params map[string]any) (string, error)

// Action is a local capability offered to the model.
type Action struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object; nil means no parameters.
	Parameters map[string]any
	Run        Handler

	validator *jsonschema.Schema
}

// Settings is the persistent state actions read and change.
type Settings interface {
	UserName(ctx context.Context) string
	AssistantName(ctx context.Context) string
	Set(ctx context.Context, key, value string) error
}

// Registry holds the actions the assistant can dispatch.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		actions:  make(map[string]*Action),
		shutdown: make(chan struct{}),
	}
}

// Register adds or replaces an action.
func (r *Registry) Register(a Action) error {
	if a.Name == "" || a.Run == nil {
		return fmt.Errorf("action %q: name and handler are required", a.Name)
	}
	if a.Parameters == nil {
		a.Parameters = Object(nil)
	}

	schema, err := compileSchema(a.Parameters)
	if err != nil {
		return fmt.Errorf("action %s: %w", a.Name, err)
	}
	a.validator = schema

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name] = &a
	return nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Names lists registered actions alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalogue returns copies of all actions ordered by name.
func (r *Registry) Catalogue() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Action, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run validates params against the action schema and runs it.
func (r *Registry) Run(ctx context.Context, name string, params map[string]any) (string, error) {
	r.mu.RLock()
	a, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	if params == nil {
		params = map[string]any{}
	}

	if missing := missingRequired(a.Parameters, params); len(missing) > 0 {
		return "", &ParamError{Action: name, Missing: missing}
	}
	if res := a.validator.Validate(params); !res.IsValid() {
		var msgs []string
		for field, e := range res.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", field, e.Message))
		}
		sort.Strings(msgs)
		return "", fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(msgs, "; "))
	}

	log.Info("Running action", "action", name, "params", params)

	return a.Run(ctx, params)
}

// RequestShutdown signals everyone waiting on ShutdownRequested.
func (r *Registry) RequestShutdown() {
	r.shutdownOnce.Do(func() { close(r.shutdown) })
}

func (r *Registry) ShutdownRequested() <-chan struct{} {
	return r.shutdown
}
