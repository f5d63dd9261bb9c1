package assistant

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"luna/internal/config"
	"luna/internal/llm"
	"luna/internal/store"
)

var ErrValidation = errors.New("provider validation failed")

var badPhrases = []string{
	"there was an error",
	"sorry, i didn't understand",
	"invalid",
	"could not",
	"error",
	"no response",
}

// Acceptable reports whether a validation reply looks like a real answer.
func Acceptable(reply string) bool {
	reply = strings.TrimSpace(reply)
	if len(reply) <= 2 {
		return false
	}
	low := strings.ToLower(reply)
	for _, bad := range badPhrases {
		if strings.Contains(low, bad) {
			return false
		}
	}
	return true
}

// Validate pings provider with apiKey. On success the provider and key are
// saved and become the current backend. No actions run while validating.
func (a *Assistant) Validate(ctx context.Context, provider, apiKey string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == llm.Ollama {
		apiKey = ""
	}

	b, err := a.connect(provider, apiKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	d, err := a.decide(ctx, b, "ping", nil, false)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrValidation, provider, err)
	}
	if !Acceptable(d.Reply) {
		return fmt.Errorf("%w: %s replied %q", ErrValidation, provider, d.Reply)
	}

	if err := a.store.SaveProvider(ctx, provider, apiKey); err != nil {
		return err
	}
	a.SetBackend(b)

	log.Info("Provider validated", "provider", provider)
	return nil
}

// Selection is the provider picked at startup and where it came from.
type Selection struct {
	Provider string
	APIKey   string
	Source   string
}

// SelectProvider picks the provider: the flag first, then the one saved by
// a successful validation, then LUNA_PROVIDER, then ollama.
func SelectProvider(ctx context.Context, flag string, st *store.Store, cfg config.Config) Selection {
	if flag = strings.ToLower(strings.TrimSpace(flag)); flag != "" {
		return Selection{Provider: flag, APIKey: cfg.APIKey(flag), Source: "flag"}
	}

	name, key, err := st.Provider(ctx)
	if err != nil {
		log.Warn("Could not read saved provider", "err", err)
	}
	if name != "" {
		if key == "" {
			key = cfg.APIKey(name)
		}
		return Selection{Provider: name, APIKey: key, Source: "store"}
	}

	if cfg.Provider != "" {
		return Selection{Provider: cfg.Provider, APIKey: cfg.APIKey(cfg.Provider), Source: "env"}
	}

	return Selection{Provider: llm.Ollama, Source: "default"}
}

// NewConnector builds backends through client. model names the local
// model for Ollama (LUNA_MODEL when empty); hosted providers keep their
// defaults.
func NewConnector(cfg config.Config, model string, client *http.Client) Connector {
	if model == "" {
		model = cfg.Model
	}
	return func(provider, apiKey string) (llm.Backend, error) {
		opts := llm.Options{
			APIKey:     apiKey,
			HTTPClient: client,
			MaxRetries: 2,
		}
		if provider == llm.Ollama {
			opts.BaseURL = llm.OllamaURL(cfg.OllamaHost)
			opts.Model = model
		}
		return llm.New(provider, opts)
	}
}

// NiceName capitalises the first letter of raw, falling back when blank.
func NiceName(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = strings.TrimSpace(fallback)
	}
	if raw == "" {
		return fallback
	}
	r, size := utf8.DecodeRuneInString(raw)
	return string(unicode.ToUpper(r)) + raw[size:]
}
