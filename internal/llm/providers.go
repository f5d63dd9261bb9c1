package llm

import (
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3/option"
)

const (
	Ollama     = "ollama"
	OpenAI     = "openai"
	Groq       = "groq"
	OpenRouter = "openrouter"

	DefaultOllamaHost = "http://localhost:11434"
	GroqURL           = "https://api.groq.com/openai/v1/"
	OpenRouterURL     = "https://openrouter.ai/api/v1/"
)

// Provider describes a known chat backend.
type Provider struct {
	Name         string
	BaseURL      string
	DefaultModel string
	KeyEnv       string
	Tools        bool
}

var Providers = map[string]Provider{
	Ollama: {
		Name:         Ollama,
		DefaultModel: "gemma3:1b",
	},
	OpenAI: {
		Name:         OpenAI,
		DefaultModel: "gpt-4o-mini",
		KeyEnv:       "OPENAI_API_KEY",
		Tools:        true,
	},
	Groq: {
		Name:         Groq,
		BaseURL:      GroqURL,
		DefaultModel: "openai/gpt-oss-20b",
		KeyEnv:       "GROQ_API_KEY",
		Tools:        true,
	},
	OpenRouter: {
		Name:         OpenRouter,
		BaseURL:      OpenRouterURL,
		DefaultModel: "anthropic/claude-3.5-sonnet",
		KeyEnv:       "OPENROUTER_API_KEY",
		Tools:        true,
	},
}

func init() {
	Register(Ollama, newOllama)
	for _, name := range []string{OpenAI, Groq, OpenRouter} {
		p := Providers[name]
		Register(name, func(opts Options) (Backend, error) {
			return newHosted(p, opts)
		})
	}
}

// OllamaURL turns an Ollama host into its OpenAI compatible endpoint.
func OllamaURL(host string) string {
	if host == "" {
		host = DefaultOllamaHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return strings.TrimRight(host, "/") + "/v1/"
}

// newOllama talks to a local Ollama runner. Small local models handle tool
// schemas poorly, so they are driven in JSON mode instead.
func newOllama(opts Options) (Backend, error) {
	if opts.Model == "" {
		opts.Model = Providers[Ollama].DefaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = OllamaURL("")
	}
	if opts.APIKey == "" {
		// the endpoint ignores it but the SDK sends whatever it finds in the env
		opts.APIKey = Ollama
	}
	return NewCompat(Ollama, false, opts), nil
}

func newHosted(p Provider, opts Options) (Backend, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%s: %w (set %s)", p.Name, ErrMissingAPIKey, p.KeyEnv)
	}
	if opts.Model == "" {
		opts.Model = p.DefaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = p.BaseURL
	}

	var extra []option.RequestOption
	if p.Name == OpenRouter {
		extra = append(extra, option.WithHeader("X-Title", "Luna"))
	}

	return NewCompat(p.Name, p.Tools, opts, extra...), nil
}
