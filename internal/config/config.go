package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration, read from the environment once at startup.
type Config struct {
	Provider      string `env:"LUNA_PROVIDER"      envDefault:"ollama"`
	Model         string `env:"LUNA_MODEL"         envDefault:""`
	OllamaHost    string `env:"OLLAMA_HOST"        envDefault:"http://localhost:11434"`
	OpenAIKey     string `env:"OPENAI_API_KEY"     envDefault:""`
	GroqKey       string `env:"GROQ_API_KEY"       envDefault:""`
	OpenRouterKey string `env:"OPENROUTER_API_KEY" envDefault:""`

	DBPath     string `env:"LUNA_DB_PATH"    envDefault:"config.db"`
	SocketPath string `env:"LUNA_SOCKET"     envDefault:"/tmp/luna.sock"`
	Proxy      string `env:"LUNA_PROXY"      envDefault:""`
	BusURL     string `env:"LUNA_BUS_URL"    envDefault:""`
	ToolsFile  string `env:"LUNA_TOOLS_FILE" envDefault:""`

	HistoryTurns int  `env:"LUNA_HISTORY_TURNS" envDefault:"6"`
	Duck         bool `env:"LUNA_DUCK"          envDefault:"false"`

	Chime  string `env:"LUNA_CHIME"  envDefault:""`
	Notify bool   `env:"LUNA_NOTIFY" envDefault:"false"`

	STTBackend       string `env:"LUNA_STT_BACKEND"   envDefault:"whisper"`
	STTLanguage      string `env:"LUNA_STT_LANGUAGE"  envDefault:"en"`
	WhisperModelPath string `env:"WHISPER_MODEL_PATH" envDefault:"third_party/whisper.cpp/models/ggml-base.en.bin"`

	TTSBackend      string `env:"LUNA_TTS_BACKEND"  envDefault:"espeak"`
	TTSVoice        string `env:"LUNA_TTS_VOICE"    envDefault:""`
	PiperBinaryPath string `env:"PIPER_BINARY_PATH" envDefault:"piper"`
	PiperModelPath  string `env:"PIPER_MODEL_PATH"  envDefault:"./models/en_US-amy-medium.onnx"`
	PiperRate       int    `env:"PIPER_SAMPLE_RATE" envDefault:"22050"`
}

// Load reads envFile (missing files are ignored) and parses the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))

	return cfg, nil
}

// APIKey returns the configured key for provider. Ollama needs none.
func (c Config) APIKey(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIKey
	case "groq":
		return c.GroqKey
	case "openrouter":
		return c.OpenRouterKey
	default:
		return ""
	}
}

// MCPServer is an external MCP server whose tools are offered to the model.
type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Tools is the optional YAML tools file.
//
//	apps:
//	  browser: firefox
//	  notes: gnome-text-editor
//	mcp_servers:
//	  - name: files
//	    command: npx
//	    args: ["@modelcontextprotocol/server-filesystem", "/home/me"]
type Tools struct {
	Apps       map[string]string `yaml:"apps"`
	MCPServers []MCPServer       `yaml:"mcp_servers"`
}

// LoadTools reads the tools file. An empty path yields an empty Tools.
func LoadTools(path string) (Tools, error) {
	var t Tools
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tools file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tools file: %w", err)
	}

	apps := make(map[string]string, len(t.Apps))
	for name, cmd := range t.Apps {
		apps[strings.ToLower(strings.TrimSpace(name))] = cmd
	}
	t.Apps = apps

	for i, s := range t.MCPServers {
		if s.Name == "" || s.Command == "" {
			return t, fmt.Errorf("mcp server #%d: name and command are required", i)
		}
	}

	return t, nil
}
