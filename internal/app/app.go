// Package app wires configuration into the components shared by the
// luna binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"

	"github.com/lmittmann/tint"

	"luna/internal/actions"
	"luna/internal/assistant"
	"luna/internal/audio"
	"luna/internal/config"
	"luna/internal/mcp"
	"luna/internal/proxy"
	"luna/internal/store"
	"luna/internal/tts"
	"luna/pkg/stt"
)

var LogLevels = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// SetupLogging installs a tint handler on w. Unknown levels mean info.
func SetupLogging(w io.Writer, level string) {
	log.SetDefault(log.New(tint.NewHandler(w, &tint.Options{
		Level: LogLevels[level],
	})))
}

type Options struct {
	// Proxy overrides LUNA_PROXY when set.
	Proxy string
	// SkipMCP leaves external MCP servers from the tools file alone.
	SkipMCP bool
	// Launcher defaults to the system opener.
	Launcher actions.Launcher
}

// App holds what every binary needs: settings, HTTP transport and the
// action registry.
type App struct {
	Config  config.Config
	Store   *store.Store
	HTTP    *http.Client
	Actions *actions.Registry

	servers []*mcp.Client
}

func Open(ctx context.Context, cfg config.Config, opt Options) (*App, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Store: st}

	addr := opt.Proxy
	if addr == "" {
		addr = cfg.Proxy
	}
	if a.HTTP, err = proxy.NewClient(addr); err != nil {
		a.Close()
		return nil, err
	}
	if addr != "" {
		log.Debug("Using socks proxy", "addr", addr)
	}

	tools, err := config.LoadTools(cfg.ToolsFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	launcher := opt.Launcher
	if launcher == nil {
		launcher = actions.NewSystemLauncher()
	}
	a.Actions = actions.NewRegistry()
	if err := actions.Builtin(a.Actions, st, launcher, tools.Apps); err != nil {
		a.Close()
		return nil, err
	}

	if !opt.SkipMCP {
		for _, s := range tools.MCPServers {
			c, err := mcp.Spawn(ctx, s.Name, s.Command, s.Args...)
			if err != nil {
				log.Warn("MCP server unavailable", "server", s.Name, "err", err)
				continue
			}
			a.servers = append(a.servers, c)
			if err := c.Actions(ctx, a.Actions); err != nil {
				log.Warn("Could not list MCP tools", "server", s.Name, "err", err)
			}
		}
	}

	return a, nil
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.servers {
		errs = append(errs, c.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// Assistant connects to the selected provider. provider and model come
// from flags and may be empty.
func (a *App) Assistant(ctx context.Context, provider, model string, speaker assistant.Speaker, out io.Writer) (*assistant.Assistant, error) {
	connect := assistant.NewConnector(a.Config, model, a.HTTP)

	sel := assistant.SelectProvider(ctx, provider, a.Store, a.Config)
	log.Info("Provider selected", "provider", sel.Provider, "source", sel.Source)

	backend, err := connect(sel.Provider, sel.APIKey)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", sel.Provider, err)
	}

	return assistant.New(assistant.Options{
		Store:        a.Store,
		Actions:      a.Actions,
		Backend:      backend,
		Speaker:      speaker,
		Out:          out,
		HistoryTurns: a.Config.HistoryTurns,
		Connect:      connect,
	}), nil
}

// Speaker builds the configured text to speech engine, ducking other
// streams when LUNA_DUCK is set.
func (a *App) Speaker() (tts.Engine, error) {
	cfg := a.Config
	e, err := tts.New(cfg.TTSBackend, tts.Config{
		Voice:       cfg.TTSVoice,
		PiperBinary: cfg.PiperBinaryPath,
		PiperModel:  cfg.PiperModelPath,
		PiperRate:   cfg.PiperRate,
		APIKey:      cfg.OpenAIKey,
		HTTPClient:  a.HTTP,
		// Assistant.Say already prints every reply
		Out:         io.Discard,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Duck {
		e = tts.WithDucking(e, audio.NewDucker(duckExempt, duckFloor))
	}
	return e, nil
}

var duckExempt = []string{"luna", "luna-daemon", "espeak-ng", "piper"}

const duckFloor = 5

// Recognizer builds the configured speech to text backend.
func (a *App) Recognizer() (stt.Recognizer, error) {
	cfg := a.Config
	return stt.New(cfg.STTBackend, stt.Config{
		Language:   cfg.STTLanguage,
		ModelPath:  cfg.WhisperModelPath,
		APIKey:     cfg.APIKey(cfg.STTBackend),
		HTTPClient: a.HTTP,
	})
}
