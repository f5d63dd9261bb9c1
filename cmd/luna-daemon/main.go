package main

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cli "github.com/spf13/pflag"

	"luna/internal/app"
	"luna/internal/assistant"
	"luna/internal/audio"
	"luna/internal/bus"
	"luna/internal/config"
	"luna/internal/ipc"
	"luna/internal/notify"
	"luna/internal/voice"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address")
	provider := cli.String("provider", "", "LLM provider (ollama, openai, groq, openrouter)")
	model := cli.String("model", "", "Local model name")
	once := cli.Bool("once", false, "Answer one utterance and exit")
	cli.Parse()

	app.SetupLogging(os.Stdout, *logLevel)

	log.Info("Booting up")

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *proxyAddr, *provider, *model, *once); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, proxyAddr, provider, model string, once bool) error {
	a, err := app.Open(ctx, cfg, app.Options{Proxy: proxyAddr})
	if err != nil {
		return err
	}
	defer a.Close()

	speaker, err := a.Speaker()
	if err != nil {
		return fmt.Errorf("tts: %w", err)
	}
	defer speaker.Close()
	log.Debug("Loaded tts", "engine", cfg.TTSBackend)

	asst, err := a.Assistant(ctx, provider, model, speaker, os.Stdout)
	if err != nil {
		return err
	}

	recognizer, err := a.Recognizer()
	if err != nil {
		return fmt.Errorf("stt: %w", err)
	}
	defer recognizer.Close()
	log.Debug("Loaded stt", "backend", cfg.STTBackend)

	rec := audio.NewRecorder()
	if err := rec.Init(); err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer rec.Close()

	loop := voice.NewLoop(asst, rec, recognizer)
	loop.Once = once
	loop.Notifier = &notify.Notifier{Chime: cfg.Chime, Desktop: cfg.Notify}

	srv, err := ipc.Listen(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	go func() {
		if err := srv.Serve(ctx, control(asst, loop, cfg)); err != nil {
			log.Error("Control socket failed", "err", err)
		}
	}()
	log.Debug("Control socket ready", "path", srv.Path())

	if cfg.BusURL != "" {
		go func() {
			err := bus.New(cfg.BusURL).Run(ctx, func(ctx context.Context, text string) (string, error) {
				return asst.Ask(ctx, text).Reply, nil
			})
			if err != nil {
				log.Error("Bus stopped", "err", err)
			}
		}()
	}

	log.Info("Boot up - successful")

	return loop.Run(ctx)
}

func control(asst *assistant.Assistant, loop *voice.Loop, cfg config.Config) ipc.Handler {
	st := asst.Store()

	return func(ctx context.Context, msg ipc.ControlMessage) ipc.ControlReply {
		switch msg.Cmd {
		case ipc.CmdTrigger:
			loop.Trigger()
			return ipc.ControlReply{OK: true, Text: "Listening."}

		case ipc.CmdAsk:
			text := strings.TrimSpace(strings.Join(msg.Args, " "))
			if text == "" {
				return ipc.ControlReply{Text: "usage: ask <text>"}
			}
			return ipc.ControlReply{OK: true, Text: asst.Ask(ctx, text).Reply}

		case ipc.CmdMute, ipc.CmdUnmute:
			muted := msg.Cmd == ipc.CmdMute
			if err := st.SetMuted(ctx, muted); err != nil {
				return ipc.ControlReply{Text: err.Error()}
			}
			loop.Wake()
			if muted {
				return ipc.ControlReply{OK: true, Text: "Muted."}
			}
			return ipc.ControlReply{OK: true, Text: "Listening again."}

		case ipc.CmdStatus:
			b := asst.Backend()
			return ipc.ControlReply{OK: true, Text: fmt.Sprintf("provider=%s model=%s muted=%t actions=%d",
				b.Name(), b.Model(), st.Muted(ctx), len(asst.Actions().Names()))}

		case ipc.CmdProvider:
			if len(msg.Args) == 0 {
				return ipc.ControlReply{Text: "usage: provider <name> [api-key]"}
			}
			name := strings.ToLower(msg.Args[0])
			key := cfg.APIKey(name)
			if len(msg.Args) > 1 {
				key = msg.Args[1]
			}
			if err := asst.Validate(ctx, name, key); err != nil {
				return ipc.ControlReply{Text: err.Error()}
			}
			return ipc.ControlReply{OK: true, Text: fmt.Sprintf("Provider set to %s.", name)}

		case ipc.CmdShutdown:
			asst.Actions().RequestShutdown()
			loop.Wake()
			return ipc.ControlReply{OK: true, Text: "Shutting down."}

		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
			return ipc.ControlReply{Text: "unknown command " + msg.Cmd}
		}
	}
}
