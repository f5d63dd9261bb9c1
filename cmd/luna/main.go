package main

import (
	"bufio"
	"context"
	"fmt"
	log "log/slog"
	"os"
	"os/signal"
	"strings"

	cli "github.com/spf13/pflag"

	"luna/internal/app"
	"luna/internal/assistant"
	"luna/internal/config"
	"luna/internal/voice"
	"luna/pkg/audioconv"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "warn", "Log level")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address")
	provider := cli.String("provider", "", "LLM provider (ollama, openai, groq, openrouter)")
	model := cli.String("model", "", "Local model name")
	query := cli.StringP("query", "q", "", "Ask once and exit")
	speak := cli.Bool("speak", false, "Speak replies aloud")
	file := cli.String("file", "", "Transcribe an audio file (wav, mp3, ogg) and answer it")
	cli.Parse()

	app.SetupLogging(os.Stderr, *logLevel)

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.Open(ctx, cfg, app.Options{Proxy: *proxyAddr})
	if err != nil {
		log.Error("Startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	var speaker assistant.Speaker
	if *speak {
		e, err := a.Speaker()
		if err != nil {
			log.Error("Failed to init tts", "err", err)
			os.Exit(1)
		}
		defer e.Close()
		speaker = e
	}

	asst, err := a.Assistant(ctx, *provider, *model, speaker, os.Stdout)
	if err != nil {
		log.Error("Startup failed", "err", err)
		os.Exit(1)
	}

	switch {
	case *file != "":
		err = answerFile(ctx, a, asst, *file)
	case *query != "":
		_, err = asst.Respond(ctx, *query)
	default:
		err = chat(ctx, asst)
	}
	if err != nil {
		log.Error("Failed", "err", err)
		os.Exit(1)
	}
}

func answerFile(ctx context.Context, a *app.App, asst *assistant.Assistant, path string) error {
	pcm, err := audioconv.ConvertFile(ctx, path, audioconv.Options{})
	if err != nil {
		return err
	}

	rec, err := a.Recognizer()
	if err != nil {
		return err
	}
	defer rec.Close()

	res, err := rec.Transcribe(ctx, pcm)
	if err != nil {
		return fmt.Errorf("transcribe %s: %w", path, err)
	}

	text := strings.TrimSpace(res.Text)
	fmt.Printf("%s: %s\n", assistant.NiceName(asst.Store().UserName(ctx), ""), text)
	if text == "" {
		return nil
	}

	_, err = asst.Respond(ctx, text)
	return err
}

func chat(ctx context.Context, asst *assistant.Assistant) error {
	shutdown := asst.Actions().ShutdownRequested()
	in := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}

		text := strings.TrimSpace(in.Text())
		switch {
		case text == "":
			continue
		case text == "exit" || text == "quit" || voice.IsShutdownPhrase(text):
			return asst.Say(ctx, voice.ReplyGoodbye)
		}

		if _, err := asst.Respond(ctx, text); err != nil {
			log.Warn("Could not speak reply", "err", err)
		}

		select {
		case <-shutdown:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}
	}
}
