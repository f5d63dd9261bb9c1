package notify

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"os/exec"

	"github.com/faiface/beep/mp3"

	"luna/internal/tts"
)

// Notifier tells the user the assistant started listening.
type Notifier struct {
	// Chime is an mp3 played before listening; empty disables it.
	Chime string
	// Desktop also sends a notify-send popup.
	Desktop bool
}

func (n *Notifier) Listening(ctx context.Context) {
	if n == nil {
		return
	}
	if n.Chime != "" {
		if err := Beep(ctx, n.Chime); err != nil {
			log.Warn("Could not play chime", "file", n.Chime, "err", err)
		}
	}
	if n.Desktop {
		if err := Desktop(ctx, "Luna", "Listening…"); err != nil {
			log.Debug("Desktop notification failed", "err", err)
		}
	}
}

// Beep plays an mp3 file and waits for it to finish.
func Beep(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open chime: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode chime: %w", err)
	}
	defer streamer.Close()

	return tts.Play(ctx, streamer, format.SampleRate)
}

// Desktop shows a desktop notification through notify-send.
func Desktop(ctx context.Context, title, body string) error {
	return exec.CommandContext(ctx, "notify-send", "-a", "luna", "-t", "2000", title, body).Run()
}
