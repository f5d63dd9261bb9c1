//go:build espeak_cgo

package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

int
luna_espeak_say(const char *text, const char *voice)
{
	if (!text)
	{ return -1; }

	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -2; }

	if (voice && voice[0])
	{ espeak_SetVoiceByName(voice); }

	espeak_Synth(text, 500, 0, 0, 0, espeakCHARS_AUTO, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	return 0;
}
*/
import "C"

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unsafe"
)

func init() {
	Register("espeak", func(cfg Config) (Engine, error) {
		return &Espeak{voice: cfg.Voice}, nil
	})
}

// Espeak speaks through libespeak-ng, which plays the audio itself.
type Espeak struct {
	mu    sync.Mutex
	voice string
}

func (e *Espeak) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	cvoice := C.CString(e.voice)
	defer C.free(unsafe.Pointer(cvoice))

	if rc := C.luna_espeak_say(ctext, cvoice); rc != 0 {
		return fmt.Errorf("espeak-ng failed: %d", int(rc))
	}
	return nil
}

func (e *Espeak) Close() error { return nil }
