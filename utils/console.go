package utils

import (
	"fmt"
	"io"
	"sync"

	"github.com/Perceptus-Labs/label-reader/models"
	"go.uber.org/zap"
)

// ConsoleDevice prints narration to a terminal in place of a speech engine.
// Haptic cues go to the debug log.
type ConsoleDevice struct {
	mu     sync.Mutex
	out    io.Writer
	logger *zap.Logger
}

func NewConsoleDevice(out io.Writer, logger *zap.Logger) *ConsoleDevice {
	if logger == nil {
		logger = zap.L()
	}
	return &ConsoleDevice{out: out, logger: logger}
}

func (d *ConsoleDevice) Speak(text string, lang models.Language) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "[%s] %s\n", lang.Locale(), text)
}

func (d *ConsoleDevice) CancelSpeech() {}

func (d *ConsoleDevice) Vibrate(p models.HapticPattern) {
	d.logger.Debug("Haptic", zap.String("pattern", string(p)), zap.Int64s("ms", p.Millis()))
}
