package narration

import (
	"sync"

	"github.com/Perceptus-Labs/label-reader/models"
	"go.uber.org/zap"
)

// Speaker is the device speech channel. Speak replaces any utterance in
// progress; both calls are best-effort.
type Speaker interface {
	Speak(text string, lang models.Language)
	CancelSpeech()
}

// Vibrator plays a haptic pattern.
type Vibrator interface {
	Vibrate(pattern models.HapticPattern)
}

// Class is the semantic category of a narration and selects its haptic cue.
type Class int

const (
	ClassNone Class = iota
	ClassTap
	ClassSuccess
	ClassError
	ClassReady
)

func (c Class) pattern() (models.HapticPattern, bool) {
	switch c {
	case ClassTap:
		return models.HapticTap, true
	case ClassSuccess:
		return models.HapticSuccess, true
	case ClassError:
		return models.HapticError, true
	case ClassReady:
		return models.HapticReady, true
	default:
		return "", false
	}
}

// Driver owns the speech channel. Every narration cancels the previous one
// before speaking, so at most one utterance is ever active.
type Driver struct {
	mu       sync.Mutex
	speaker  Speaker
	haptics  Vibrator
	logger   *zap.Logger
	speaking bool
	spoken   int
}

func NewDriver(speaker Speaker, haptics Vibrator, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.L()
	}
	return &Driver{
		speaker: speaker,
		haptics: haptics,
		logger:  logger,
	}
}

// Narrate cancels in-flight speech, plays the class haptic, and speaks script.
func (d *Driver) Narrate(script Script, class Class) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelLocked()
	if p, ok := class.pattern(); ok && d.haptics != nil {
		d.haptics.Vibrate(p)
	}

	text := script.Text()
	if text == "" {
		return
	}
	if d.speaker == nil {
		d.logger.Debug("No speaker attached, dropping narration", zap.String("text", text))
		return
	}
	d.speaker.Speak(text, script.Lang)
	d.speaking = true
	d.spoken++
	d.logger.Debug("Narrating",
		zap.String("lang", string(script.Lang)),
		zap.Int("segments", len(script.segments)))
}

// Announce narrates a single message from the language table.
func (d *Driver) Announce(lang models.Language, id models.MessageID, class Class, extra ...string) {
	d.Narrate(Message(lang, id, extra...), class)
}

// Vibrate plays a haptic cue without touching speech.
func (d *Driver) Vibrate(class Class) {
	p, ok := class.pattern()
	if !ok || d.haptics == nil {
		return
	}
	d.haptics.Vibrate(p)
}

// Cancel stops any speech. It is safe when nothing is speaking.
func (d *Driver) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *Driver) cancelLocked() {
	if d.speaker != nil {
		d.speaker.CancelSpeech()
	}
	d.speaking = false
}

// Speaking reports whether the last narration has not been cancelled.
func (d *Driver) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Spoken is the number of utterances started so far.
func (d *Driver) Spoken() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spoken
}
