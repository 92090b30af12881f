// handlers/audio_handler.go

package handlers

import (
	"strings"
	"sync"

	"github.com/Perceptus-Labs/label-reader/models"
	"go.uber.org/zap"
)

// Transcriber streams raw audio to a speech-to-text service.
type Transcriber interface {
	Send(data []byte) error
	Close()
}

// TranscriberFactory opens a transcriber that publishes final words and
// models.END_OF_SPEECH on transcripts.
type TranscriberFactory func(lang models.Language, transcripts chan<- string, onSpeechStarted func()) (Transcriber, error)

// AudioHandler turns dictated audio into the session's pending follow-up
// question.
type AudioHandler struct {
	session     *DeviceSession
	transcriber Transcriber
	transcripts chan string

	mu        sync.Mutex
	current   string
	closeOnce sync.Once
	done      chan struct{}
}

func InitAudioHandler(session *DeviceSession, factory TranscriberFactory) (*AudioHandler, error) {
	session.Logger.Info("Initializing Audio Handler...")

	if factory == nil {
		return nil, models.NewCapabilityUnavailable(CapabilityDictation)
	}

	transcripts := make(chan string, 100)
	transcriber, err := factory(session.Interaction.Language(), transcripts, session.Interaction.StopSpeaking)
	if err != nil {
		return nil, err
	}

	audioHandler := &AudioHandler{
		session:     session,
		transcriber: transcriber,
		transcripts: transcripts,
		done:        make(chan struct{}),
	}

	session.Logger.Info("Audio Handler initialized")

	go audioHandler.handleTranscript()

	return audioHandler, nil
}

func (h *AudioHandler) handleTranscript() {
	for {
		var transcript string
		select {
		case transcript = <-h.transcripts:
		case <-h.done:
			return
		}
		if transcript == models.SESSION_END {
			h.session.Logger.Info("Audio handler received SESSION_END")
			return
		}
		h.session.Logger.Debug("Received transcript", zap.String("transcript", transcript))

		if transcript == models.END_OF_SPEECH {
			h.mu.Lock()
			question := strings.TrimSpace(h.current)
			h.current = ""
			h.mu.Unlock()
			if question == "" {
				continue
			}

			h.session.Logger.Info("End of speech detected", zap.String("question", question))
			h.session.Interaction.SetQuestion(question)
			h.session.sendWebSocketMessage("transcript_final", map[string]string{
				"transcript": question,
			})
			continue
		}

		if strings.TrimSpace(transcript) == "" {
			continue
		}
		h.mu.Lock()
		h.current += transcript + " "
		interim := strings.TrimSpace(h.current)
		h.mu.Unlock()

		h.session.Interaction.SetQuestion(interim)
		h.session.sendWebSocketMessage("transcript_interim", map[string]string{
			"transcript": interim,
		})
	}
}

// ProcessAudioData forwards a chunk of audio to the transcriber.
func (h *AudioHandler) ProcessAudioData(audioData []byte) error {
	if err := h.transcriber.Send(audioData); err != nil {
		h.session.Logger.Error("Failed to send audio data to transcriber", zap.Error(err))
		return err
	}
	return nil
}

func (h *AudioHandler) Close() {
	h.closeOnce.Do(func() {
		h.session.Logger.Info("Closing Audio Handler")
		close(h.done)
		if h.transcriber != nil {
			h.transcriber.Close()
		}
	})
}
