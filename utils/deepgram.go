package utils

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/Perceptus-Labs/label-reader/models"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
	"go.uber.org/zap"
)

// DeepgramOptions configures a live dictation stream.
type DeepgramOptions struct {
	APIKey              string
	Language            models.Language
	Model               string
	Encoding            string
	SampleRate          int
	ConfidenceThreshold float64
	// UtteranceEndMs enables Deepgram's utterance-end events when positive.
	UtteranceEndMs int
	// OnSpeechStarted runs when the user starts talking.
	OnSpeechStarted func()
}

type DeepgramCallback struct {
	transcripts         chan<- string
	useUtteranceEnd     bool
	confidenceThreshold float64
	onSpeechStarted     func()
	logger              *zap.Logger
}

type DeepgramClient struct {
	dgClient  *listen.WSCallback
	callback  *DeepgramCallback
	bytesSent atomic.Int64
}

func newDeepgramCallback(opts DeepgramOptions, transcripts chan<- string, logger *zap.Logger) *DeepgramCallback {
	return &DeepgramCallback{
		transcripts:         transcripts,
		useUtteranceEnd:     opts.UtteranceEndMs > 0,
		confidenceThreshold: opts.ConfidenceThreshold,
		onSpeechStarted:     opts.OnSpeechStarted,
		logger:              logger,
	}
}

// NewDeepgramClient opens a callback-driven live transcription client. Final
// words are sent on transcripts, followed by models.END_OF_SPEECH when the
// speaker pauses.
func NewDeepgramClient(opts DeepgramOptions, transcripts chan<- string, logger *zap.Logger) (*DeepgramClient, error) {
	if logger == nil {
		logger = zap.L()
	}
	if opts.APIKey == "" {
		return nil, models.NewCapabilityUnavailable("dictation")
	}

	model := opts.Model
	if model == "" {
		model = "nova-2"
	}
	encoding := opts.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Language:       string(opts.Language),
		Encoding:       encoding,
		SampleRate:     sampleRate,
		Channels:       1,
		Endpointing:    "300",
		InterimResults: true,
		FillerWords:    false,
		Model:          model,
	}
	if opts.Language != models.LanguageEnglish && model == "nova-3" {
		logger.Warn("Using multilingual model for non-English dictation", zap.String("lang", string(opts.Language)))
		transcriptOptions.Language = "multi"
	}
	if opts.UtteranceEndMs > 0 {
		transcriptOptions.UtteranceEndMs = strconv.Itoa(opts.UtteranceEndMs)
	}

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}

	callback := newDeepgramCallback(opts, transcripts, logger)
	dgClient, err := listen.NewWebSocketUsingCallback(context.Background(), opts.APIKey, clientOptions, transcriptOptions, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram live client: %w", err)
	}

	logger.Info("Deepgram client created",
		zap.String("model", model),
		zap.String("lang", transcriptOptions.Language),
		zap.Float64("confidence_threshold", opts.ConfidenceThreshold))

	return &DeepgramClient{
		dgClient: dgClient,
		callback: callback,
	}, nil
}

func (d *DeepgramClient) Connect() error {
	if !d.dgClient.Connect() {
		return fmt.Errorf("failed to connect to Deepgram websocket")
	}
	return nil
}

func (d *DeepgramClient) Send(data []byte) error {
	reader := bufio.NewReader(bytes.NewReader(data))
	err := d.dgClient.Stream(reader)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to stream audio to Deepgram: %w", err)
	}
	d.bytesSent.Add(int64(len(data)))
	return nil
}

func (d *DeepgramClient) Close() {
	d.callback.logger.Debug("Closing Deepgram client", zap.Int64("audio_bytes_sent", d.bytesSent.Load()))
	d.dgClient.Stop()
}

func (c *DeepgramCallback) emit(s string) {
	select {
	case c.transcripts <- s:
	default:
		c.logger.Warn("Transcript channel full, dropping", zap.String("transcript", s))
	}
}

func (c *DeepgramCallback) Open(or *msginterfaces.OpenResponse) error {
	c.logger.Info("Deepgram socket connection opened")
	return nil
}

func (c *DeepgramCallback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		c.logger.Warn("No transcription alternatives provided")
		return nil
	}
	alternative := mr.Channel.Alternatives[0]
	c.handleTranscript(alternative.Transcript, alternative.Confidence, mr.IsFinal, mr.SpeechFinal)
	return nil
}

func (c *DeepgramCallback) handleTranscript(transcript string, confidence float64, isFinal, speechFinal bool) {
	transcript = strings.TrimSpace(transcript)
	if transcript != "" {
		switch {
		case confidence < c.confidenceThreshold:
			c.logger.Debug("Discarding low confidence transcript", zap.String("transcript", transcript))
		case isFinal:
			c.logger.Debug("Final transcript", zap.String("transcript", transcript))
			c.emit(transcript)
		default:
			c.logger.Debug("Interim transcript", zap.String("transcript", transcript))
		}
	}

	if !c.useUtteranceEnd && speechFinal {
		c.emit(models.END_OF_SPEECH)
	}
}

func (c *DeepgramCallback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.logger.Debug("Received Deepgram metadata")
	return nil
}

func (c *DeepgramCallback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.logger.Debug("Speech started")
	if c.onSpeechStarted != nil {
		c.onSpeechStarted()
	}
	return nil
}

func (c *DeepgramCallback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.logger.Debug("Utterance ended")
	c.emit(models.END_OF_SPEECH)
	return nil
}

func (c *DeepgramCallback) Close(cr *msginterfaces.CloseResponse) error {
	c.logger.Info("Deepgram socket connection closed")
	return nil
}

func (c *DeepgramCallback) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Error("Deepgram socket error", zap.Any("error", er))
	return nil
}

func (c *DeepgramCallback) UnhandledEvent(byData []byte) error {
	c.logger.Warn("Unhandled Deepgram event", zap.ByteString("event", byData))
	return nil
}
