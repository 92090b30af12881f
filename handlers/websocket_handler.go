package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Perceptus-Labs/label-reader/capture"
	"github.com/Perceptus-Labs/label-reader/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DeviceSession is one connected phone. It speaks, vibrates and supplies
// camera frames on behalf of the InteractionSession by exchanging JSON
// messages with the client.
type DeviceSession struct {
	ID                   string
	CurrentContext       context.Context
	CancelCurrentContext context.CancelFunc
	Connection           *websocket.Conn
	Logger               *zap.Logger

	IsActive     bool
	StartTime    time.Time
	LastActivity time.Time

	// MaxFrameAge bounds how old a streamed frame may be when captured.
	MaxFrameAge time.Duration

	Interaction  *InteractionSession
	AudioHandler *AudioHandler

	writeMu sync.Mutex

	frameMu    sync.Mutex
	frame      []byte
	frameAt    time.Time
	frameTaken bool
	now        func() time.Time
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewDeviceSession(id string, conn *websocket.Conn) *DeviceSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &DeviceSession{
		ID:                   id,
		CurrentContext:       ctx,
		CancelCurrentContext: cancel,
		Connection:           conn,
		Logger:               zap.L().With(zap.String("session_id", id)),
		IsActive:             true,
		StartTime:            time.Now(),
		LastActivity:         time.Now(),
		MaxFrameAge:          2 * time.Second,
		now:                  time.Now,
	}
}

type WebSocketMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type SessionConfig struct {
	Language string `json:"language"`
	Mode     string `json:"mode"`
}

type framePayload struct {
	Image string `json:"image"`
}

type askPayload struct {
	Question string `json:"question"`
}

type audioPayload struct {
	Payload string `json:"payload"`
}

type resultPayload struct {
	Result            models.StructuredResult `json:"result"`
	ConfidencePercent int                     `json:"confidence_percent"`
	HasIngredients    bool                    `json:"has_ingredients"`
}

// Speak asks the client to speak text, replacing any current utterance.
func (ds *DeviceSession) Speak(text string, lang models.Language) {
	ds.sendWebSocketMessage("speak", map[string]string{
		"text":   text,
		"lang":   string(lang),
		"locale": lang.Locale(),
	})
}

func (ds *DeviceSession) CancelSpeech() {
	ds.sendWebSocketMessage("cancel_speech", nil)
}

func (ds *DeviceSession) Vibrate(pattern models.HapticPattern) {
	ds.sendWebSocketMessage("vibrate", map[string]interface{}{
		"pattern":  string(pattern),
		"duration": pattern.Millis(),
	})
}

// CaptureFrame returns the newest streamed frame once. Stale or already used
// frames are reported as unavailable.
func (ds *DeviceSession) CaptureFrame() ([]byte, bool) {
	ds.frameMu.Lock()
	defer ds.frameMu.Unlock()
	if ds.frame == nil || ds.frameTaken {
		return nil, false
	}
	if ds.MaxFrameAge > 0 && ds.now().Sub(ds.frameAt) > ds.MaxFrameAge {
		return nil, false
	}
	ds.frameTaken = true
	return ds.frame, true
}

// Close drops the buffered frame. The connection is owned by the handler.
func (ds *DeviceSession) Close() error {
	ds.frameMu.Lock()
	defer ds.frameMu.Unlock()
	ds.frame = nil
	return nil
}

func (ds *DeviceSession) storeFrame(data []byte) {
	ds.frameMu.Lock()
	defer ds.frameMu.Unlock()
	ds.frame = data
	ds.frameAt = ds.now()
	ds.frameTaken = false
}

func (ds *DeviceSession) AppStateChanged(state models.AppState) {
	ds.sendWebSocketMessage("state", map[string]string{"state": string(state)})
}

func (ds *DeviceSession) CaptureProgress(progress float64) {
	ds.sendWebSocketMessage("progress", map[string]float64{"progress": progress})
}

func (ds *DeviceSession) ResultReady(result models.StructuredResult) {
	ds.sendWebSocketMessage("result", resultPayload{
		Result:            result,
		ConfidencePercent: result.ConfidencePercent(),
		HasIngredients:    result.HasIngredients(),
	})
}

func (ds *DeviceSession) AnswerReady(qa models.QuestionAnswer) {
	ds.sendWebSocketMessage("answer", map[string]string{
		"question": qa.Question,
		"answer":   qa.Answer,
	})
}

func hasData(data json.RawMessage) bool {
	d := strings.TrimSpace(string(data))
	return d != "" && d != "null"
}

// decodeImage accepts plain base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return data, nil
}

// Server accepts device connections and builds a session for each.
type Server struct {
	Analyzer       Analyzer
	Answerer       QuestionAnswerer
	Transcribers   TranscriberFactory
	CaptureConfig  capture.Config
	AnalyzeTimeout time.Duration
	Language       models.Language
	Heartbeat      time.Duration
}

// HandleDeviceSession upgrades the request and serves the device until it
// disconnects or sends "stop".
func (srv *Server) HandleDeviceSession(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Error("Failed to upgrade to websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	session := NewDeviceSession(uuid.New().String(), conn)
	session.Logger.Info("New device session started")

	lang := srv.Language
	if lang == "" {
		lang = models.LanguageEnglish
	}
	opts := []SessionOption{
		WithSessionID(session.ID),
		WithSessionLogger(session.Logger),
		WithListener(session),
		WithLanguage(lang),
		WithAnalyzeTimeout(srv.AnalyzeTimeout),
		WithCaptureOptions(capture.WithConfig(srv.CaptureConfig)),
	}
	if srv.Answerer != nil {
		opts = append(opts, WithQuestionAnswerer(srv.Answerer))
	}
	session.Interaction = NewInteractionSession(srv.Analyzer, Peripherals{
		Camera:  session,
		Speaker: session,
		Haptics: session,
	}, opts...)

	session.sendWebSocketMessage("session_started", map[string]string{"session_id": session.ID})

	heartbeat := srv.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	go session.runHeartbeat(heartbeat)

	session.listenWebsocketMessages(srv.Transcribers)

	session.Stop()
	session.Logger.Info("Device session ended")
}

func (ds *DeviceSession) runHeartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ds.CurrentContext.Done():
			return
		case <-ticker.C:
			ds.Logger.Debug("Session heartbeat")
			ds.sendWebSocketMessage("heartbeat", map[string]interface{}{
				"session_id": ds.ID,
				"uptime":     time.Since(ds.StartTime).String(),
			})
		}
	}
}

// Stop tears the session down. It is safe to call more than once.
func (ds *DeviceSession) Stop() {
	ds.writeMu.Lock()
	if !ds.IsActive {
		ds.writeMu.Unlock()
		return
	}
	ds.IsActive = false
	ds.writeMu.Unlock()

	ds.Logger.Info("Stopping session")
	ds.CancelCurrentContext()
	if ds.AudioHandler != nil {
		ds.AudioHandler.Close()
	}
	if ds.Interaction != nil {
		if err := ds.Interaction.Close(); err != nil {
			ds.Logger.Warn("Failed to close interaction session", zap.Error(err))
		}
		ds.Interaction.Wait()
	}
}

func (ds *DeviceSession) listenWebsocketMessages(transcribers TranscriberFactory) {
	for {
		var msg WebSocketMessage
		if err := ds.Connection.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ds.Logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}
		ds.LastActivity = time.Now()

		if stop := ds.handleMessage(msg, transcribers); stop {
			return
		}
	}
}

func (ds *DeviceSession) handleMessage(msg WebSocketMessage, transcribers TranscriberFactory) bool {
	var err error
	switch msg.Type {
	case "config":
		err = ds.handleConfigMessage(msg.Data)
	case "start":
		err = ds.Interaction.Start()
	case "video_data":
		err = ds.handleVideoData(msg.Data)
	case "capture":
		if hasData(msg.Data) {
			if err = ds.handleVideoData(msg.Data); err != nil {
				break
			}
		}
		err = ds.Interaction.Capture()
	case "mode":
		var cfg SessionConfig
		if err = json.Unmarshal(msg.Data, &cfg); err != nil {
			err = models.NewInvalidRequest("invalid mode message")
			break
		}
		var mode models.ScanMode
		if mode, err = models.ParseScanMode(cfg.Mode); err == nil {
			err = ds.Interaction.SetMode(mode)
		}
	case "language":
		var cfg SessionConfig
		if err = json.Unmarshal(msg.Data, &cfg); err != nil {
			err = models.NewInvalidRequest("invalid language message")
			break
		}
		var lang models.Language
		if lang, err = models.ParseLanguage(cfg.Language); err == nil {
			ds.Interaction.SetLanguage(lang)
		}
	case "ask":
		var p askPayload
		if hasData(msg.Data) {
			if err = json.Unmarshal(msg.Data, &p); err != nil {
				err = models.NewInvalidRequest("invalid ask message")
				break
			}
		}
		err = ds.Interaction.Ask(p.Question)
	case "listen":
		err = ds.startDictation(transcribers)
	case "audio_data":
		err = ds.handleAudioData(msg.Data, transcribers)
	case "reset":
		ds.Interaction.Reset()
	case "stop_speech":
		ds.Interaction.StopSpeaking()
	case "camera_unavailable":
		ds.Interaction.ReportUnavailable(CapabilityCamera)
	case "ping":
		ds.sendWebSocketMessage("pong", nil)
	case "stop":
		ds.Logger.Info("Received stop command from client")
		ds.Stop()
		ds.sendWebSocketMessage("stop_confirmation", map[string]interface{}{
			"session_id": ds.ID,
			"message":    "Session stopped successfully",
		})
		return true
	default:
		ds.Logger.Warn("Unknown message type", zap.String("type", msg.Type))
		err = models.NewInvalidRequest(fmt.Sprintf("unknown message type %q", msg.Type))
	}

	if err != nil {
		ds.sendError(msg.Type, err)
	}
	return false
}

func (ds *DeviceSession) sendError(msgType string, err error) {
	ds.Logger.Warn("Request failed", zap.String("type", msgType), zap.Error(err))
	code := "INTERNAL"
	var lErr *models.LabelError
	if errors.As(err, &lErr) {
		code = string(lErr.Code)
	}
	ds.sendWebSocketMessage("error", map[string]string{
		"request": msgType,
		"code":    code,
		"message": err.Error(),
	})
}

func (ds *DeviceSession) handleConfigMessage(data json.RawMessage) error {
	var cfg SessionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return models.NewInvalidRequest("invalid config data format")
	}

	if cfg.Language != "" {
		lang, err := models.ParseLanguage(cfg.Language)
		if err != nil {
			return err
		}
		ds.Interaction.SetLanguage(lang)
	}
	if cfg.Mode != "" {
		mode, err := models.ParseScanMode(cfg.Mode)
		if err != nil {
			return err
		}
		if err := ds.Interaction.SetMode(mode); err != nil {
			return err
		}
	}

	ds.sendWebSocketMessage("config_updated", map[string]string{
		"language": string(ds.Interaction.Language()),
		"mode":     ds.Interaction.Mode().String(),
	})
	return nil
}

func (ds *DeviceSession) handleVideoData(data json.RawMessage) error {
	var p framePayload
	if err := json.Unmarshal(data, &p); err != nil {
		// Plain base64 string.
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return models.NewInvalidRequest("invalid video_data format")
		}
		p.Image = s
	}
	img, err := decodeImage(p.Image)
	if err != nil {
		return models.NewInvalidRequest(err.Error())
	}
	ds.storeFrame(img)
	return nil
}

func (ds *DeviceSession) startDictation(transcribers TranscriberFactory) error {
	if ds.AudioHandler != nil {
		return nil
	}
	audioHandler, err := InitAudioHandler(ds, transcribers)
	if err != nil {
		ds.Logger.Warn("Dictation unavailable", zap.Error(err))
		ds.Interaction.ReportUnavailable(CapabilityDictation)
		return nil
	}
	ds.AudioHandler = audioHandler
	ds.Interaction.Listening()
	return nil
}

func (ds *DeviceSession) handleAudioData(data json.RawMessage, transcribers TranscriberFactory) error {
	if ds.AudioHandler == nil {
		if err := ds.startDictation(transcribers); err != nil || ds.AudioHandler == nil {
			return err
		}
	}

	var p audioPayload
	if err := json.Unmarshal(data, &p); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return models.NewInvalidRequest("invalid audio_data format")
		}
		p.Payload = s
	}
	audioBytes, err := base64.StdEncoding.DecodeString(p.Payload)
	if err != nil {
		return models.NewInvalidRequest("audio_data is not base64")
	}
	return ds.AudioHandler.ProcessAudioData(audioBytes)
}

func (ds *DeviceSession) sendWebSocketMessage(msgType string, data interface{}) {
	if ds.Connection == nil {
		return
	}
	msg := outgoingMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()
	if err := ds.Connection.WriteJSON(msg); err != nil {
		ds.Logger.Debug("Failed to send websocket message", zap.Error(err), zap.String("type", msgType))
	}
}

// HealthCheckHandler reports liveness.
func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}
