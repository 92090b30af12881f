package handlers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Perceptus-Labs/label-reader/capture"
	"github.com/Perceptus-Labs/label-reader/models"
	"github.com/Perceptus-Labs/label-reader/narration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Analyzer turns captured frames into a structured label description.
type Analyzer interface {
	Analyze(ctx context.Context, images [][]byte, lang models.Language) (models.StructuredResult, error)
}

// QuestionAnswerer answers a follow-up question about an analysed product.
type QuestionAnswerer interface {
	AskFollowUp(ctx context.Context, images [][]byte, result models.StructuredResult, question string, lang models.Language) (string, error)
}

// Listener mirrors session progress to a display. Calls happen outside the
// session lock.
type Listener interface {
	AppStateChanged(state models.AppState)
	CaptureProgress(progress float64)
	ResultReady(result models.StructuredResult)
	AnswerReady(qa models.QuestionAnswer)
}

type NopListener struct{}

func (NopListener) AppStateChanged(models.AppState) {}
func (NopListener) CaptureProgress(float64) {}
func (NopListener) ResultReady(models.StructuredResult) {}
func (NopListener) AnswerReady(models.QuestionAnswer) {}

// Peripherals are the device capabilities a session drives.
type Peripherals struct {
	Camera  capture.FrameSource
	Speaker narration.Speaker
	Haptics narration.Vibrator
}

// Capabilities reported through ReportUnavailable.
const (
	CapabilityCamera    = "camera"
	CapabilityDictation = "dictation"
)

var (
	ErrNotStarted      = models.NewConflict("session has not been started")
	ErrNoResult        = models.NewConflict("no analysed product to ask about")
	ErrQuestionPending = models.NewConflict("a question is already being answered")
	ErrSessionClosed   = models.NewConflict("session is closed")
)

const (
	defaultAnalyzeTimeout = 30 * time.Second
	defaultAskTimeout     = 30 * time.Second
)

// InteractionSession ties capture, analysis and narration together for one
// user. Analysis and follow-up calls run in the background; results that
// arrive after a reset or a newer capture are discarded.
type InteractionSession struct {
	ID     string
	Logger *zap.Logger

	controller *capture.Controller
	driver     *narration.Driver
	analyzer   Analyzer
	answerer   QuestionAnswerer
	listener   Listener

	analyzeTimeout time.Duration
	askTimeout     time.Duration
	captureOpts    []capture.Option

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       models.AppState
	lang        models.Language
	images      [][]byte
	result      *models.StructuredResult
	answer      *models.QuestionAnswer
	pending     string
	asking      bool
	generation  int
	unavailable map[string]bool
	closed      bool
}

type SessionOption func(*InteractionSession)

func WithSessionID(id string) SessionOption {
	return func(s *InteractionSession) { s.ID = id }
}

func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *InteractionSession) { s.Logger = l }
}

func WithQuestionAnswerer(qa QuestionAnswerer) SessionOption {
	return func(s *InteractionSession) { s.answerer = qa }
}

func WithListener(l Listener) SessionOption {
	return func(s *InteractionSession) { s.listener = l }
}

func WithLanguage(lang models.Language) SessionOption {
	return func(s *InteractionSession) { s.lang = lang }
}

func WithAnalyzeTimeout(d time.Duration) SessionOption {
	return func(s *InteractionSession) {
		if d > 0 {
			s.analyzeTimeout = d
		}
	}
}

func WithAskTimeout(d time.Duration) SessionOption {
	return func(s *InteractionSession) {
		if d > 0 {
			s.askTimeout = d
		}
	}
}

// WithCaptureOptions passes options through to the capture controller.
func WithCaptureOptions(opts ...capture.Option) SessionOption {
	return func(s *InteractionSession) { s.captureOpts = append(s.captureOpts, opts...) }
}

func NewInteractionSession(analyzer Analyzer, p Peripherals, opts ...SessionOption) *InteractionSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &InteractionSession{
		ID:             uuid.New().String(),
		analyzer:       analyzer,
		listener:       NopListener{},
		analyzeTimeout: defaultAnalyzeTimeout,
		askTimeout:     defaultAskTimeout,
		ctx:            ctx,
		cancel:         cancel,
		state:          models.AppStateWelcome,
		lang:           models.LanguageEnglish,
		unavailable:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Logger == nil {
		s.Logger = zap.L().With(zap.String("session_id", s.ID))
	}

	s.driver = narration.NewDriver(p.Speaker, p.Haptics, s.Logger)
	ctrlOpts := append([]capture.Option{
		capture.WithObserver(sessionObserver{s}),
		capture.WithLogger(s.Logger),
	}, s.captureOpts...)
	s.controller = capture.NewController(p.Camera, p.Haptics, ctrlOpts...)
	return s
}

// Start moves from the welcome screen to the live camera.
func (s *InteractionSession) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != models.AppStateWelcome {
		s.mu.Unlock()
		return nil
	}
	s.state = models.AppStateCamera
	lang := s.lang
	s.mu.Unlock()

	s.Logger.Info("Session started", zap.String("lang", string(lang)))
	s.listener.AppStateChanged(models.AppStateCamera)
	s.driver.Announce(lang, models.MsgCameraReady, narration.ClassReady)
	return nil
}

// Capture triggers a scan in the current mode. It is ignored while an
// analysis is running.
func (s *InteractionSession) Capture() error {
	s.mu.Lock()
	state, closed := s.state, s.closed
	s.mu.Unlock()

	switch {
	case closed:
		return ErrSessionClosed
	case state == models.AppStateWelcome:
		return ErrNotStarted
	case state == models.AppStateAnalyzing:
		s.Logger.Debug("Ignoring capture while analyzing")
		return nil
	}
	return s.controller.Trigger()
}

// Ask sends a follow-up question about the current result. A blank question
// uses the dictated one, if any.
func (s *InteractionSession) Ask(question string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != models.AppStateResult || s.result == nil {
		s.mu.Unlock()
		return ErrNoResult
	}
	q := strings.TrimSpace(question)
	if q == "" {
		q = strings.TrimSpace(s.pending)
	}
	if q == "" {
		s.mu.Unlock()
		return nil
	}
	if s.asking {
		s.mu.Unlock()
		return ErrQuestionPending
	}
	if s.answerer == nil {
		s.mu.Unlock()
		return models.NewCapabilityUnavailable("question answering")
	}

	s.asking = true
	s.pending = q
	gen := s.generation
	images := s.images
	result := *s.result
	lang := s.lang
	s.wg.Add(1)
	s.mu.Unlock()

	s.Logger.Info("Follow-up question", zap.String("question", q))
	s.driver.Announce(lang, models.MsgThinking, narration.ClassTap)
	go s.answerQuestion(gen, images, result, q, lang)
	return nil
}

func (s *InteractionSession) answerQuestion(gen int, images [][]byte, result models.StructuredResult, question string, lang models.Language) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.askTimeout)
	defer cancel()

	answer, err := s.answerer.AskFollowUp(ctx, images, result, question, lang)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = models.NewQuestionError("empty answer", nil)
	}

	s.mu.Lock()
	stale := s.closed || gen != s.generation
	var qa models.QuestionAnswer
	if !stale {
		s.asking = false
		s.pending = ""
		if err == nil {
			qa = models.QuestionAnswer{Question: question, Answer: strings.TrimSpace(answer), Timestamp: time.Now()}
			s.answer = &qa
		}
	}
	s.mu.Unlock()

	if stale {
		s.Logger.Debug("Discarding answer for a superseded result")
		return
	}
	if err != nil {
		s.Logger.Error("Failed to answer follow-up question", zap.Error(err))
		s.driver.Announce(lang, models.MsgAskError, narration.ClassError)
		return
	}
	s.listener.AnswerReady(qa)
	s.driver.Narrate(narration.Answer(qa.Answer, lang), narration.ClassSuccess)
}

// Reset drops the current result and returns to the live camera.
func (s *InteractionSession) Reset() {
	s.mu.Lock()
	if s.closed || s.state == models.AppStateWelcome {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.images = nil
	s.result = nil
	s.answer = nil
	s.pending = ""
	s.asking = false
	s.state = models.AppStateCamera
	s.mu.Unlock()

	s.driver.Vibrate(narration.ClassTap)
	s.driver.Cancel()
	s.listener.AppStateChanged(models.AppStateCamera)
}

// SetMode switches between Quick and Full scans while no capture is running.
func (s *InteractionSession) SetMode(mode models.ScanMode) error {
	return s.controller.SetMode(mode)
}

// SetLanguage changes the language for all further narration.
func (s *InteractionSession) SetLanguage(lang models.Language) {
	s.mu.Lock()
	s.lang = lang
	s.mu.Unlock()
	s.driver.Announce(lang, models.MsgLanguageSet, narration.ClassTap)
}

func (s *InteractionSession) StopSpeaking() {
	s.driver.Cancel()
}

// Listening tells the user dictation has started.
func (s *InteractionSession) Listening() {
	s.driver.Announce(s.Language(), models.MsgListening, narration.ClassTap)
}

// SetQuestion stores a dictated question for the next Ask.
func (s *InteractionSession) SetQuestion(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asking {
		return
	}
	s.pending = strings.TrimSpace(text)
}

// ReportUnavailable announces a missing capability. Each capability is
// announced once per session.
func (s *InteractionSession) ReportUnavailable(capability string) {
	s.mu.Lock()
	if s.closed || s.unavailable[capability] {
		s.mu.Unlock()
		return
	}
	s.unavailable[capability] = true
	lang := s.lang
	s.mu.Unlock()

	s.Logger.Warn("Capability unavailable", zap.Error(models.NewCapabilityUnavailable(capability)))
	id := models.MsgMicError
	if capability == CapabilityCamera {
		id = models.MsgCameraPermission
	}
	s.driver.Announce(lang, id, narration.ClassError)
}

// Close cancels background work, stops any capture and releases the camera.
func (s *InteractionSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.generation++
	s.mu.Unlock()

	s.Logger.Info("Closing interaction session")
	s.cancel()
	s.driver.Cancel()
	return s.controller.Close()
}

// Wait blocks until background analysis and question calls have returned.
func (s *InteractionSession) Wait() {
	s.wg.Wait()
}

func (s *InteractionSession) State() models.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *InteractionSession) Language() models.Language {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

func (s *InteractionSession) Mode() models.ScanMode {
	return s.controller.Mode()
}

func (s *InteractionSession) Result() (models.StructuredResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return models.StructuredResult{}, false
	}
	return *s.result, true
}

func (s *InteractionSession) LastAnswer() (models.QuestionAnswer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answer == nil {
		return models.QuestionAnswer{}, false
	}
	return *s.answer, true
}

func (s *InteractionSession) PendingQuestion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *InteractionSession) Asking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asking
}

func (s *InteractionSession) beginAnalysis(c models.Capture) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	s.images = c.Images()
	s.result = nil
	s.answer = nil
	s.pending = ""
	s.asking = false
	lang := s.lang
	images := s.images

	if len(images) == 0 {
		s.state = models.AppStateCamera
		s.mu.Unlock()
		s.Logger.Warn("Capture finished without frames", zap.Error(models.NewCaptureFailure(nil)))
		s.listener.AppStateChanged(models.AppStateCamera)
		s.driver.Announce(lang, models.MsgAnalysisError, narration.ClassError)
		return
	}

	s.state = models.AppStateAnalyzing
	s.wg.Add(1)
	s.mu.Unlock()

	s.listener.AppStateChanged(models.AppStateAnalyzing)
	if c.Mode == models.ScanModeFull {
		s.driver.Announce(lang, models.MsgScanComplete, narration.ClassNone, models.Message(lang, models.MsgAnalyzing))
	} else {
		s.driver.Announce(lang, models.MsgAnalyzing, narration.ClassNone)
	}
	go s.analyze(gen, images, lang)
}

func (s *InteractionSession) analyze(gen int, images [][]byte, lang models.Language) {
	defer s.wg.Done()

	start := time.Now()
	ctx, cancel := context.WithTimeout(s.ctx, s.analyzeTimeout)
	defer cancel()

	result, err := s.analyzer.Analyze(ctx, images, lang)

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		s.Logger.Debug("Discarding analysis for a superseded capture")
		return
	}
	if err != nil {
		s.state = models.AppStateCamera
		s.mu.Unlock()
		s.Logger.Error("Failed to analyze capture", zap.Error(err), zap.Int("frames", len(images)))
		s.listener.AppStateChanged(models.AppStateCamera)
		s.driver.Announce(lang, models.MsgAnalysisError, narration.ClassError)
		return
	}
	s.state = models.AppStateResult
	s.result = &result
	s.mu.Unlock()

	s.Logger.Info("Analysis complete",
		zap.String("item", result.ItemName),
		zap.Bool("is_medicine", result.IsMedicine),
		zap.Int("confidence_percent", result.ConfidencePercent()),
		zap.Duration("took", time.Since(start)))
	s.listener.ResultReady(result)
	s.listener.AppStateChanged(models.AppStateResult)
	s.driver.Narrate(narration.Build(result, lang, result.IsMedicine), narration.ClassSuccess)
}

// sessionObserver receives capture controller events for a session.
type sessionObserver struct {
	s *InteractionSession
}

func (o sessionObserver) StateChanged(from, to capture.State) {
	o.s.Logger.Debug("Capture state", zap.Stringer("from", from), zap.Stringer("to", to))
}

func (o sessionObserver) ModeChanged(mode models.ScanMode) {
	lang := o.s.Language()
	o.s.driver.Announce(lang, models.MsgModeChanged, narration.ClassNone, models.ScanModeName(lang, mode))
}

func (o sessionObserver) CaptureStarted(mode models.ScanMode) {
	if mode == models.ScanModeFull {
		o.s.driver.Announce(o.s.Language(), models.MsgRotateInstruction, narration.ClassNone)
		return
	}
	o.s.driver.Cancel()
}

func (o sessionObserver) CaptureProgress(progress float64) {
	o.s.listener.CaptureProgress(progress)
}

func (o sessionObserver) CaptureCompleted(c models.Capture) {
	o.s.Logger.Info("Capture completed", zap.Stringer("mode", c.Mode), zap.Int("frames", len(c.Frames)))
	o.s.beginAnalysis(c)
}
