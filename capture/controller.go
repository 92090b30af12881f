package capture

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Perceptus-Labs/label-reader/models"
	"go.uber.org/zap"
)

// State is the capture state machine position.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateQuickCapturing
	StateFullCapturing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateQuickCapturing:
		return "quick_capturing"
	case StateFullCapturing:
		return "full_capturing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FrameSource produces encoded still images from the live feed. ok is false
// when no frame is available right now (e.g. the video surface is not ready).
type FrameSource interface {
	CaptureFrame() (data []byte, ok bool)
	Close() error
}

// Vibrator plays a haptic pattern. It is best-effort and never fails.
type Vibrator interface {
	Vibrate(pattern models.HapticPattern)
}

// Observer receives controller events in the order they happened. Calls are
// made without the controller lock held, so observers may call back into the
// controller.
type Observer interface {
	StateChanged(from, to State)
	ModeChanged(mode models.ScanMode)
	CaptureStarted(mode models.ScanMode)
	CaptureProgress(progress float64)
	CaptureCompleted(capture models.Capture)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) StateChanged(State, State) {}
func (NopObserver) ModeChanged(models.ScanMode) {}
func (NopObserver) CaptureStarted(models.ScanMode) {}
func (NopObserver) CaptureProgress(float64) {}
func (NopObserver) CaptureCompleted(models.Capture) {}

// Config sets the Full scan acquisition window and sampling interval.
type Config struct {
	Window   time.Duration
	Interval time.Duration
}

// DefaultConfig is a 4 second window sampled every 600ms.
func DefaultConfig() Config {
	return Config{
		Window:   4000 * time.Millisecond,
		Interval: 600 * time.Millisecond,
	}
}

// MaxFrames is the number of ticks a Full scan schedules, including the one
// that crosses the window boundary.
func (c Config) MaxFrames() int {
	return int(math.Ceil(float64(c.Window) / float64(c.Interval)))
}

var (
	ErrModeLocked       = models.NewConflict("scan mode cannot change while a capture is in progress")
	ErrControllerClosed = models.NewConflict("capture controller is closed")
)

// Session is a snapshot of the active capture session.
type Session struct {
	Mode     models.ScanMode
	Elapsed  time.Duration
	Progress float64
	Frames   []models.Frame
	Done     bool
}

// Controller drives a FrameSource through the capture state machine. It owns
// the source for its whole lifetime and releases it on Close.
type Controller struct {
	mu        sync.Mutex
	source    FrameSource
	haptics   Vibrator
	observer  Observer
	scheduler Scheduler
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	mode    models.ScanMode
	state   State
	session *Session
	ticker  Ticker
	closed  bool
}

type Option func(*Controller)

func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.scheduler = s }
}

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithMode(m models.ScanMode) Option {
	return func(c *Controller) { c.mode = m }
}

func NewController(source FrameSource, haptics Vibrator, opts ...Option) *Controller {
	c := &Controller{
		source:    source,
		haptics:   haptics,
		observer:  NopObserver{},
		scheduler: NewScheduler(),
		cfg:       DefaultConfig(),
		logger:    zap.L(),
		now:       time.Now,
		mode:      models.ScanModeQuick,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	def := DefaultConfig()
	if c.cfg.Window <= 0 {
		c.cfg.Window = def.Window
	}
	if c.cfg.Interval <= 0 {
		c.cfg.Interval = def.Interval
	}
	return c
}

// events collects observer and haptic calls made under the lock so they can
// run, in order, after it is released.
type events []func()

func (e *events) add(fn func()) { *e = append(*e, fn) }

func (e events) run() {
	for _, fn := range e {
		fn()
	}
}

func (c *Controller) setState(ev *events, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	obs := c.observer
	ev.add(func() { obs.StateChanged(from, to) })
}

func (c *Controller) vibrate(ev *events, p models.HapticPattern) {
	if c.haptics == nil {
		return
	}
	h := c.haptics
	ev.add(func() { h.Vibrate(p) })
}

// Trigger starts a capture in the current mode. In Quick mode the frame is
// taken before Trigger returns; in Full mode sampling continues on the
// scheduler. A trigger while a capture is active is ignored. The frame source
// is never called with the lock held.
func (c *Controller) Trigger() error {
	var ev events
	c.mu.Lock()
	quick, err := c.trigger(&ev)
	c.mu.Unlock()
	ev.run()
	if err != nil || quick == nil {
		return err
	}

	data, ok := c.grab()

	ev = nil
	c.mu.Lock()
	c.completeQuick(&ev, quick, data, ok)
	c.mu.Unlock()
	ev.run()
	return nil
}

// trigger arms a session. It returns the session when a Quick frame still
// has to be taken.
func (c *Controller) trigger(ev *events) (*Session, error) {
	if c.closed {
		return nil, ErrControllerClosed
	}
	if c.state != StateIdle {
		c.logger.Debug("Ignoring capture trigger, capture already in progress", zap.Stringer("state", c.state))
		return nil, nil
	}

	s := &Session{Mode: c.mode}
	c.session = s
	c.setState(ev, StateArmed)
	obs := c.observer
	mode := c.mode
	ev.add(func() { obs.CaptureStarted(mode) })

	if mode == models.ScanModeQuick {
		c.setState(ev, StateQuickCapturing)
		return s, nil
	}

	c.setState(ev, StateFullCapturing)
	c.vibrate(ev, models.HapticTap)
	c.ticker = c.scheduler.Every(c.cfg.Interval, func() { c.tick(s) })
	c.logger.Info("Full scan started",
		zap.Duration("window", c.cfg.Window),
		zap.Duration("interval", c.cfg.Interval))
	return nil, nil
}

func (c *Controller) completeQuick(ev *events, s *Session, data []byte, ok bool) {
	if c.session != s || s.Done {
		c.logger.Debug("Discarding frame from a cancelled quick scan")
		return
	}
	c.record(s, data, ok)
	c.vibrate(ev, models.HapticTap)
	c.finish(ev, s)
	if len(s.Frames) == 0 {
		c.logger.Warn("Quick scan produced no frame")
		return
	}
	obs := c.observer
	captured := models.Capture{Mode: s.Mode, Frames: s.Frames}
	ev.add(func() { obs.CaptureCompleted(captured) })
	c.logger.Info("Quick scan complete")
}

func (c *Controller) tick(s *Session) {
	c.mu.Lock()
	// Ticks from a stopped or replaced session are dropped.
	if c.session != s || s.Done {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	data, ok := c.grab()

	var ev events
	c.mu.Lock()
	c.advance(&ev, s, data, ok)
	c.mu.Unlock()
	ev.run()
}

func (c *Controller) advance(ev *events, s *Session, data []byte, ok bool) {
	// The session may have been closed while the frame was being taken.
	if c.session != s || s.Done {
		c.logger.Debug("Discarding frame from a cancelled full scan")
		return
	}

	s.Elapsed += c.cfg.Interval
	s.Progress = math.Min(float64(s.Elapsed)/float64(c.cfg.Window), 1)
	c.record(s, data, ok)

	obs := c.observer
	progress := s.Progress
	ev.add(func() { obs.CaptureProgress(progress) })
	c.vibrate(ev, models.HapticRecording)

	if s.Elapsed < c.cfg.Window {
		return
	}

	c.stopTicker()
	c.vibrate(ev, models.HapticSuccess)
	c.finish(ev, s)
	captured := models.Capture{Mode: s.Mode, Frames: s.Frames}
	ev.add(func() { obs.CaptureCompleted(captured) })
	c.logger.Info("Full scan complete", zap.Int("frames", len(s.Frames)))
}

// grab reads one frame from the source. It must be called without c.mu.
func (c *Controller) grab() ([]byte, bool) {
	c.mu.Lock()
	source := c.source
	c.mu.Unlock()
	if source == nil {
		return nil, false
	}
	return source.CaptureFrame()
}

func (c *Controller) record(s *Session, data []byte, ok bool) bool {
	if !ok || len(data) == 0 {
		c.logger.Debug("Frame unavailable",
			zap.Error(models.NewCaptureFailure(nil)),
			zap.Duration("elapsed", s.Elapsed))
		return false
	}
	s.Frames = append(s.Frames, models.Frame{
		Index:      len(s.Frames),
		Data:       data,
		CapturedAt: c.now(),
	})
	return true
}

func (c *Controller) finish(ev *events, s *Session) {
	s.Done = true
	c.session = nil
	c.setState(ev, StateIdle)
}

func (c *Controller) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

// SetMode switches the scan mode. It is rejected while a capture is active.
func (c *Controller) SetMode(mode models.ScanMode) error {
	var ev events
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrModeLocked
	}
	c.mode = mode
	c.vibrate(&ev, models.HapticTap)
	obs := c.observer
	ev.add(func() { obs.ModeChanged(mode) })
	c.mu.Unlock()

	ev.run()
	return nil
}

// Close stops any running capture without completing it and releases the
// frame source. It is safe to call more than once.
func (c *Controller) Close() error {
	var ev events
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTicker()
	if c.session != nil {
		c.session.Done = true
		c.session = nil
		c.logger.Info("Capture cancelled by teardown")
	}
	c.setState(&ev, StateIdle)
	source := c.source
	c.mu.Unlock()

	ev.run()
	if source == nil {
		return nil
	}
	if err := source.Close(); err != nil {
		return fmt.Errorf("failed to release frame source: %w", err)
	}
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Mode() models.ScanMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) Config() Config {
	return c.cfg
}

// Active returns a copy of the running capture session, if any.
func (c *Controller) Active() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	s := *c.session
	s.Frames = append([]models.Frame(nil), c.session.Frames...)
	return s, true
}
