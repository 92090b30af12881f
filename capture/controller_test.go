package capture

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Perceptus-Labs/label-reader/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualScheduler fires ticks only when the test asks it to.
type manualScheduler struct {
	tasks []*manualTicker
}

type manualTicker struct {
	interval time.Duration
	fn       func()
	stopped  bool
}

func (t *manualTicker) Stop() { t.stopped = true }

func (s *manualScheduler) Every(interval time.Duration, fn func()) Ticker {
	t := &manualTicker{interval: interval, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// fire runs the latest task once, even if it was stopped, to model a tick
// that was already in flight when Stop was called.
func (s *manualScheduler) fire() {
	s.tasks[len(s.tasks)-1].fn()
}

func (s *manualScheduler) current() *manualTicker {
	return s.tasks[len(s.tasks)-1]
}

type fakeSource struct {
	mu      sync.Mutex
	results []bool // per call; missing entries succeed
	calls   int
	closed  bool
}

func (f *fakeSource) CaptureFrame() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.results) && !f.results[i] {
		return nil, false
	}
	return []byte{byte(i)}, true
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type hapticRecorder struct {
	mu       sync.Mutex
	patterns []models.HapticPattern
}

func (h *hapticRecorder) Vibrate(p models.HapticPattern) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.patterns = append(h.patterns, p)
}

type observerRecorder struct {
	NopObserver
	transitions []State
	progress    []float64
	completed   []models.Capture
	started     []models.ScanMode
	modes       []models.ScanMode
}

func (o *observerRecorder) StateChanged(_, to State) { o.transitions = append(o.transitions, to) }
func (o *observerRecorder) CaptureProgress(p float64) { o.progress = append(o.progress, p) }
func (o *observerRecorder) CaptureCompleted(c models.Capture) { o.completed = append(o.completed, c) }
func (o *observerRecorder) CaptureStarted(m models.ScanMode) { o.started = append(o.started, m) }
func (o *observerRecorder) ModeChanged(m models.ScanMode) { o.modes = append(o.modes, m) }

func newTestController(source *fakeSource, mode models.ScanMode) (*Controller, *manualScheduler, *hapticRecorder, *observerRecorder) {
	sched := &manualScheduler{}
	haptics := &hapticRecorder{}
	obs := &observerRecorder{}
	c := NewController(source, haptics,
		WithScheduler(sched),
		WithObserver(obs),
		WithMode(mode))
	return c, sched, haptics, obs
}

func TestQuickCapture_SingleFrame(t *testing.T) {
	source := &fakeSource{}
	c, sched, haptics, obs := newTestController(source, models.ScanModeQuick)

	require.NoError(t, c.Trigger())

	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, sched.tasks, "quick scan must not schedule ticks")
	require.Len(t, obs.completed, 1)
	assert.Equal(t, models.ScanModeQuick, obs.completed[0].Mode)
	assert.Len(t, obs.completed[0].Frames, 1)
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, []models.HapticPattern{models.HapticTap}, haptics.patterns)
	assert.Equal(t, []State{StateArmed, StateQuickCapturing, StateIdle}, obs.transitions)
}

func TestQuickCapture_NoFrameIsNoOp(t *testing.T) {
	source := &fakeSource{results: []bool{false}}
	c, _, _, obs := newTestController(source, models.ScanModeQuick)

	require.NoError(t, c.Trigger())

	assert.Empty(t, obs.completed)
	assert.Equal(t, StateIdle, c.State())

	// Capture is immediately available again.
	require.NoError(t, c.Trigger())
	assert.Len(t, obs.completed, 1)
}

func TestFullCapture_CompletesAfterWindow(t *testing.T) {
	source := &fakeSource{}
	c, sched, haptics, obs := newTestController(source, models.ScanModeFull)

	require.NoError(t, c.Trigger())
	assert.Equal(t, StateFullCapturing, c.State())
	require.Len(t, sched.tasks, 1)
	assert.Equal(t, 600*time.Millisecond, sched.current().interval)

	maxFrames := c.Config().MaxFrames()
	assert.Equal(t, 7, maxFrames)

	for i := 0; i < maxFrames-1; i++ {
		sched.fire()
		assert.Equal(t, StateFullCapturing, c.State(), "tick %d", i)
		assert.Empty(t, obs.completed)
	}
	sched.fire()

	assert.Equal(t, StateIdle, c.State())
	assert.True(t, sched.current().stopped)
	require.Len(t, obs.completed, 1)
	assert.Len(t, obs.completed[0].Frames, maxFrames)

	for i, f := range obs.completed[0].Frames {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, []byte{byte(i)}, f.Data, "frames must be in tick order")
	}

	require.Len(t, obs.progress, maxFrames)
	for i := 1; i < len(obs.progress); i++ {
		assert.GreaterOrEqual(t, obs.progress[i], obs.progress[i-1])
	}
	assert.Equal(t, 1.0, obs.progress[len(obs.progress)-1])

	assert.Equal(t, models.HapticTap, haptics.patterns[0])
	assert.Equal(t, models.HapticSuccess, haptics.patterns[len(haptics.patterns)-1])
	recording := 0
	for _, p := range haptics.patterns {
		if p == models.HapticRecording {
			recording++
		}
	}
	assert.Equal(t, maxFrames, recording)
}

func TestFullCapture_MissingFramesDoNotAbort(t *testing.T) {
	source := &fakeSource{results: []bool{true, false, true, false, false, true, true}}
	c, sched, _, obs := newTestController(source, models.ScanModeFull)

	require.NoError(t, c.Trigger())
	for i := 0; i < 7; i++ {
		sched.fire()
	}

	require.Len(t, obs.completed, 1)
	assert.Len(t, obs.completed[0].Frames, 4)
	assert.Equal(t, StateIdle, c.State())
}

func TestFullCapture_AllFramesMissingStillCompletes(t *testing.T) {
	source := &fakeSource{results: []bool{false, false, false, false, false, false, false}}
	c, sched, _, obs := newTestController(source, models.ScanModeFull)

	require.NoError(t, c.Trigger())
	for i := 0; i < 7; i++ {
		sched.fire()
	}

	require.Len(t, obs.completed, 1)
	assert.Empty(t, obs.completed[0].Frames)
}

func TestFullCapture_DuplicateTriggerIgnored(t *testing.T) {
	source := &fakeSource{}
	c, sched, _, obs := newTestController(source, models.ScanModeFull)

	require.NoError(t, c.Trigger())
	sched.fire()
	sched.fire()

	before, ok := c.Active()
	require.True(t, ok)

	require.NoError(t, c.Trigger())

	after, ok := c.Active()
	require.True(t, ok)
	assert.Len(t, sched.tasks, 1, "duplicate trigger must not schedule a second ticker")
	assert.Equal(t, len(before.Frames), len(after.Frames))
	assert.Equal(t, before.Progress, after.Progress)
	assert.Len(t, obs.started, 1)
}

func TestFullCapture_SetModeRejectedWhileCapturing(t *testing.T) {
	source := &fakeSource{}
	c, sched, _, obs := newTestController(source, models.ScanModeFull)

	require.NoError(t, c.Trigger())
	err := c.SetMode(models.ScanModeQuick)
	assert.True(t, errors.Is(err, ErrModeLocked))
	assert.Equal(t, models.ScanModeFull, c.Mode())
	assert.Empty(t, obs.modes)

	for i := 0; i < 7; i++ {
		sched.fire()
	}
	require.NoError(t, c.SetMode(models.ScanModeQuick))
	assert.Equal(t, models.ScanModeQuick, c.Mode())
	assert.Equal(t, []models.ScanMode{models.ScanModeQuick}, obs.modes)
}

func TestClose_CancelsFullCaptureWithoutCompletion(t *testing.T) {
	source := &fakeSource{}
	c, sched, _, obs := newTestController(source, models.ScanModeFull)

	require.NoError(t, c.Trigger())
	sched.fire()
	sched.fire()
	callsBefore := source.calls

	require.NoError(t, c.Close())

	assert.True(t, sched.current().stopped)
	assert.True(t, source.closed)
	assert.Equal(t, StateIdle, c.State())

	// A tick already in flight when Close ran is discarded.
	sched.fire()
	assert.Equal(t, callsBefore, source.calls)
	assert.Empty(t, obs.completed)
	_, active := c.Active()
	assert.False(t, active)

	assert.True(t, errors.Is(c.Trigger(), ErrControllerClosed))
	assert.NoError(t, c.Close())
}

func TestClose_IdleReleasesSource(t *testing.T) {
	source := &fakeSource{}
	c, _, _, _ := newTestController(source, models.ScanModeQuick)

	require.NoError(t, c.Close())
	assert.True(t, source.closed)
}

func TestFullCapture_NewSessionAfterCompletion(t *testing.T) {
	source := &fakeSource{}
	c, sched, _, obs := newTestController(source, models.ScanModeFull)

	require.NoError(t, c.Trigger())
	for i := 0; i < 7; i++ {
		sched.fire()
	}
	require.NoError(t, c.Trigger())
	assert.Len(t, sched.tasks, 2)
	assert.Equal(t, StateFullCapturing, c.State())

	// The finished first ticker cannot touch the new session.
	sched.tasks[0].fn()
	active, ok := c.Active()
	require.True(t, ok)
	assert.Empty(t, active.Frames)
	assert.Len(t, obs.completed, 1)
}

func TestConfig_CustomWindow(t *testing.T) {
	source := &fakeSource{}
	sched := &manualScheduler{}
	obs := &observerRecorder{}
	c := NewController(source, nil,
		WithScheduler(sched),
		WithObserver(obs),
		WithMode(models.ScanModeFull),
		WithConfig(Config{Window: time.Second, Interval: 500 * time.Millisecond}))

	require.NoError(t, c.Trigger())
	sched.fire()
	assert.Empty(t, obs.completed)
	sched.fire()
	require.Len(t, obs.completed, 1)
	assert.Equal(t, []float64{0.5, 1.0}, obs.progress)
}

func TestConfig_InvalidFallsBackToDefaults(t *testing.T) {
	c := NewController(&fakeSource{}, nil, WithConfig(Config{}))
	assert.Equal(t, DefaultConfig(), c.Config())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "armed", StateArmed.String())
	assert.Equal(t, "quick_capturing", StateQuickCapturing.String())
	assert.Equal(t, "full_capturing", StateFullCapturing.String())
}

// blockingSource holds every CaptureFrame call until release is closed.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	closed  bool
}

func newBlockingSource() *blockingSource {
	return &blockingSource{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingSource) CaptureFrame() ([]byte, bool) {
	b.entered <- struct{}{}
	<-b.release
	return []byte{1}, true
}

func (b *blockingSource) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func waitOrFail(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s blocked while a frame was being taken", what)
	}
}

func TestClose_DoesNotWaitForFullScanFrame(t *testing.T) {
	source := newBlockingSource()
	sched := &manualScheduler{}
	obs := &observerRecorder{}
	c := NewController(source, &hapticRecorder{}, WithScheduler(sched), WithObserver(obs), WithMode(models.ScanModeFull))

	require.NoError(t, c.Trigger())
	tickDone := make(chan struct{})
	go func() {
		sched.fire()
		close(tickDone)
	}()
	<-source.entered

	accessors := make(chan struct{})
	go func() {
		c.Mode()
		c.State()
		c.Active()
		close(accessors)
	}()
	waitOrFail(t, accessors, "accessors")

	closed := make(chan struct{})
	go func() {
		assert.NoError(t, c.Close())
		close(closed)
	}()
	waitOrFail(t, closed, "Close")
	source.mu.Lock()
	assert.True(t, source.closed)
	source.mu.Unlock()

	close(source.release)
	waitOrFail(t, tickDone, "tick")
	assert.Empty(t, obs.progress, "frame from a cancelled scan is discarded")
	assert.Empty(t, obs.completed)
}

func TestClose_DoesNotWaitForQuickScanFrame(t *testing.T) {
	source := newBlockingSource()
	obs := &observerRecorder{}
	c := NewController(source, &hapticRecorder{}, WithScheduler(&manualScheduler{}), WithObserver(obs))

	triggered := make(chan struct{})
	go func() {
		assert.NoError(t, c.Trigger())
		close(triggered)
	}()
	<-source.entered

	assert.Equal(t, StateQuickCapturing, c.State())
	assert.True(t, errors.Is(c.SetMode(models.ScanModeFull), ErrModeLocked))

	closed := make(chan struct{})
	go func() {
		assert.NoError(t, c.Close())
		close(closed)
	}()
	waitOrFail(t, closed, "Close")

	close(source.release)
	waitOrFail(t, triggered, "Trigger")
	assert.Empty(t, obs.completed)
	assert.Equal(t, StateIdle, c.State())
}
