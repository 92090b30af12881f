package utils

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CameraCapture grabs single JPEG frames from a local camera through ffmpeg.
type CameraCapture struct {
	DeviceID int
	// FrameTimeout bounds a single capture process.
	FrameTimeout time.Duration

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	goos   string
	run    func(ctx context.Context, name string, args ...string) ([]byte, error)
	logger *zap.Logger
}

func NewCameraCapture(deviceID int) *CameraCapture {
	ctx, cancel := context.WithCancel(context.Background())
	return &CameraCapture{
		DeviceID:     deviceID,
		FrameTimeout: 5 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
		goos:         runtime.GOOS,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
		logger: zap.L(),
	}
}

// runCapture runs one capture command, killed on timeout or Close.
func (c *CameraCapture) runCapture(name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.FrameTimeout)
	defer cancel()
	return c.run(ctx, name, args...)
}

func (c *CameraCapture) ffmpegArgs() ([]string, error) {
	var input []string
	switch c.goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-video_size", "640x480", "-framerate", "30", "-i", fmt.Sprintf("%d", c.DeviceID)}
	case "linux":
		input = []string{"-f", "v4l2", "-video_size", "640x480", "-i", fmt.Sprintf("/dev/video%d", c.DeviceID)}
	case "windows":
		input = []string{"-f", "dshow", "-video_size", "640x480", "-i", "video=USB Camera"}
	default:
		return nil, fmt.Errorf("unsupported operating system: %s", c.goos)
	}
	return append(input,
		"-loglevel", "error",
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"-"), nil
}

// CaptureImage captures one frame and returns it as JPEG bytes.
func (c *CameraCapture) CaptureImage() ([]byte, error) {
	args, err := c.ffmpegArgs()
	if err != nil {
		return nil, err
	}

	output, err := c.runCapture("ffmpeg", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to capture image: %w", err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("no image data captured")
	}

	c.logger.Debug("Successfully captured image", zap.Int("size", len(output)))
	return output, nil
}

// CaptureImageMacOS uses imagesnap, when installed, as a fallback on macOS.
func (c *CameraCapture) CaptureImageMacOS() ([]byte, error) {
	if c.goos != "darwin" {
		return nil, fmt.Errorf("imagesnap is only available on macOS")
	}

	output, err := c.runCapture("imagesnap", "-d", "0", "-f", "jpeg", "-")
	if err != nil {
		return nil, fmt.Errorf("failed to capture image with imagesnap: %w", err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("no image data captured")
	}
	return output, nil
}

// CaptureFrame returns a frame, or false when the camera cannot provide one
// right now.
func (c *CameraCapture) CaptureFrame() ([]byte, bool) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, false
	}

	data, err := c.CaptureImage()
	if err == nil {
		return data, true
	}
	c.logger.Warn("Primary capture method failed", zap.Error(err))

	if c.goos == "darwin" {
		data, err := c.CaptureImageMacOS()
		if err == nil {
			return data, true
		}
		c.logger.Warn("Alternative capture method also failed", zap.Error(err))
	}
	return nil, false
}

// Close stops further captures and kills a capture process still running.
func (c *CameraCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cancel()
	return nil
}
