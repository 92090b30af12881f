package models

import (
	"fmt"
	"strings"
	"time"
)

type ScanMode int

const (
	ScanModeQuick ScanMode = iota
	ScanModeFull
)

func (m ScanMode) String() string {
	switch m {
	case ScanModeQuick:
		return "quick"
	case ScanModeFull:
		return "full"
	default:
		return fmt.Sprintf("ScanMode(%d)", int(m))
	}
}

// ParseScanMode accepts "quick" or "full" in any case.
func ParseScanMode(s string) (ScanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quick":
		return ScanModeQuick, nil
	case "full":
		return ScanModeFull, nil
	default:
		return ScanModeQuick, NewInvalidRequest(fmt.Sprintf("unknown scan mode %q", s))
	}
}

// Frame is a single encoded still image (JPEG) taken from the live feed.
type Frame struct {
	Index      int
	Data       []byte
	CapturedAt time.Time
}

// Capture is the result of one completed capture session.
type Capture struct {
	Mode   ScanMode
	Frames []Frame
}

// Images returns the encoded frame payloads in capture order.
func (c Capture) Images() [][]byte {
	images := make([][]byte, 0, len(c.Frames))
	for _, f := range c.Frames {
		images = append(images, f.Data)
	}
	return images
}
