// Package capture wraps the live video capture device for examd.
//
// The capture device is a signal source, nothing more: it hands frames to
// whoever polls it and reports whether it is usable. Detection logic lives
// elsewhere. A missing or denied camera is a setup error, never a
// violation; callers must treat "camera unavailable" as cannot-evaluate.
package capture

import (
	"errors"
	"sync"
	"time"
)

// Frame is a single captured video frame. Frames from the default device
// are MJPEG-encoded, ready to forward to the inference sidecar as-is.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Source provides periodic frame access.
type Source interface {
	// NextFrame returns the most recent frame, or ok=false when the device
	// has nothing ready. It never blocks.
	NextFrame() (frame *Frame, ok bool)

	// Available reports whether the source can produce frames. Once a
	// source reports unavailable with a permanent reason it stays that way.
	Available() (bool, string)

	// Close releases the capture device.
	Close() error
}

// ErrClosed is returned by operations on a closed source.
var ErrClosed = errors.New("capture: source closed")

// unavailableSource is a Source that can never produce frames.
type unavailableSource struct {
	reason string
}

// Unavailable returns a Source that permanently reports the given reason.
// Used on platforms without camera support and when device setup fails.
func Unavailable(reason string) Source {
	return &unavailableSource{reason: reason}
}

func (s *unavailableSource) NextFrame() (*Frame, bool) { return nil, false }
func (s *unavailableSource) Available() (bool, string) { return false, s.reason }
func (s *unavailableSource) Close() error              { return nil }

// availability tracks a source's usable/unusable state with a one-way
// transition to permanently unavailable.
type availability struct {
	mu     sync.Mutex
	ok     bool
	reason string
}

func (a *availability) get() (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ok, a.reason
}

// fail marks the source permanently unavailable. The first reason wins.
func (a *availability) fail(reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ok {
		a.ok = false
		a.reason = reason
	}
}
