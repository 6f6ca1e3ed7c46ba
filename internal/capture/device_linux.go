//go:build linux

package capture

import (
	"sync"
)

// Device is a V4L2 camera source.
type Device struct {
	mu      sync.Mutex
	path    string
	width   int
	height  int
	fd      int
	readBuf []byte
	closed  bool

	avail   availability
	hotplug *hotplugWatcher
}

// Options configure a capture device.
type Options struct {
	// DevicePath is the device node, e.g. /dev/video0.
	DevicePath string

	// Width and Height request a capture resolution.
	Width  int
	Height int

	// HotplugWatch detects device removal via the device directory instead
	// of waiting for the next failed read.
	HotplugWatch bool
}

// Open opens the capture device. Setup failures return an always-unavailable
// source rather than an error: a missing camera must not stop the exam
// client, it only disables face and object detection.
func Open(opts Options) Source {
	d := &Device{
		path:   opts.DevicePath,
		width:  opts.Width,
		height: opts.Height,
		fd:     -1,
	}
	d.avail.ok = true

	if err := d.openDevice(); err != nil {
		return Unavailable("camera unavailable: " + err.Error())
	}

	if opts.HotplugWatch {
		if hw, err := watchDeviceNode(opts.DevicePath, &d.avail); err == nil {
			d.hotplug = hw
		}
	}

	return d
}

// NextFrame returns the most recent frame without blocking.
func (d *Device) NextFrame() (*Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, false
	}
	if ok, _ := d.avail.get(); !ok {
		return nil, false
	}
	return d.readFrame()
}

// Available reports whether the device can produce frames.
func (d *Device) Available() (bool, string) {
	return d.avail.get()
}

// Close releases the device and stops the hotplug watcher.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.hotplug != nil {
		d.hotplug.stop()
	}
	return d.closeDevice()
}
