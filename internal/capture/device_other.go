//go:build !linux

package capture

// Options configure a capture device.
type Options struct {
	DevicePath   string
	Width        int
	Height       int
	HotplugWatch bool
}

// Open returns an always-unavailable source on platforms without camera
// capture support. Proctoring is disabled; the rest of the client runs.
func Open(opts Options) Source {
	return Unavailable("camera capture not supported on this platform")
}
