//go:build linux

package capture

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2 ioctl requests and flags used by the read()-based capture path.
const (
	vidiocQuerycap = 0x80685600 // VIDIOC_QUERYCAP
	vidiocSetFmt   = 0xc0d05605 // VIDIOC_S_FMT

	v4l2BufTypeVideoCapture = 1
	v4l2CapVideoCapture     = 0x00000001
	v4l2CapReadWrite        = 0x01000000

	// 'MJPG' fourcc. MJPEG keeps per-frame reads self-contained and the
	// payload is already what the inference sidecar expects.
	pixFmtMJPEG = 0x47504A4D

	v4l2FieldNone = 1
)

// v4l2Capability mirrors struct v4l2_capability.
type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

// v4l2PixFormat mirrors struct v4l2_pix_format.
type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// v4l2Format mirrors struct v4l2_format for the video-capture union arm.
type v4l2Format struct {
	Type uint32
	_    uint32 // padding to 8-byte union alignment
	Pix  v4l2PixFormat
	_    [200 - unsafe.Sizeof(v4l2PixFormat{})]byte
}

// openDevice opens the V4L2 device in non-blocking read mode and negotiates
// an MJPEG capture format.
func (d *Device) openDevice() error {
	fd, err := unix.Open(d.path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.path, err)
	}

	var caps v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("query capabilities: %w", err)
	}
	if caps.Capabilities&v4l2CapVideoCapture == 0 {
		unix.Close(fd)
		return fmt.Errorf("%s is not a video capture device", d.path)
	}
	if caps.Capabilities&v4l2CapReadWrite == 0 {
		unix.Close(fd)
		return fmt.Errorf("%s does not support read() capture", d.path)
	}

	format := v4l2Format{Type: v4l2BufTypeVideoCapture}
	format.Pix = v4l2PixFormat{
		Width:       uint32(d.width),
		Height:      uint32(d.height),
		PixelFormat: pixFmtMJPEG,
		Field:       v4l2FieldNone,
	}
	if err := ioctl(fd, vidiocSetFmt, unsafe.Pointer(&format)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("set format: %w", err)
	}

	// The driver may adjust the requested resolution.
	d.width = int(format.Pix.Width)
	d.height = int(format.Pix.Height)
	if format.Pix.SizeImage > 0 {
		d.readBuf = make([]byte, format.Pix.SizeImage)
	} else {
		d.readBuf = make([]byte, d.width*d.height*2)
	}

	d.fd = fd
	return nil
}

// readFrame pulls one frame from the device without blocking.
func (d *Device) readFrame() (*Frame, bool) {
	n, err := unix.Read(d.fd, d.readBuf)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.EINTR:
			// Nothing ready this tick.
			return nil, false
		case unix.ENODEV, unix.EIO, unix.EBADF:
			d.avail.fail("camera device lost: " + err.Error())
			return nil, false
		default:
			// Transient read failure: skip the tick.
			return nil, false
		}
	}
	if n <= 0 {
		return nil, false
	}

	data := make([]byte, n)
	copy(data, d.readBuf[:n])
	return &Frame{
		Data:       data,
		Width:      d.width,
		Height:     d.height,
		CapturedAt: time.Now(),
	}, true
}

func (d *Device) closeDevice() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
