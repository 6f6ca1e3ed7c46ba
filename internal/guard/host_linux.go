//go:build linux

package guard

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// dbusHost watches the desktop session over D-Bus. It covers the
// visibility/focus side of the host contract for a native Linux client:
// screen lock and screensaver activation hide the exam surface. Back-trap
// and unload confirmation belong to the embedding shell; on this host they
// are no-ops.
type dbusHost struct {
	mu     sync.Mutex
	conn   *dbus.Conn
	events chan HostEvent
	cancel context.CancelFunc
}

// NewPlatformHost returns the native navigation host for this platform.
func NewPlatformHost() Host {
	return &dbusHost{events: make(chan HostEvent, 32)}
}

func (h *dbusHost) Available() (bool, string) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return false, "session bus unavailable: " + err.Error()
	}
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	return true, ""
}

func (h *dbusHost) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		conn, err := dbus.SessionBus()
		if err != nil {
			return err
		}
		h.conn = conn
	}

	if err := h.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.ScreenSaver"),
		dbus.WithMatchMember("ActiveChanged"),
	); err != nil {
		return err
	}

	signals := make(chan *dbus.Signal, 32)
	h.conn.Signal(signals)

	ctx, h.cancel = context.WithCancel(ctx)
	go h.pump(ctx, signals)
	return nil
}

func (h *dbusHost) pump(ctx context.Context, signals chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig.Name != "org.freedesktop.ScreenSaver.ActiveChanged" || len(sig.Body) == 0 {
				continue
			}
			active, ok := sig.Body[0].(bool)
			if !ok || !active {
				continue
			}
			select {
			case h.events <- HostEvent{Type: VisibilityHidden, At: time.Now()}:
			default:
			}
		}
	}
}

func (h *dbusHost) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	return nil
}

func (h *dbusHost) Events() <-chan HostEvent { return h.events }

// ArmBackTrap is a no-op: a native shell has no history to flood. The
// embedding webview host implements the real trap.
func (h *dbusHost) ArmBackTrap(depth int) error { return nil }

func (h *dbusHost) SetConfirmUnload(enabled bool) {}
