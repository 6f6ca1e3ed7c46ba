//go:build !linux

package guard

import "context"

// noopHost is used on platforms without a native navigation host.
type noopHost struct {
	events chan HostEvent
}

// NewPlatformHost returns the native navigation host for this platform.
func NewPlatformHost() Host {
	return &noopHost{events: make(chan HostEvent)}
}

func (h *noopHost) Available() (bool, string) {
	return false, "no navigation host on this platform"
}

func (h *noopHost) Start(ctx context.Context) error { return nil }
func (h *noopHost) Stop() error                     { return nil }
func (h *noopHost) Events() <-chan HostEvent        { return h.events }
func (h *noopHost) ArmBackTrap(depth int) error     { return nil }
func (h *noopHost) SetConfirmUnload(enabled bool)   {}
