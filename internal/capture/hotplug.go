package capture

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// hotplugWatcher watches the capture device's directory and flips the
// source to permanently unavailable when the device node disappears.
type hotplugWatcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

func watchDeviceNode(devicePath string, avail *availability) (*hotplugWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(devicePath)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	hw := &hotplugWatcher{
		fsWatcher: fsWatcher,
		done:      make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-hw.done:
				return
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				if event.Name != devicePath {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					avail.fail("camera device removed")
				}
			case _, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				// Watch errors are not device failures; keep going.
			}
		}
	}()

	return hw, nil
}

func (hw *hotplugWatcher) stop() {
	close(hw.done)
	hw.fsWatcher.Close()
}
