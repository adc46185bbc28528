// Package tray provides an optional system tray control for the running
// service: pause/resume dispatching, reload mappings, quit.
package tray

import (
	"github.com/getlantern/systray"
)

// Callbacks are invoked from tray menu clicks, on systray's goroutines
type Callbacks struct {
	// OnPause toggles dispatching; the returned state drives the checkmark
	OnPause func() (paused bool)

	// OnReload re-reads the configuration and rebuilds the mapping table
	OnReload func()

	// OnQuit shuts the service down
	OnQuit func()
}

// Tray manages the system tray icon and menu
type Tray struct {
	cb     Callbacks
	quitCh chan struct{}
}

// New creates a tray with the given callbacks
func New(cb Callbacks) *Tray {
	return &Tray{
		cb:     cb,
		quitCh: make(chan struct{}),
	}
}

// Run starts the tray event loop. Blocks; systray requires it to run on
// the main thread on some platforms.
func (t *Tray) Run() {
	systray.Run(t.setup, t.onExit)
}

// Stop stops the tray event loop
func (t *Tray) Stop() {
	systray.Quit()
}

func (t *Tray) onExit() {
	close(t.quitCh)
}

func (t *Tray) setup() {
	systray.SetTitle("Mice Piper")
	systray.SetTooltip("Mouse button mapper")
	systray.SetIcon(getIcon())

	pauseItem := systray.AddMenuItemCheckbox("Pause mapping", "Stop dispatching actions", false)
	reloadItem := systray.AddMenuItem("Reload mappings", "Re-read the configuration file")
	systray.AddSeparator()
	quitItem := systray.AddMenuItem("Quit", "Stop the service")

	go func() {
		for {
			select {
			case <-pauseItem.ClickedCh:
				if t.cb.OnPause != nil {
					if t.cb.OnPause() {
						pauseItem.Check()
					} else {
						pauseItem.Uncheck()
					}
				}

			case <-reloadItem.ClickedCh:
				if t.cb.OnReload != nil {
					t.cb.OnReload()
				}

			case <-quitItem.ClickedCh:
				if t.cb.OnQuit != nil {
					t.cb.OnQuit()
				}
				systray.Quit()
				return

			case <-t.quitCh:
				return
			}
		}
	}()
}

// getIcon returns a placeholder icon (valid 16x16 ICO)
func getIcon() []byte {
	// A valid 16x16 32-bit ICO file with correct size and DIB header
	icon := make([]byte, 1118)
	// ICO Header
	copy(icon[0:6], []byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00})
	// Icon Directory
	copy(icon[6:22], []byte{
		0x10, 0x10, 0x00, 0x00, 0x01, 0x00, 0x20, 0x00,
		0x48, 0x04, 0x00, 0x00,
		0x16, 0x00, 0x00, 0x00,
	})
	// DIB Header
	copy(icon[22:62], []byte{
		0x28, 0x00, 0x00, 0x00, // Size
		0x10, 0x00, 0x00, 0x00, // Width
		0x20, 0x00, 0x00, 0x00, // Height (16 * 2 for icon)
		0x01, 0x00, // Planes
		0x20, 0x00, // BPP
		0x00, 0x00, 0x00, 0x00, // Compression
		0x00, 0x04, 0x00, 0x00, // Image Size
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	})
	// The rest (pixels and mask) can stay 0 for transparency
	return icon
}
