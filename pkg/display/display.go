// Package display shows annotated frames and reports key presses.
package display

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// WindowTitle is the title of the on-screen window.
const WindowTitle = "Obstacle Detection"

// NoKey is returned by PollKey when nothing was pressed.
const NoKey = -1

// Display shows frames and polls the keyboard.
type Display interface {
	// Show renders frame. It does not retain it.
	Show(frame gocv.Mat)

	// PollKey waits up to wait milliseconds and returns the pressed key
	// code, or NoKey.
	PollKey(wait int) int

	// Close releases the display. It is safe to call more than once.
	Close() error
}

// Window is a gocv highgui window.
type Window struct {
	window *gocv.Window

	mu     sync.Mutex
	closed bool
}

// NewWindow opens a window titled title.
func NewWindow(title string) *Window {
	return &Window{window: gocv.NewWindow(title)}
}

// Show draws frame in the window. Empty frames are skipped.
func (w *Window) Show(frame gocv.Mat) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || frame.Empty() {
		return
	}
	w.window.IMShow(frame)
}

// PollKey pumps window events for wait milliseconds.
func (w *Window) PollKey(wait int) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return NoKey
	}
	key := w.window.WaitKey(wait)
	if key < 0 {
		return NoKey
	}
	return key & 0xFF
}

// Close destroys the window.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.window.Close()
}

// Headless discards frames. Keys never arrive, so only cancellation or a
// failed read ends a headless run.
type Headless struct{}

// NewHeadless returns a display without a window.
func NewHeadless() *Headless {
	return &Headless{}
}

// Show discards frame.
func (h *Headless) Show(gocv.Mat) {}

// PollKey sleeps for wait milliseconds to keep the loop's pacing.
func (h *Headless) PollKey(wait int) int {
	if wait > 0 {
		time.Sleep(time.Duration(wait) * time.Millisecond)
	}
	return NoKey
}

// Close is a no-op.
func (h *Headless) Close() error {
	return nil
}
