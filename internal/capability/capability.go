// Package capability declares the contracts for the on-device collaborators
// the command core drives: input injection and frame capture. The core only
// calls these interfaces; the host application supplies the implementations
// and injects them at construction.
package capability

import (
	"context"
	"errors"
)

// ErrFailed reports that a capability call ran but did not succeed, as
// opposed to the capability being absent or a fault being raised inside it.
// The dispatcher turns it into "<action> failed".
var ErrFailed = errors.New("capability reported failure")

// GlobalAction identifies a navigation action with no parameters.
type GlobalAction string

const (
	GlobalBack    GlobalAction = "back"
	GlobalHome    GlobalAction = "home"
	GlobalRecents GlobalAction = "recents"
)

// Injector performs gestures, navigation, and text entry on the device.
// Calls may block until a platform-level gesture completion signal; the
// context is the dispatch task's and is canceled when its connection
// manager stops. A nil error means the gesture completed, ErrFailed means
// the platform reported failure, and any other error is an unexpected
// fault surfaced to the controller as "exception: ...".
type Injector interface {
	// Available reports whether the underlying injection service is
	// running. All interactive actions require it; ping and screenshot
	// do not.
	Available() bool

	Tap(ctx context.Context, x, y float64) error
	Swipe(ctx context.Context, x1, y1, x2, y2 float64, durationMs int) error
	TypeText(ctx context.Context, text string) error
	Global(ctx context.Context, action GlobalAction) error
	Scroll(ctx context.Context, direction string) error
}

// Capture produces on-demand screenshots.
type Capture interface {
	// Ready reports whether the capture pipeline has been initialized.
	Ready() bool

	// Screenshot returns a base64-encoded JPEG at the given quality
	// (0..100). An empty result with a nil error counts as a reported
	// failure.
	Screenshot(ctx context.Context, quality int) (string, error)
}
