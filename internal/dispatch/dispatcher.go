// Package dispatch maps command envelopes to capability calls. Both
// connection managers share one Dispatcher so the listen and relay paths
// cannot drift apart.
package dispatch

import (
	"context"
	"errors"
	"log"

	"github.com/remotectl/remotectl/internal/capability"
	"github.com/remotectl/remotectl/internal/protocol"
)

// Swipe duration bounds in milliseconds.
const (
	defaultSwipeDuration = 300
	minSwipeDuration     = 50
)

// defaultScreenshotQuality is the JPEG quality used when the controller
// omits one.
const defaultScreenshotQuality = 50

// Dispatcher resolves an inbound command against the capability providers
// and produces exactly one result envelope. It holds no mutable state of
// its own and is safe for concurrent use across connections.
type Dispatcher struct {
	injector capability.Injector
	capture  capability.Capture
}

// New creates a dispatcher over the given providers. Either provider may
// be nil; commands needing an absent provider degrade to error results.
func New(injector capability.Injector, capture capability.Capture) *Dispatcher {
	return &Dispatcher{injector: injector, capture: capture}
}

// Dispatch executes one command and returns its result. The correlation
// id is echoed by the caller, not here. Faults never escape: a panic
// inside a capability call is recovered and reported as an exception
// result so a misbehaving provider cannot take down the connection.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *protocol.Command) (res protocol.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Dispatch] recovered panic in %q: %v", cmd.Action, r)
			res = protocol.Errorf("exception: %v", r)
		}
	}()

	switch cmd.Action {
	case protocol.ActionPing:
		return protocol.OKMessage("pong")
	case protocol.ActionScreenshot:
		return d.screenshot(ctx, cmd)
	}

	// Everything else is interactive and needs the injection service.
	if d.injector == nil || !d.injector.Available() {
		return protocol.Error("Accessibility service not running")
	}

	switch cmd.Action {
	case protocol.ActionTap:
		return d.tap(ctx, cmd)
	case protocol.ActionSwipe:
		return d.swipe(ctx, cmd)
	case protocol.ActionType:
		return d.typeText(ctx, cmd)
	case protocol.ActionBack, protocol.ActionHome, protocol.ActionRecents:
		return d.result(cmd.Action, d.injector.Global(ctx, capability.GlobalAction(cmd.Action)))
	case protocol.ActionScroll:
		return d.scroll(ctx, cmd)
	default:
		return protocol.Errorf("unknown action: %s", cmd.Action)
	}
}

func (d *Dispatcher) tap(ctx context.Context, cmd *protocol.Command) protocol.Result {
	x, ok := cmd.Float("x")
	if !ok {
		return protocol.Error("missing x")
	}
	y, ok := cmd.Float("y")
	if !ok {
		return protocol.Error("missing y")
	}
	return d.result(cmd.Action, d.injector.Tap(ctx, x, y))
}

func (d *Dispatcher) swipe(ctx context.Context, cmd *protocol.Command) protocol.Result {
	coords := make([]float64, 0, 4)
	for _, name := range []string{"x1", "y1", "x2", "y2"} {
		v, ok := cmd.Float(name)
		if !ok {
			return protocol.Error("missing " + name)
		}
		coords = append(coords, v)
	}
	duration := cmd.Int("duration", defaultSwipeDuration)
	if duration < minSwipeDuration {
		duration = minSwipeDuration
	}
	return d.result(cmd.Action,
		d.injector.Swipe(ctx, coords[0], coords[1], coords[2], coords[3], duration))
}

func (d *Dispatcher) typeText(ctx context.Context, cmd *protocol.Command) protocol.Result {
	text, ok := cmd.String("text")
	if !ok {
		return protocol.Error("missing text")
	}
	return d.result(cmd.Action, d.injector.TypeText(ctx, text))
}

func (d *Dispatcher) scroll(ctx context.Context, cmd *protocol.Command) protocol.Result {
	direction, ok := cmd.String("direction")
	if !ok {
		return protocol.Error("missing direction")
	}
	// Direction validation is the capability's job; an unrecognized
	// direction comes back as a plain failure.
	return d.result(cmd.Action, d.injector.Scroll(ctx, direction))
}

// screenshot is reachable even with no injector; it only needs the
// capture pipeline.
func (d *Dispatcher) screenshot(ctx context.Context, cmd *protocol.Command) protocol.Result {
	if d.capture == nil || !d.capture.Ready() {
		return protocol.Error("screen capture not initialized")
	}
	quality := cmd.Int("quality", defaultScreenshotQuality)
	image, err := d.capture.Screenshot(ctx, quality)
	if err != nil {
		return d.result(cmd.Action, err)
	}
	if image == "" {
		return protocol.Error("screenshot failed")
	}
	res := protocol.OK()
	res.Image = image
	return res
}

// result converts a capability call outcome into a result envelope,
// keeping reported failure and unexpected fault distinguishable.
func (d *Dispatcher) result(action string, err error) protocol.Result {
	switch {
	case err == nil:
		return protocol.OK()
	case errors.Is(err, capability.ErrFailed):
		return protocol.Errorf("%s failed", action)
	default:
		return protocol.Errorf("exception: %v", err)
	}
}
