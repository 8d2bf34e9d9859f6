package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"log"

	"github.com/remotectl/remotectl/internal/capability"
)

// The CLI binary has no real accessibility or capture services behind it;
// these stubs log gestures and synthesize frames so controllers can be
// exercised end to end against the full protocol. A host application
// embeds the packages directly and supplies real providers instead.

type stubInjector struct{}

func newStubInjector() capability.Injector { return stubInjector{} }

func (stubInjector) Available() bool { return true }

func (stubInjector) Tap(_ context.Context, x, y float64) error {
	log.Printf("[Stub] tap %.0f,%.0f", x, y)
	return nil
}

func (stubInjector) Swipe(_ context.Context, x1, y1, x2, y2 float64, durationMs int) error {
	log.Printf("[Stub] swipe %.0f,%.0f -> %.0f,%.0f over %dms", x1, y1, x2, y2, durationMs)
	return nil
}

func (stubInjector) TypeText(_ context.Context, text string) error {
	log.Printf("[Stub] type %q", text)
	return nil
}

func (stubInjector) Global(_ context.Context, action capability.GlobalAction) error {
	log.Printf("[Stub] global %s", action)
	return nil
}

func (stubInjector) Scroll(_ context.Context, direction string) error {
	switch direction {
	case "up", "down", "left", "right":
		log.Printf("[Stub] scroll %s", direction)
		return nil
	default:
		return capability.ErrFailed
	}
}

type stubCapture struct{}

func newStubCapture() capability.Capture { return stubCapture{} }

func (stubCapture) Ready() bool { return true }

// Screenshot returns a synthesized gray frame encoded at the requested
// quality.
func (stubCapture) Screenshot(_ context.Context, quality int) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.Black)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
