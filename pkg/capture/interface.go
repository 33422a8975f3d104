package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/agoraflux/chart-export/pkg/model"
)

// Backend defines the interface for headless capture backends
type Backend interface {
	// CaptureElement renders the page hosting the element and screenshots
	// the node matched by the element selector
	CaptureElement(ctx context.Context, el *model.Element, opts model.CaptureOptions) (image.Image, error)

	// Close cleans up resources used by the backend
	Close() error

	// Name returns the name of the backend
	Name() string
}

// NewBackend creates a capture backend according to config.Backend.
// Defaults to Chromium via go-rod.
func NewBackend(config model.CaptureConfig) (Backend, error) {
	switch config.Backend {
	case "", "chromium":
		return NewChromiumBackend(config), nil
	case "playwright":
		return NewPlaywrightBackend(config), nil
	default:
		return nil, fmt.Errorf("unknown capture backend: %q", config.Backend)
	}
}
