package export

import "errors"

// Sentinel error kinds surfaced in ExportResult.Error and matched by
// callers with errors.Is.
var (
	// ErrUnsupportedFormat marks a request whose format is outside the
	// recognized enumeration.
	ErrUnsupportedFormat = errors.New("unsupported export format")

	// ErrCaptureTimeout marks a capture that exceeded its deadline.
	ErrCaptureTimeout = errors.New("capture timeout")

	// ErrMissingSource marks a request lacking the element or data its
	// format family requires.
	ErrMissingSource = errors.New("missing export source")
)
