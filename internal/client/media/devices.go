package media

import (
	"context"
	"errors"
	"fmt"
)

// Capture failure names, as reported by the platform's media devices API.
const (
	NotAllowed      = "NotAllowedError"
	NotFound        = "NotFoundError"
	NotReadable     = "NotReadableError"
	Overconstrained = "OverconstrainedError"
	Aborted         = "AbortError"
)

// DeviceError is a capture failure carrying the platform error name.
type DeviceError struct {
	Name string
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return e.Name
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// deviceErrorName returns the platform name of err, or "".
func deviceErrorName(err error) string {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Name
	}
	return ""
}

type VideoConstraints struct {
	Width      int
	Height     int
	FrameRate  int
	FacingMode string
}

// Constraints selects what to capture. A nil Video captures no video.
type Constraints struct {
	Audio bool
	Video *VideoConstraints
}

// Devices is the platform capture API.
type Devices interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
}
