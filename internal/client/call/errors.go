package call

import (
	"errors"
	"fmt"

	"github.com/dkeye/VoiceCall/internal/domain"
)

var (
	ErrNoIncomingCall = errors.New("no incoming call")
	ErrBadConfig      = errors.New("bad phone config")
)

type Category string

const (
	CategoryMediaPermission    Category = "media-permission"
	CategoryCapabilityMismatch Category = "capability-mismatch"
	CategoryNetwork            Category = "network"
)

// SetupError is a failed room setup step.
type SetupError struct {
	Step     string
	Category Category
	Err      error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Step, e.Category, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

func setupError(step string, err error) *SetupError {
	return &SetupError{Step: step, Category: categorize(err), Err: err}
}

func categorize(err error) Category {
	switch {
	case errors.Is(err, domain.ErrMediaPermissionDenied), errors.Is(err, domain.ErrDeviceUnavailable):
		return CategoryMediaPermission
	case errors.Is(err, domain.ErrCapabilityMismatch), errors.Is(err, domain.ErrIncompatibleCapabilities):
		return CategoryCapabilityMismatch
	}
	return CategoryNetwork
}
