package domain

import "errors"

// Room registry failures.
var (
	ErrRoomNotReady             = errors.New("room not ready")
	ErrRoomFull                 = errors.New("room full")
	ErrPeerNotFound             = errors.New("peer not found")
	ErrTransportNotFound        = errors.New("transport not found")
	ErrWrongDirection           = errors.New("wrong transport direction")
	ErrIncompatibleCapabilities = errors.New("incompatible capabilities")
	ErrNoRecvTransport          = errors.New("no recv transport")
	ErrProducerNotFound         = errors.New("producer not found")
	ErrConsumerNotFound         = errors.New("consumer not found")
	ErrBadPayload               = errors.New("bad payload")
	ErrRateLimited              = errors.New("rate limited")
)

// Call level taxonomy.
var (
	ErrMediaPermissionDenied = errors.New("media permission denied")
	ErrDeviceUnavailable     = errors.New("device unavailable")
	ErrCapabilityMismatch    = errors.New("capability mismatch")
	ErrPeerUnavailable       = errors.New("peer unavailable")
	ErrCallDeclined          = errors.New("call declined")
	ErrCallTimeout           = errors.New("call timed out")
	ErrBusy                  = errors.New("busy")
	ErrTransportFailure      = errors.New("transport failure")
	ErrSignalingDisconnected = errors.New("signaling disconnected")
	ErrConsumeRace           = errors.New("producer closed before consume")
)

var codes = []struct {
	code string
	err  error
}{
	{"room-not-ready", ErrRoomNotReady},
	{"room-full", ErrRoomFull},
	{"peer-not-found", ErrPeerNotFound},
	{"transport-not-found", ErrTransportNotFound},
	{"wrong-direction", ErrWrongDirection},
	{"incompatible-capabilities", ErrIncompatibleCapabilities},
	{"no-recv-transport", ErrNoRecvTransport},
	{"producer-not-found", ErrProducerNotFound},
	{"consumer-not-found", ErrConsumerNotFound},
	{"bad-payload", ErrBadPayload},
	{"rate-limited", ErrRateLimited},
	{"media-permission-denied", ErrMediaPermissionDenied},
	{"device-unavailable", ErrDeviceUnavailable},
	{"capability-mismatch", ErrCapabilityMismatch},
	{"peer-unavailable", ErrPeerUnavailable},
	{"call-declined", ErrCallDeclined},
	{"call-timeout", ErrCallTimeout},
	{"busy", ErrBusy},
	{"transport-failure", ErrTransportFailure},
	{"signaling-disconnected", ErrSignalingDisconnected},
	{"consume-race", ErrConsumeRace},
}

const CodeInternal = "internal"

// ErrorCode maps an error to its stable wire code.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorFromCode is the inverse of ErrorCode. Unknown codes yield nil.
func ErrorFromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
