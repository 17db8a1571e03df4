package domain

type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

func (k CallKind) WantsVideo() bool { return k == CallVideo }

// Decline reasons carried by call-decline.
const (
	ReasonDeclined = "declined"
	ReasonBusy     = "busy"
	ReasonTimeout  = "timeout"
)

// End reasons carried by call-end.
const (
	ReasonHangup       = "hangup"
	ReasonDisconnected = "disconnected"
)
