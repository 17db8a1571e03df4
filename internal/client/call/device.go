package call

import (
	"context"
	"errors"

	"github.com/dkeye/VoiceCall/internal/client/media"
	"github.com/dkeye/VoiceCall/internal/domain"
)

// Signaler is the request/notify half of the signaling client.
type Signaler interface {
	Request(ctx context.Context, typ string, payload any, out any) error
	Notify(typ string, payload any) error
}

// ConnectHook sends a transport's local handshake parameters to the server.
type ConnectHook func(ctx context.Context, params domain.ConnectParams) error

// ProduceHook asks the server for a producer id for a track being sent.
type ProduceHook func(ctx context.Context, params domain.ProduceParams) (domain.ProducerID, error)

type SendHooks struct {
	Connect ConnectHook
	Produce ProduceHook
}

var errMissingHooks = errors.New("transport hooks missing")

func (h SendHooks) Validate() error {
	if h.Connect == nil || h.Produce == nil {
		return errMissingHooks
	}
	return nil
}

type RecvHooks struct {
	Connect ConnectHook
}

func (h RecvHooks) Validate() error {
	if h.Connect == nil {
		return errMissingHooks
	}
	return nil
}

// Device is the local SFU client. Transports can only be built with their
// hooks, so nothing can be produced before signaling is wired.
type Device interface {
	Load(caps domain.RtpCapabilities) error
	RtpCapabilities() domain.RtpCapabilities
	CanProduce(kind domain.MediaKind) bool
	CreateSendTransport(info domain.TransportInfo, hooks SendHooks) (SendTransport, error)
	CreateRecvTransport(info domain.TransportInfo, hooks RecvHooks) (RecvTransport, error)
}

type SendTransport interface {
	ID() domain.TransportID
	// Produce connects the transport through its hook on first use, then
	// publishes track.
	Produce(ctx context.Context, track media.Track, role domain.MediaRole) (LocalProducer, error)
	Close()
}

type RecvTransport interface {
	ID() domain.TransportID
	Consume(ctx context.Context, info domain.ConsumerInfo) (media.Track, error)
	Close()
}

type LocalProducer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Close()
}
