package core

import (
	"context"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// Engine is the SFU media engine. The orchestration layer only ever talks to
// it through these interfaces.
type Engine interface {
	// NewRouter allocates routing state for one room.
	NewRouter(ctx context.Context) (Router, error)
}

type Router interface {
	ID() domain.RouterID
	Capabilities() domain.RtpCapabilities
	// CanConsume reports whether a live producer can be delivered to a
	// device with the given capabilities.
	CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool
	CreateTransport(ctx context.Context, dir domain.Direction) (Transport, error)
	Close()
}

type Transport interface {
	ID() domain.TransportID
	Direction() domain.Direction
	HandshakeParams() domain.HandshakeParams
	// Connect is a no-op once the transport is connected.
	Connect(ctx context.Context, params domain.ConnectParams) error
	Produce(ctx context.Context, params domain.ProduceParams) (Producer, error)
	// Consume creates a paused consumer of a producer on the same router.
	Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities) (Consumer, error)
	Close()
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Close()
}

type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Paused() bool
	Resume(ctx context.Context) error
	Close()
	// OnProducerClose registers a callback run once, on its own goroutine,
	// after the source producer closed.
	OnProducerClose(fn func())
}
