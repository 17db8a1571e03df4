package core

import (
	"context"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []PeerSession
}

// RoomRegistry owns every room and the per-peer media state inside it.
// Mutations of one room are applied in arrival order and the events they
// produce reach every recipient in that same order.
type RoomRegistry interface {
	GetCapabilities(ctx context.Context, name domain.RoomName) (domain.RtpCapabilities, error)
	// Join registers peer in the room. onJoined runs before any later event
	// of the room can be delivered to peer.
	Join(ctx context.Context, name domain.RoomName, peer PeerSession, onJoined func([]domain.ProducerInfo)) ([]domain.ProducerInfo, error)
	CreateTransport(ctx context.Context, peerID domain.PeerID, dir domain.Direction) (domain.TransportInfo, error)
	ConnectTransport(ctx context.Context, peerID domain.PeerID, transportID domain.TransportID, params domain.ConnectParams) error
	Produce(ctx context.Context, peerID domain.PeerID, transportID domain.TransportID, params domain.ProduceParams) (domain.ProducerID, error)
	CloseProducer(peerID domain.PeerID, producerID domain.ProducerID) error
	Consume(ctx context.Context, peerID domain.PeerID, producerID domain.ProducerID, caps domain.RtpCapabilities) (domain.ConsumerInfo, error)
	ResumeConsumer(ctx context.Context, peerID domain.PeerID, consumerID domain.ConsumerID)
	// Leave releases everything the peer owns. It reports the room the peer
	// was in, if any.
	Leave(peerID domain.PeerID) (domain.RoomName, bool)

	RoomOf(peerID domain.PeerID) (domain.RoomName, bool)
	Peers(name domain.RoomName) []domain.PeerID
	Info(name domain.RoomName) (domain.RoomInfo, bool)
	List() []domain.RoomInfo
}
