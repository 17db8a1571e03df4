package protocol

import "github.com/dkeye/VoiceCall/internal/domain"

type RoomRequest struct {
	Room domain.RoomName `json:"room"`
}

type CapabilitiesResponse struct {
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
}

type JoinResponse struct {
	Room              domain.RoomName       `json:"room"`
	PeerID            domain.PeerID         `json:"peerId"`
	ExistingProducers []domain.ProducerInfo `json:"existingProducers"`
}

type CreateTransportRequest struct {
	IsSender bool `json:"isSender"`
}

type ConnectTransportRequest struct {
	TransportID domain.TransportID `json:"transportId"`
	domain.ConnectParams
}

type ProduceRequest struct {
	TransportID domain.TransportID `json:"transportId"`
	domain.ProduceParams
}

type ProduceResponse struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type CloseProducerRequest struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type ConsumeRequest struct {
	ProducerID      domain.ProducerID      `json:"producerId"`
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
}

type ResumeRequest struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type WhoAmIResponse struct {
	PeerID domain.PeerID   `json:"peerId"`
	Room   domain.RoomName `json:"room,omitempty"`
}

type Ack struct {
	OK bool `json:"ok"`
}

// NewProducerEvent is the payload of new-producer.
type NewProducerEvent = domain.ProducerInfo

type ProducerClosedEvent struct {
	ProducerID domain.ProducerID `json:"producerId"`
	PeerID     domain.PeerID     `json:"peerId,omitempty"`
}

type PeerEvent struct {
	PeerID domain.PeerID `json:"peerId"`
}

// CallSignal travels client to server with ToID set and server to client
// with FromID set.
type CallSignal struct {
	ToID     domain.PeerID   `json:"toId,omitempty"`
	FromID   domain.PeerID   `json:"fromId,omitempty"`
	CallKind domain.CallKind `json:"callKind,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}
