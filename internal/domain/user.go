// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxPeerIDLen = 64

var (
	ErrPeerIDEmpty   = errors.New("peer id empty")
	ErrPeerIDTooLong = errors.New("peer id too long")
)

type (
	// PeerID identifies a participant: one signaling connection.
	PeerID      string
	TransportID string
	ProducerID  string
	ConsumerID  string
	RouterID    string
)

func NewPeerID() PeerID { return PeerID(uuid.NewString()) }

func NewTransportID() TransportID { return TransportID(uuid.NewString()) }

func NewProducerID() ProducerID { return ProducerID(uuid.NewString()) }

func NewConsumerID() ConsumerID { return ConsumerID(uuid.NewString()) }

func NewRouterID() RouterID { return RouterID(uuid.NewString()) }

func (id PeerID) Validate() error {
	if len(id) == 0 {
		return ErrPeerIDEmpty
	}
	if len(id) > MaxPeerIDLen {
		return ErrPeerIDTooLong
	}
	return nil
}
