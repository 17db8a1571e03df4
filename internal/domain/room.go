package domain

import (
	"errors"
	"slices"
	"strings"
)

const MaxRoomNameLen = 128

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
)

type RoomName string

// PrivateRoomName derives the room for a one-to-one call. Both sides compute
// the same name regardless of who placed the call.
func PrivateRoomName(a, b PeerID) RoomName {
	ids := []string{string(a), string(b)}
	slices.Sort(ids)
	return RoomName("call:" + strings.Join(ids, "+"))
}

func (n RoomName) Validate() error {
	if len(n) == 0 {
		return ErrRoomNameEmpty
	}
	if len(n) > MaxRoomNameLen {
		return ErrRoomNameTooLong
	}
	return nil
}

// ProducerInfo is what other peers learn about a live producer.
type ProducerInfo struct {
	ProducerID ProducerID `json:"producerId"`
	MediaRole  MediaRole  `json:"mediaRole"`
	PeerID     PeerID     `json:"peerId"`
	Kind       MediaKind  `json:"kind"`
}

// RoomInfo is a read-only view for APIs.
type RoomInfo struct {
	Name          RoomName `json:"name"`
	PeerCount     int      `json:"peer_count"`
	ProducerCount int      `json:"producer_count"`
	Ready         bool     `json:"ready"`
}
