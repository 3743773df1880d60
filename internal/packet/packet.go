package packet

import (
	"fmt"

	"github.com/cbeuw/netcode/internal/token"
)

type Type uint8

const (
	TypeConnectionRequest Type = iota
	TypeConnectionDenied
	TypeChallenge
	TypeResponse
	TypeKeepAlive
	TypePayload
	TypeDisconnect
	numTypes
)

func (t Type) String() string {
	switch t {
	case TypeConnectionRequest:
		return "connection request"
	case TypeConnectionDenied:
		return "connection denied"
	case TypeChallenge:
		return "challenge"
	case TypeResponse:
		return "challenge response"
	case TypeKeepAlive:
		return "keep-alive"
	case TypePayload:
		return "payload"
	case TypeDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("unknown packet type %d", uint8(t))
	}
}

const (
	// MaxPayloadBytes is the largest application payload a single packet can carry
	MaxPayloadBytes = 1200
	// MaxPacketBytes is the largest datagram either side will parse
	MaxPacketBytes = 1300

	ConnectionRequestBytes = 1 + token.VersionInfoBytes + 8 + 8 + token.NonceBytes + token.ConnectTokenPrivateBytes

	challengeBodyBytes = 8 + token.ChallengeTokenBytes
	keepAliveBodyBytes = 4 + 4
)

// Packet is one of the concrete packet structs below
type Packet interface {
	Type() Type
}

type ConnectionRequest struct {
	VersionInfo     [token.VersionInfoBytes]byte
	ProtocolID      uint64
	ExpireTimestamp uint64
	Nonce           [token.NonceBytes]byte
	PrivateData     [token.ConnectTokenPrivateBytes]byte
}

type ConnectionDenied struct{}

type Challenge struct {
	TokenSequence uint64
	TokenData     [token.ChallengeTokenBytes]byte
}

type Response struct {
	TokenSequence uint64
	TokenData     [token.ChallengeTokenBytes]byte
}

type KeepAlive struct {
	ClientIndex uint32
	MaxClients  uint32
}

type Payload struct {
	Data []byte
}

type Disconnect struct{}

func (*ConnectionRequest) Type() Type { return TypeConnectionRequest }
func (*ConnectionDenied) Type() Type  { return TypeConnectionDenied }
func (*Challenge) Type() Type         { return TypeChallenge }
func (*Response) Type() Type          { return TypeResponse }
func (*KeepAlive) Type() Type         { return TypeKeepAlive }
func (*Payload) Type() Type           { return TypePayload }
func (*Disconnect) Type() Type        { return TypeDisconnect }

// NewConnectionRequest copies the fields a server needs out of a connect token
func NewConnectionRequest(t *token.ConnectToken) *ConnectionRequest {
	return &ConnectionRequest{
		VersionInfo:     token.VersionInfo,
		ProtocolID:      t.ProtocolID,
		ExpireTimestamp: t.ExpireTimestamp,
		Nonce:           t.Nonce,
		PrivateData:     t.PrivateData,
	}
}

// AllowedTypes is a set of packet types a receiver accepts in its current state
type AllowedTypes uint8

func Allow(types ...Type) (a AllowedTypes) {
	for _, t := range types {
		a |= 1 << t
	}
	return
}

func (a AllowedTypes) Has(t Type) bool { return t < numTypes && a&(1<<t) != 0 }

// PeekType returns the type of a raw packet without validating anything else
func PeekType(buf []byte) (Type, bool) {
	if len(buf) == 0 || len(buf) > MaxPacketBytes {
		return 0, false
	}
	t := Type(buf[0] & 0x0f)
	if t >= numTypes {
		return 0, false
	}
	return t, true
}
