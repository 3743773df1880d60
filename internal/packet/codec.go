package packet

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cbeuw/netcode/internal/common"
	"github.com/cbeuw/netcode/internal/token"
)

var (
	ErrMalformed            = errors.New("malformed packet")
	ErrAuthenticationFailed = common.ErrAuthenticationFailed
	ErrNotAllowed           = errors.New("packet type not allowed")
	ErrReplayed             = errors.New("packet already received")
	ErrVersionMismatch      = errors.New("version info mismatch")
	ErrProtocolMismatch     = errors.New("protocol id mismatch")
	ErrExpired              = errors.New("connect token expired")
	ErrBufferTooSmall       = errors.New("buffer too small for packet")
	ErrPayloadSize          = fmt.Errorf("payload must be between 1 and %v bytes", MaxPayloadBytes)
)

func sequenceBytes(sequence uint64) int {
	n := 1
	for sequence >>= 8; sequence != 0; sequence >>= 8 {
		n++
	}
	return n
}

func additionalData(protocolID uint64, prefix byte) []byte {
	ad := make([]byte, token.VersionInfoBytes+8+1)
	w := common.NewWireWriter(ad)
	w.Bytes(token.VersionInfo[:])
	w.Uint64(protocolID)
	w.Uint8(prefix)
	return ad
}

// Write serialises p into buf and returns the number of bytes used. A ConnectionRequest is written as is; every
// other packet has its body sealed with key, using sequence both on the wire and in the nonce.
func Write(p Packet, buf []byte, sequence uint64, key []byte, protocolID uint64) (int, error) {
	if req, ok := p.(*ConnectionRequest); ok {
		if len(buf) < ConnectionRequestBytes {
			return 0, ErrBufferTooSmall
		}
		w := common.NewWireWriter(buf)
		w.Uint8(uint8(TypeConnectionRequest))
		w.Bytes(req.VersionInfo[:])
		w.Uint64(req.ProtocolID)
		w.Uint64(req.ExpireTimestamp)
		w.Bytes(req.Nonce[:])
		w.Bytes(req.PrivateData[:])
		return w.Pos(), w.Err()
	}

	var body []byte
	switch p := p.(type) {
	case *ConnectionDenied, *Disconnect:
	case *Challenge:
		body = make([]byte, challengeBodyBytes)
		w := common.NewWireWriter(body)
		w.Uint64(p.TokenSequence)
		w.Bytes(p.TokenData[:])
	case *Response:
		body = make([]byte, challengeBodyBytes)
		w := common.NewWireWriter(body)
		w.Uint64(p.TokenSequence)
		w.Bytes(p.TokenData[:])
	case *KeepAlive:
		body = make([]byte, keepAliveBodyBytes)
		w := common.NewWireWriter(body)
		w.Uint32(p.ClientIndex)
		w.Uint32(p.MaxClients)
	case *Payload:
		if len(p.Data) == 0 || len(p.Data) > MaxPayloadBytes {
			return 0, ErrPayloadSize
		}
		body = p.Data
	default:
		return 0, fmt.Errorf("cannot write packet of type %T", p)
	}

	seqLen := sequenceBytes(sequence)
	total := 1 + seqLen + len(body) + common.MACBytes
	if len(buf) < total {
		return 0, ErrBufferTooSmall
	}
	prefix := byte(seqLen<<4) | byte(p.Type())
	w := common.NewWireWriter(buf)
	w.Uint8(prefix)
	for i := 0; i < seqLen; i++ {
		w.Uint8(byte(sequence >> (8 * i)))
	}
	sealed, err := common.Seal(key, common.MakeNonce(byte(p.Type()), sequence), body, additionalData(protocolID, prefix))
	if err != nil {
		return 0, err
	}
	w.Bytes(sealed)
	return w.Pos(), w.Err()
}

// ReadOptions is the receiver's context for validating a packet
type ReadOptions struct {
	ProtocolID uint64
	// Key opens sealed packets. It is not used for connection requests.
	Key []byte
	// Now is the current unix timestamp, used to reject connection requests carrying an expired token
	Now     uint64
	Allowed AllowedTypes
	// Replay, when set, is consulted and advanced for keep-alive, payload and disconnect packets
	Replay *ReplayProtection
}

// Read validates and parses a raw datagram. It returns the packet and, for sealed packets, its sequence number.
// Checks that need no cryptography run first: size, type, allowed set, replay window.
func Read(buf []byte, opts ReadOptions) (Packet, uint64, error) {
	if len(buf) == 0 || len(buf) > MaxPacketBytes {
		return nil, 0, ErrMalformed
	}
	prefix := buf[0]
	typ := Type(prefix & 0x0f)
	if typ >= numTypes {
		return nil, 0, ErrMalformed
	}
	if !opts.Allowed.Has(typ) {
		return nil, 0, ErrNotAllowed
	}

	if typ == TypeConnectionRequest {
		p, err := readConnectionRequest(buf, opts)
		return p, 0, err
	}

	seqLen := int(prefix >> 4)
	if seqLen < 1 || seqLen > 8 {
		return nil, 0, ErrMalformed
	}
	if len(buf) < 1+seqLen+common.MACBytes {
		return nil, 0, ErrMalformed
	}
	var sequence uint64
	for i := 0; i < seqLen; i++ {
		sequence |= uint64(buf[1+i]) << (8 * i)
	}

	replayProtected := opts.Replay != nil && typ >= TypeKeepAlive
	if replayProtected && opts.Replay.AlreadyReceived(sequence) {
		return nil, sequence, ErrReplayed
	}

	body, err := common.Open(opts.Key, common.MakeNonce(byte(typ), sequence), buf[1+seqLen:], additionalData(opts.ProtocolID, prefix))
	if err != nil {
		return nil, sequence, ErrAuthenticationFailed
	}

	var p Packet
	switch typ {
	case TypeConnectionDenied:
		if len(body) != 0 {
			return nil, sequence, ErrMalformed
		}
		p = &ConnectionDenied{}
	case TypeDisconnect:
		if len(body) != 0 {
			return nil, sequence, ErrMalformed
		}
		p = &Disconnect{}
	case TypeChallenge, TypeResponse:
		if len(body) != challengeBodyBytes {
			return nil, sequence, ErrMalformed
		}
		r := common.NewWireReader(body)
		seq := r.Uint64()
		var data [token.ChallengeTokenBytes]byte
		r.Bytes(data[:])
		if typ == TypeChallenge {
			p = &Challenge{TokenSequence: seq, TokenData: data}
		} else {
			p = &Response{TokenSequence: seq, TokenData: data}
		}
	case TypeKeepAlive:
		if len(body) != keepAliveBodyBytes {
			return nil, sequence, ErrMalformed
		}
		r := common.NewWireReader(body)
		p = &KeepAlive{ClientIndex: r.Uint32(), MaxClients: r.Uint32()}
	case TypePayload:
		if len(body) == 0 || len(body) > MaxPayloadBytes {
			return nil, sequence, ErrMalformed
		}
		p = &Payload{Data: body}
	}

	if replayProtected {
		opts.Replay.Advance(sequence)
	}
	return p, sequence, nil
}

func readConnectionRequest(buf []byte, opts ReadOptions) (*ConnectionRequest, error) {
	if len(buf) != ConnectionRequestBytes {
		return nil, ErrMalformed
	}
	req := new(ConnectionRequest)
	r := common.NewWireReader(buf[1:])
	r.Bytes(req.VersionInfo[:])
	req.ProtocolID = r.Uint64()
	req.ExpireTimestamp = r.Uint64()
	r.Bytes(req.Nonce[:])
	r.Bytes(req.PrivateData[:])
	if r.Err() != nil {
		return nil, ErrMalformed
	}
	if !bytes.Equal(req.VersionInfo[:], token.VersionInfo[:]) {
		return nil, ErrVersionMismatch
	}
	if req.ProtocolID != opts.ProtocolID {
		return nil, ErrProtocolMismatch
	}
	if req.ExpireTimestamp < opts.Now {
		return nil, ErrExpired
	}
	return req, nil
}
