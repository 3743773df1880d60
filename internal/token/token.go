package token

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cbeuw/netcode/internal/common"
)

const (
	ConnectTokenBytes        = 2048
	ConnectTokenPrivateBytes = 1024
	UserDataBytes            = 256
	MaxServersPerConnect     = 32
	KeyBytes                 = common.KeyBytes
	NonceBytes               = common.XNonceBytes
	MACBytes                 = common.MACBytes
	VersionInfoBytes         = 13

	// AdditionalDataBytes is the size of the associated data authenticated with the private segment:
	// version info, protocol id and expire timestamp
	AdditionalDataBytes = VersionInfoBytes + 8 + 8

	DefaultTimeoutSeconds = 15
	DefaultExpireSeconds  = 30
)

// VersionInfo is embedded in every connect token and every packet
var VersionInfo = [VersionInfoBytes]byte{'N', 'E', 'T', 'C', 'O', 'D', 'E', ' ', '1', '.', '0', '2', 0}

var noncePrefix = []byte("NETCODE-TOKEN-PV")

var (
	ErrMalformed            = errors.New("malformed connect token")
	ErrAuthenticationFailed = common.ErrAuthenticationFailed
	ErrExpired              = errors.New("connect token has expired")
	ErrNoServerAddress      = errors.New("connect token needs at least one server address")
	ErrInvalidAddress       = errors.New("invalid server address")
	ErrUserDataSize         = fmt.Errorf("user data cannot exceed %v bytes", UserDataBytes)
)

// Params is everything an authority needs to mint a connect token
type Params struct {
	ServerAddrs []*net.UDPAddr
	ProtocolID  uint64
	ClientID    uint64
	PrivateKey  [KeyBytes]byte

	// TimeoutSeconds is how long either side waits without receiving a packet before giving up on the
	// connection. Negative disables the timeout. Zero means DefaultTimeoutSeconds.
	TimeoutSeconds int32
	// ExpireSeconds is how long after creation the token is accepted. Zero means DefaultExpireSeconds.
	ExpireSeconds int64
	UserData      []byte
}

// Private is the part of a connect token only the server can read
type Private struct {
	ClientID          uint64
	TimeoutSeconds    int32
	ServerAddrs       []*net.UDPAddr
	ClientToServerKey [KeyBytes]byte
	ServerToClientKey [KeyBytes]byte
	UserData          [UserDataBytes]byte
}

// ConnectToken is the public view of a connect token together with its serialised bytes. The private segment
// is only held encrypted.
type ConnectToken struct {
	ProtocolID        uint64
	CreateTimestamp   uint64
	ExpireTimestamp   uint64
	Sequence          uint64
	Nonce             [NonceBytes]byte
	PrivateData       [ConnectTokenPrivateBytes]byte
	TimeoutSeconds    int32
	ServerAddrs       []*net.UDPAddr
	ClientToServerKey [KeyBytes]byte
	ServerToClientKey [KeyBytes]byte

	raw [ConnectTokenBytes]byte
}

// Bytes returns a copy of the serialised token
func (t *ConnectToken) Bytes() []byte {
	ret := make([]byte, ConnectTokenBytes)
	copy(ret, t.raw[:])
	return ret
}

// MAC is the authentication tag of the private segment. It uniquely identifies a token.
func (t *ConnectToken) MAC() (mac [MACBytes]byte) {
	return PrivateMAC(t.PrivateData[:])
}

// Lifetime is the number of seconds between creation and expiry
func (t *ConnectToken) Lifetime() float64 {
	return float64(t.ExpireTimestamp - t.CreateTimestamp)
}

func PrivateMAC(encrypted []byte) (mac [MACBytes]byte) {
	if len(encrypted) >= MACBytes {
		copy(mac[:], encrypted[len(encrypted)-MACBytes:])
	}
	return
}

// MakeNonce derives the private segment nonce from a token sequence number
func MakeNonce(sequence uint64) (nonce [NonceBytes]byte) {
	w := common.NewWireWriter(nonce[:])
	w.Bytes(noncePrefix)
	w.Uint64(sequence)
	return
}

func additionalData(protocolID uint64, expireTimestamp uint64) []byte {
	ad := make([]byte, AdditionalDataBytes)
	w := common.NewWireWriter(ad)
	w.Bytes(VersionInfo[:])
	w.Uint64(protocolID)
	w.Uint64(expireTimestamp)
	return ad
}

// Generate mints a connect token. Fresh session keys and the token sequence are read from world.Rand and the
// timestamps from world.Now, so identical params and an identical world produce identical tokens.
func Generate(world common.WorldState, p Params) (*ConnectToken, error) {
	if err := checkAddresses(p.ServerAddrs); err != nil {
		return nil, err
	}
	if len(p.UserData) > UserDataBytes {
		return nil, ErrUserDataSize
	}
	if p.ExpireSeconds < 0 {
		return nil, errors.New("expire seconds cannot be negative")
	}
	if p.ExpireSeconds == 0 {
		p.ExpireSeconds = DefaultExpireSeconds
	}
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = DefaultTimeoutSeconds
	}

	t := &ConnectToken{
		ProtocolID:     p.ProtocolID,
		TimeoutSeconds: p.TimeoutSeconds,
		ServerAddrs:    p.ServerAddrs,
	}
	t.CreateTimestamp = uint64(world.Now().Unix())
	t.ExpireTimestamp = t.CreateTimestamp + uint64(p.ExpireSeconds)
	t.ClientToServerKey = common.GenerateKey(world.Rand)
	t.ServerToClientKey = common.GenerateKey(world.Rand)
	t.Sequence = common.RandUint64(world.Rand)
	t.Nonce = MakeNonce(t.Sequence)

	private := &Private{
		ClientID:          p.ClientID,
		TimeoutSeconds:    p.TimeoutSeconds,
		ServerAddrs:       p.ServerAddrs,
		ClientToServerKey: t.ClientToServerKey,
		ServerToClientKey: t.ServerToClientKey,
	}
	copy(private.UserData[:], p.UserData)

	sealed, err := SealPrivate(private, p.ProtocolID, t.ExpireTimestamp, t.Nonce[:], p.PrivateKey[:])
	if err != nil {
		return nil, err
	}
	copy(t.PrivateData[:], sealed)

	if err = t.serialise(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ConnectToken) serialise() error {
	w := common.NewWireWriter(t.raw[:])
	w.Bytes(VersionInfo[:])
	w.Uint64(t.ProtocolID)
	w.Uint64(t.CreateTimestamp)
	w.Uint64(t.ExpireTimestamp)
	w.Bytes(t.Nonce[:])
	w.Bytes(t.PrivateData[:])
	w.Uint32(uint32(t.TimeoutSeconds))
	if err := writeAddresses(w, t.ServerAddrs); err != nil {
		return err
	}
	w.Bytes(t.ClientToServerKey[:])
	w.Bytes(t.ServerToClientKey[:])
	return w.Err()
}

// ReadPublic parses a serialised connect token without touching its private segment
func ReadPublic(b []byte) (*ConnectToken, error) {
	if len(b) != ConnectTokenBytes {
		return nil, ErrMalformed
	}
	t := new(ConnectToken)
	copy(t.raw[:], b)

	r := common.NewWireReader(t.raw[:])
	if !bytes.Equal(r.Next(VersionInfoBytes), VersionInfo[:]) {
		return nil, ErrMalformed
	}
	t.ProtocolID = r.Uint64()
	t.CreateTimestamp = r.Uint64()
	t.ExpireTimestamp = r.Uint64()
	r.Bytes(t.Nonce[:])
	r.Bytes(t.PrivateData[:])
	t.TimeoutSeconds = int32(r.Uint32())
	if r.Err() != nil {
		return nil, ErrMalformed
	}
	if t.ExpireTimestamp < t.CreateTimestamp {
		return nil, ErrMalformed
	}
	t.Sequence = common.NewWireReader(t.Nonce[len(noncePrefix):]).Uint64()

	var err error
	t.ServerAddrs, err = readAddresses(r)
	if err != nil {
		return nil, err
	}
	r.Bytes(t.ClientToServerKey[:])
	r.Bytes(t.ServerToClientKey[:])
	if r.Err() != nil {
		return nil, ErrMalformed
	}
	return t, nil
}

// ReadPrivate parses a serialised connect token and opens its private segment with privateKey. A token whose
// expire timestamp is before now is rejected with ErrExpired.
func ReadPrivate(b []byte, privateKey [KeyBytes]byte, now time.Time) (*Private, error) {
	t, err := ReadPublic(b)
	if err != nil {
		return nil, err
	}
	if t.ExpireTimestamp < uint64(now.Unix()) {
		return nil, ErrExpired
	}
	return OpenPrivate(t.PrivateData[:], t.ProtocolID, t.ExpireTimestamp, t.Nonce[:], privateKey[:])
}

// SealPrivate serialises and encrypts a private segment into ConnectTokenPrivateBytes bytes
func SealPrivate(p *Private, protocolID uint64, expireTimestamp uint64, nonce []byte, key []byte) ([]byte, error) {
	if err := checkAddresses(p.ServerAddrs); err != nil {
		return nil, err
	}
	plain := make([]byte, ConnectTokenPrivateBytes-MACBytes)
	w := common.NewWireWriter(plain)
	w.Uint64(p.ClientID)
	w.Uint32(uint32(p.TimeoutSeconds))
	if err := writeAddresses(w, p.ServerAddrs); err != nil {
		return nil, err
	}
	w.Bytes(p.ClientToServerKey[:])
	w.Bytes(p.ServerToClientKey[:])
	w.Bytes(p.UserData[:])
	if w.Err() != nil {
		return nil, w.Err()
	}
	return common.XSeal(key, nonce, plain, additionalData(protocolID, expireTimestamp))
}

// OpenPrivate decrypts and parses a private segment
func OpenPrivate(encrypted []byte, protocolID uint64, expireTimestamp uint64, nonce []byte, key []byte) (*Private, error) {
	if len(encrypted) != ConnectTokenPrivateBytes {
		return nil, ErrMalformed
	}
	plain, err := common.XOpen(key, nonce, encrypted, additionalData(protocolID, expireTimestamp))
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	p := new(Private)
	r := common.NewWireReader(plain)
	p.ClientID = r.Uint64()
	p.TimeoutSeconds = int32(r.Uint32())
	if r.Err() != nil {
		return nil, ErrMalformed
	}
	p.ServerAddrs, err = readAddresses(r)
	if err != nil {
		return nil, err
	}
	r.Bytes(p.ClientToServerKey[:])
	r.Bytes(p.ServerToClientKey[:])
	r.Bytes(p.UserData[:])
	if r.Err() != nil {
		return nil, ErrMalformed
	}
	return p, nil
}
