package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/cbeuw/netcode/internal/common"
	"github.com/cbeuw/netcode/internal/token"
)

const (
	DefaultMaxClients           = 256
	DefaultPacketSendRate       = 0.1
	DefaultNumDisconnectPackets = 10
	// DefaultConnectRequestRate is the number of connection requests per second the server will decrypt
	DefaultConnectRequestRate = 1000
)

// RawConfig represents the fields in the config json file
// nullable means if it's empty, a default value will be chosen in ProcessRawConfig
type RawConfig struct {
	BindAddr   string
	PublicAddr string // nullable
	// WebSocketAddr, when set, makes nc-server accept clients over WebSocket on this TCP address instead of UDP
	WebSocketAddr string // nullable
	ProtocolID    uint64
	PrivateKey    []byte

	MaxClients           int     // nullable
	TokenTimeoutSeconds  int32   // nullable
	TokenExpireSeconds   int64   // nullable
	PacketSendRate       float64 // nullable
	NumDisconnectPackets int     // nullable
	ConnectRequestRate   float64 // nullable
}

// Config is what a Server runs with. Zero fields take their defaults in MakeServer.
type Config struct {
	ProtocolID uint64
	PrivateKey [token.KeyBytes]byte
	MaxClients int
	// PublicAddr is the address clients reach the server at. It must be among the addresses of a connect token for
	// the server to accept it. Nil means the transceiver's local address.
	PublicAddr *net.UDPAddr

	// TokenTimeoutSeconds and TokenExpireSeconds are used for tokens minted by Server.Token
	TokenTimeoutSeconds int32
	TokenExpireSeconds  int64

	PacketSendRate       float64
	NumDisconnectPackets int
	ConnectRequestRate   float64

	World common.WorldState
}

// ParseConfig parses the config (either a path to json or the json itself as argument)
func ParseConfig(conf string) (raw *RawConfig, err error) {
	content, errPath := os.ReadFile(conf)
	if errPath != nil {
		content = []byte(conf)
	}
	raw = new(RawConfig)
	if err = json.Unmarshal(content, raw); err != nil {
		if errPath != nil {
			return nil, fmt.Errorf("failed to read/unmarshal configuration, path is invalid or %w", err)
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}
	return raw, nil
}

// ProcessRawConfig validates raw and turns it into a Config
func (raw *RawConfig) ProcessRawConfig(world common.WorldState) (cfg Config, err error) {
	if len(raw.PrivateKey) != token.KeyBytes {
		return cfg, fmt.Errorf("PrivateKey must be %v bytes, got %v", token.KeyBytes, len(raw.PrivateKey))
	}
	copy(cfg.PrivateKey[:], raw.PrivateKey)

	if raw.BindAddr == "" && raw.WebSocketAddr == "" {
		return cfg, errors.New("either BindAddr or WebSocketAddr must be set")
	}
	if raw.PublicAddr != "" {
		cfg.PublicAddr, err = net.ResolveUDPAddr("udp", raw.PublicAddr)
		if err != nil {
			return cfg, fmt.Errorf("unable to parse PublicAddr: %w", err)
		}
	} else if raw.WebSocketAddr != "" {
		return cfg, errors.New("PublicAddr must be set when serving over WebSocket")
	}

	if raw.MaxClients < 0 {
		return cfg, errors.New("MaxClients cannot be negative")
	}
	if raw.TokenExpireSeconds < 0 {
		return cfg, errors.New("TokenExpireSeconds cannot be negative")
	}
	cfg.ProtocolID = raw.ProtocolID
	cfg.MaxClients = raw.MaxClients
	cfg.TokenTimeoutSeconds = raw.TokenTimeoutSeconds
	cfg.TokenExpireSeconds = raw.TokenExpireSeconds
	cfg.PacketSendRate = raw.PacketSendRate
	cfg.NumDisconnectPackets = raw.NumDisconnectPackets
	cfg.ConnectRequestRate = raw.ConnectRequestRate
	cfg.World = world
	return cfg.withDefaults(), nil
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxClients == 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.TokenTimeoutSeconds == 0 {
		cfg.TokenTimeoutSeconds = token.DefaultTimeoutSeconds
	}
	if cfg.TokenExpireSeconds == 0 {
		cfg.TokenExpireSeconds = token.DefaultExpireSeconds
	}
	if cfg.PacketSendRate <= 0 {
		cfg.PacketSendRate = DefaultPacketSendRate
	}
	if cfg.NumDisconnectPackets <= 0 {
		cfg.NumDisconnectPackets = DefaultNumDisconnectPackets
	}
	if cfg.ConnectRequestRate <= 0 {
		cfg.ConnectRequestRate = DefaultConnectRequestRate
	}
	if !cfg.World.Valid() {
		cfg.World = common.RealWorldState
	}
	return cfg
}
