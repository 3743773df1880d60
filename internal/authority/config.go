package authority

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/cbeuw/netcode/internal/token"
)

// RawConfig represents the fields in the authority's config json file
// nullable means if it's empty, a default value will be chosen when tokens are minted
type RawConfig struct {
	ProtocolID     uint64
	PrivateKey     []byte
	ServerAddrs    []string
	TimeoutSeconds int32 // nullable
	ExpireSeconds  int64 // nullable
}

// Config is the validated form of RawConfig
type Config struct {
	ProtocolID     uint64
	PrivateKey     [token.KeyBytes]byte
	ServerAddrs    []*net.UDPAddr
	TimeoutSeconds int32
	ExpireSeconds  int64
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

func (raw *RawConfig) ProcessRawConfig() (cfg Config, err error) {
	if len(raw.PrivateKey) != token.KeyBytes {
		return cfg, fmt.Errorf("PrivateKey must be %v bytes, got %v", token.KeyBytes, len(raw.PrivateKey))
	}
	copy(cfg.PrivateKey[:], raw.PrivateKey)

	if len(raw.ServerAddrs) == 0 {
		return cfg, errors.New("at least one server address is required")
	}
	if len(raw.ServerAddrs) > token.MaxServersPerConnect {
		return cfg, fmt.Errorf("no more than %v server addresses are allowed", token.MaxServersPerConnect)
	}
	for _, s := range raw.ServerAddrs {
		addr, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			return cfg, fmt.Errorf("unable to parse server address %v: %w", s, err)
		}
		cfg.ServerAddrs = append(cfg.ServerAddrs, addr)
	}
	if raw.ExpireSeconds < 0 {
		return cfg, errors.New("ExpireSeconds cannot be negative")
	}

	cfg.ProtocolID = raw.ProtocolID
	cfg.TimeoutSeconds = raw.TimeoutSeconds
	cfg.ExpireSeconds = raw.ExpireSeconds
	return cfg, nil
}
