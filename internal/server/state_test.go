package server

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cbeuw/netcode/internal/common"
	"github.com/cbeuw/netcode/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = make([]byte, token.KeyBytes)

func TestParseConfig(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(testKey)
	content := `{
		"BindAddr": "0.0.0.0:40000",
		"PublicAddr": "203.0.113.1:40000",
		"ProtocolID": 4660,
		"PrivateKey": "` + key + `",
		"MaxClients": 64
	}`

	t.Run("json as argument", func(t *testing.T) {
		raw, err := ParseConfig(content)
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:40000", raw.BindAddr)
		assert.EqualValues(t, 4660, raw.ProtocolID)
		assert.Equal(t, testKey, raw.PrivateKey)
		assert.Equal(t, 64, raw.MaxClients)
	})

	t.Run("path to json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "server.json")
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
		raw, err := ParseConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "203.0.113.1:40000", raw.PublicAddr)
	})

	t.Run("bad file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "server.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0600))
		_, err := ParseConfig(path)
		assert.Error(t, err)
	})

	t.Run("neither", func(t *testing.T) {
		_, err := ParseConfig("/does/not/exist.json")
		assert.Error(t, err)
	})
}

func TestProcessRawConfig(t *testing.T) {
	world := common.WorldOfTime(time.Unix(1700000000, 0))
	valid := func() RawConfig {
		return RawConfig{
			BindAddr:   "0.0.0.0:40000",
			ProtocolID: 1,
			PrivateKey: testKey,
		}
	}

	t.Run("defaults", func(t *testing.T) {
		raw := valid()
		cfg, err := raw.ProcessRawConfig(world)
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxClients, cfg.MaxClients)
		assert.EqualValues(t, token.DefaultTimeoutSeconds, cfg.TokenTimeoutSeconds)
		assert.EqualValues(t, token.DefaultExpireSeconds, cfg.TokenExpireSeconds)
		assert.Equal(t, DefaultPacketSendRate, cfg.PacketSendRate)
		assert.Equal(t, DefaultNumDisconnectPackets, cfg.NumDisconnectPackets)
		assert.EqualValues(t, DefaultConnectRequestRate, cfg.ConnectRequestRate)
		assert.Nil(t, cfg.PublicAddr)
		assert.Equal(t, world.Now(), cfg.World.Now())
	})

	t.Run("explicit values", func(t *testing.T) {
		raw := valid()
		raw.PublicAddr = "203.0.113.1:40000"
		raw.MaxClients = 8
		raw.TokenTimeoutSeconds = -1
		raw.PacketSendRate = 0.05
		cfg, err := raw.ProcessRawConfig(world)
		require.NoError(t, err)
		assert.Equal(t, "203.0.113.1:40000", cfg.PublicAddr.String())
		assert.Equal(t, 8, cfg.MaxClients)
		assert.EqualValues(t, -1, cfg.TokenTimeoutSeconds)
		assert.Equal(t, 0.05, cfg.PacketSendRate)
	})

	t.Run("websocket", func(t *testing.T) {
		raw := valid()
		raw.BindAddr = ""
		raw.WebSocketAddr = "127.0.0.1:8080"
		_, err := raw.ProcessRawConfig(world)
		assert.Error(t, err, "websocket needs a public address")

		raw.PublicAddr = "203.0.113.1:40000"
		_, err = raw.ProcessRawConfig(world)
		assert.NoError(t, err)
	})

	bad := map[string]func(*RawConfig){
		"short key":         func(r *RawConfig) { r.PrivateKey = testKey[:16] },
		"no key":            func(r *RawConfig) { r.PrivateKey = nil },
		"no address":        func(r *RawConfig) { r.BindAddr = "" },
		"bad public addr":   func(r *RawConfig) { r.PublicAddr = "not an address" },
		"negative clients":  func(r *RawConfig) { r.MaxClients = -1 },
		"negative lifetime": func(r *RawConfig) { r.TokenExpireSeconds = -5 },
	}
	for name, mutate := range bad {
		t.Run(name, func(t *testing.T) {
			raw := valid()
			mutate(&raw)
			_, err := raw.ProcessRawConfig(world)
			assert.Error(t, err)
		})
	}
}

func TestConfigWithDefaultsWorld(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.True(t, cfg.World.Valid())
}
