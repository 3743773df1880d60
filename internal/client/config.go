package client

const (
	DefaultPacketSendRate       = 0.1
	DefaultNumDisconnectPackets = 10
	DefaultPacketQueueSize      = 256
)

// Config tunes a Client. Zero fields take their defaults.
type Config struct {
	// PacketSendRate is the number of seconds between handshake or keep-alive packets
	PacketSendRate float64
	// NumDisconnectPackets is how many disconnect packets are sent when a connected client disconnects.
	// Disconnect packets are redundant because any of them may be lost.
	NumDisconnectPackets int
	// PacketQueueSize bounds the received payloads waiting for Recv. Payloads arriving at a full queue are dropped.
	PacketQueueSize int
}

func (c Config) withDefaults() Config {
	if c.PacketSendRate <= 0 {
		c.PacketSendRate = DefaultPacketSendRate
	}
	if c.NumDisconnectPackets <= 0 {
		c.NumDisconnectPackets = DefaultNumDisconnectPackets
	}
	if c.PacketQueueSize <= 0 {
		c.PacketQueueSize = DefaultPacketQueueSize
	}
	return c
}
