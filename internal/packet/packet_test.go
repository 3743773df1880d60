package packet

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/cbeuw/netcode/internal/common"
	"github.com/cbeuw/netcode/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProtocolID = 0x1122334455667788

func testKey(seed int64) []byte {
	key := common.GenerateKey(rand.New(rand.NewSource(seed)))
	return key[:]
}

var allTypes = Allow(TypeConnectionRequest, TypeConnectionDenied, TypeChallenge, TypeResponse, TypeKeepAlive,
	TypePayload, TypeDisconnect)

func writeRead(t *testing.T, p Packet, sequence uint64) (Packet, uint64) {
	key := testKey(1)
	buf := make([]byte, MaxPacketBytes)
	n, err := Write(p, buf, sequence, key, testProtocolID)
	require.NoError(t, err)
	got, seq, err := Read(buf[:n], ReadOptions{
		ProtocolID: testProtocolID,
		Key:        key,
		Allowed:    allTypes,
		Replay:     NewReplayProtection(),
	})
	require.NoError(t, err)
	return got, seq
}

func TestRoundTrip(t *testing.T) {
	t.Run("connection denied", func(t *testing.T) {
		got, seq := writeRead(t, &ConnectionDenied{}, 7)
		assert.Equal(t, &ConnectionDenied{}, got)
		assert.EqualValues(t, 7, seq)
	})
	t.Run("challenge", func(t *testing.T) {
		c := &Challenge{TokenSequence: 99}
		rand.New(rand.NewSource(0)).Read(c.TokenData[:])
		got, _ := writeRead(t, c, 1)
		assert.Equal(t, c, got)
	})
	t.Run("response", func(t *testing.T) {
		r := &Response{TokenSequence: 1 << 40}
		rand.New(rand.NewSource(1)).Read(r.TokenData[:])
		got, _ := writeRead(t, r, 0)
		assert.Equal(t, r, got)
	})
	t.Run("keep-alive", func(t *testing.T) {
		k := &KeepAlive{ClientIndex: 3, MaxClients: 64}
		got, _ := writeRead(t, k, 1<<63)
		assert.Equal(t, k, got)
	})
	t.Run("payload", func(t *testing.T) {
		for _, size := range []int{1, 100, MaxPayloadBytes} {
			data := make([]byte, size)
			rand.New(rand.NewSource(int64(size))).Read(data)
			got, _ := writeRead(t, &Payload{Data: data}, uint64(size))
			require.IsType(t, &Payload{}, got)
			assert.Equal(t, data, got.(*Payload).Data)
		}
	})
	t.Run("disconnect", func(t *testing.T) {
		got, _ := writeRead(t, &Disconnect{}, 12345)
		assert.Equal(t, &Disconnect{}, got)
	})
}

func TestSequenceEncoding(t *testing.T) {
	key := testKey(1)
	buf := make([]byte, MaxPacketBytes)
	for _, c := range []struct {
		seq   uint64
		bytes int
	}{
		{0, 1},
		{0xff, 1},
		{0x100, 2},
		{0xffffff, 3},
		{1 << 56, 8},
		{^uint64(0), 8},
	} {
		n, err := Write(&Disconnect{}, buf, c.seq, key, testProtocolID)
		require.NoError(t, err)
		assert.Equal(t, 1+c.bytes+common.MACBytes, n)
		assert.Equal(t, byte(c.bytes<<4)|byte(TypeDisconnect), buf[0])
	}
}

func testRequest() *ConnectionRequest {
	tok, err := token.Generate(common.WorldOfTime(time.Unix(1700000000, 0)), token.Params{
		ServerAddrs:   []*net.UDPAddr{{IP: net.ParseIP("127.0.0.1"), Port: 40000}},
		ProtocolID:    testProtocolID,
		ClientID:      1,
		ExpireSeconds: 30,
	})
	if err != nil {
		panic(err)
	}
	return NewConnectionRequest(tok)
}

func TestConnectionRequest(t *testing.T) {
	req := testRequest()
	buf := make([]byte, MaxPacketBytes)
	n, err := Write(req, buf, 0, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, ConnectionRequestBytes, n)
	assert.Equal(t, 1078, n)

	opts := ReadOptions{ProtocolID: testProtocolID, Now: req.ExpireTimestamp - 10, Allowed: Allow(TypeConnectionRequest)}

	t.Run("ok", func(t *testing.T) {
		got, _, err := Read(buf[:n], opts)
		require.NoError(t, err)
		assert.Equal(t, req, got)
	})
	t.Run("at expiry", func(t *testing.T) {
		opts := opts
		opts.Now = req.ExpireTimestamp
		_, _, err := Read(buf[:n], opts)
		assert.NoError(t, err)
	})
	t.Run("expired", func(t *testing.T) {
		opts := opts
		opts.Now = req.ExpireTimestamp + 1
		_, _, err := Read(buf[:n], opts)
		assert.ErrorIs(t, err, ErrExpired)
	})
	t.Run("wrong protocol", func(t *testing.T) {
		opts := opts
		opts.ProtocolID++
		_, _, err := Read(buf[:n], opts)
		assert.ErrorIs(t, err, ErrProtocolMismatch)
	})
	t.Run("wrong version", func(t *testing.T) {
		bad := append([]byte{}, buf[:n]...)
		bad[11] = '3'
		_, _, err := Read(bad, opts)
		assert.ErrorIs(t, err, ErrVersionMismatch)
	})
	t.Run("wrong size", func(t *testing.T) {
		_, _, err := Read(buf[:n-1], opts)
		assert.ErrorIs(t, err, ErrMalformed)
		_, _, err = Read(buf[:n+1], opts)
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("buffer too small", func(t *testing.T) {
		_, err := Write(req, make([]byte, n-1), 0, nil, 0)
		assert.ErrorIs(t, err, ErrBufferTooSmall)
	})
}

func TestReadRejects(t *testing.T) {
	key := testKey(1)
	buf := make([]byte, MaxPacketBytes)
	n, err := Write(&Payload{Data: []byte("hello")}, buf, 42, key, testProtocolID)
	require.NoError(t, err)
	good := buf[:n]
	opts := ReadOptions{ProtocolID: testProtocolID, Key: key, Allowed: allTypes}

	t.Run("bit flips", func(t *testing.T) {
		for bit := 0; bit < 8; bit++ {
			bad := append([]byte{}, good...)
			bad[0] ^= 1 << bit
			_, _, err := Read(bad, opts)
			assert.Error(t, err, "prefix bit %d", bit)
		}
		for i := 1; i < len(good); i++ {
			for _, mask := range []byte{0x01, 0x80} {
				bad := append([]byte{}, good...)
				bad[i] ^= mask
				_, _, err := Read(bad, opts)
				assert.ErrorIs(t, err, ErrAuthenticationFailed, "byte %d", i)
			}
		}
	})
	t.Run("wrong key", func(t *testing.T) {
		opts := opts
		opts.Key = testKey(2)
		_, _, err := Read(good, opts)
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})
	t.Run("wrong protocol", func(t *testing.T) {
		opts := opts
		opts.ProtocolID++
		_, _, err := Read(good, opts)
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})
	t.Run("not allowed", func(t *testing.T) {
		opts := opts
		opts.Allowed = Allow(TypeKeepAlive, TypeDisconnect)
		_, _, err := Read(good, opts)
		assert.ErrorIs(t, err, ErrNotAllowed)
	})
	t.Run("unknown type", func(t *testing.T) {
		bad := append([]byte{}, good...)
		bad[0] = bad[0]&0xf0 | 0x0f
		_, _, err := Read(bad, opts)
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("bad sequence length", func(t *testing.T) {
		for _, l := range []byte{0, 9, 15} {
			bad := append([]byte{}, good...)
			bad[0] = l<<4 | byte(TypePayload)
			_, _, err := Read(bad, opts)
			assert.ErrorIs(t, err, ErrMalformed)
		}
	})
	t.Run("too short", func(t *testing.T) {
		_, _, err := Read(good[:1+1+common.MACBytes-1], opts)
		assert.ErrorIs(t, err, ErrMalformed)
		_, _, err = Read(nil, opts)
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("oversize", func(t *testing.T) {
		_, _, err := Read(make([]byte, MaxPacketBytes+1), opts)
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("garbage", func(t *testing.T) {
		r := rand.New(rand.NewSource(7))
		for i := 0; i < 1000; i++ {
			junk := make([]byte, r.Intn(MaxPacketBytes+1))
			r.Read(junk)
			assert.NotPanics(t, func() { _, _, _ = Read(junk, opts) })
		}
	})
}

func TestWriteRejects(t *testing.T) {
	key := testKey(1)
	buf := make([]byte, MaxPacketBytes)
	_, err := Write(&Payload{}, buf, 0, key, testProtocolID)
	assert.ErrorIs(t, err, ErrPayloadSize)
	_, err = Write(&Payload{Data: make([]byte, MaxPayloadBytes+1)}, buf, 0, key, testProtocolID)
	assert.ErrorIs(t, err, ErrPayloadSize)
	_, err = Write(&KeepAlive{}, make([]byte, 10), 0, key, testProtocolID)
	assert.ErrorIs(t, err, ErrBufferTooSmall)
	_, err = Write(&KeepAlive{}, buf, 0, key[:16], testProtocolID)
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	key := testKey(1)
	replay := NewReplayProtection()
	opts := ReadOptions{ProtocolID: testProtocolID, Key: key, Allowed: allTypes, Replay: replay}
	buf := make([]byte, MaxPacketBytes)

	n, err := Write(&Payload{Data: []byte("once")}, buf, 500, key, testProtocolID)
	require.NoError(t, err)
	first := append([]byte{}, buf[:n]...)

	_, seq, err := Read(first, opts)
	require.NoError(t, err)
	assert.EqualValues(t, 500, seq)

	_, _, err = Read(first, opts)
	assert.ErrorIs(t, err, ErrReplayed)

	t.Run("forged packet does not advance the window", func(t *testing.T) {
		n, err := Write(&Payload{Data: []byte("forged")}, buf, 501, testKey(2), testProtocolID)
		require.NoError(t, err)
		_, _, err = Read(buf[:n], opts)
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
		assert.False(t, replay.AlreadyReceived(501))
	})
	t.Run("handshake packets are not replay checked", func(t *testing.T) {
		n, err := Write(&Challenge{}, buf, 500, key, testProtocolID)
		require.NoError(t, err)
		c := append([]byte{}, buf[:n]...)
		_, _, err = Read(c, opts)
		assert.NoError(t, err)
		_, _, err = Read(c, opts)
		assert.NoError(t, err)
	})
	t.Run("too old", func(t *testing.T) {
		n, err := Write(&KeepAlive{}, buf, 500-ReplayProtectionBufferSize, key, testProtocolID)
		require.NoError(t, err)
		_, _, err = Read(buf[:n], opts)
		assert.ErrorIs(t, err, ErrReplayed)
	})
}

func TestReplayProtection(t *testing.T) {
	r := NewReplayProtection()
	assert.False(t, r.AlreadyReceived(0))
	r.Advance(0)
	assert.True(t, r.AlreadyReceived(0))

	for i := uint64(1); i < 1000; i += 2 {
		assert.False(t, r.AlreadyReceived(i))
		r.Advance(i)
	}
	// recent but unseen sequences inside the window are still accepted
	assert.False(t, r.AlreadyReceived(998))
	assert.True(t, r.AlreadyReceived(999))
	assert.True(t, r.AlreadyReceived(997))
	assert.True(t, r.AlreadyReceived(999-ReplayProtectionBufferSize))
	assert.True(t, r.AlreadyReceived(10))
	assert.False(t, r.AlreadyReceived(1000))

	t.Run("out of order within window", func(t *testing.T) {
		r := NewReplayProtection()
		r.Advance(300)
		assert.False(t, r.AlreadyReceived(299))
		r.Advance(299)
		assert.True(t, r.AlreadyReceived(299))
		assert.False(t, r.AlreadyReceived(100))
		assert.True(t, r.AlreadyReceived(44))
	})
	t.Run("reset", func(t *testing.T) {
		r.Reset()
		assert.False(t, r.AlreadyReceived(0))
		assert.False(t, r.AlreadyReceived(999))
	})
	t.Run("huge sequence", func(t *testing.T) {
		r := NewReplayProtection()
		r.Advance(^uint64(0) - 1)
		assert.True(t, r.AlreadyReceived(0))
		assert.False(t, r.AlreadyReceived(^uint64(0)-2))
	})
}

func TestPeekType(t *testing.T) {
	typ, ok := PeekType([]byte{0x15})
	assert.True(t, ok)
	assert.Equal(t, TypePayload, typ)
	_, ok = PeekType([]byte{0x0f})
	assert.False(t, ok)
	_, ok = PeekType(nil)
	assert.False(t, ok)
	assert.Equal(t, "keep-alive", TypeKeepAlive.String())
}

func TestAllow(t *testing.T) {
	a := Allow(TypeChallenge, TypeConnectionDenied)
	assert.True(t, a.Has(TypeChallenge))
	assert.True(t, a.Has(TypeConnectionDenied))
	assert.False(t, a.Has(TypePayload))
	assert.False(t, a.Has(numTypes))
	assert.False(t, Allow().Has(TypeConnectionRequest))
}
