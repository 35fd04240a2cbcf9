package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessages(t *testing.T) {
	assert.Equal(t, "Packet 1", string(PacketMessage(1)))
	assert.Equal(t, "Packet 110", string(PacketMessage(110)))

	assert.Equal(t, "05", string(IndexMessage(5, 2)))
	assert.Equal(t, "109", string(IndexMessage(109, 2)))
	assert.Equal(t, "7", string(IndexMessage(7, 0)))
}

func TestAck(t *testing.T) {
	msg := []byte("Packet 1")
	ack := Ack([]byte(AckPrefix), msg)

	assert.Equal(t, "ACKPacket 1", string(ack))
	assert.Equal(t, "Packet 1", string(Ack(nil, msg)))

	ack[0] = 'X'
	assert.Equal(t, "Packet 1", string(msg), "ack must not alias the message")
}

func TestTruncate(t *testing.T) {
	big := make([]byte, MaxMessageSize+10)
	assert.Len(t, Truncate(big, MaxMessageSize), MaxMessageSize)
	assert.Len(t, Truncate(big[:10], MaxMessageSize), 10)
	assert.Len(t, Truncate(big, 0), len(big))
}

func TestEndpoint(t *testing.T) {
	t.Run("parse", func(t *testing.T) {
		e, err := ParseEndpoint("10.0.2.5:12345")
		require.NoError(t, err)
		assert.Equal(t, Endpoint{Host: "10.0.2.5", Port: DefaultPort}, e)
		assert.Equal(t, "10.0.2.5:12345", e.String())
	})

	t.Run("invalid", func(t *testing.T) {
		for _, s := range []string{"10.0.2.5", "host:abc", "host:70000"} {
			_, err := ParseEndpoint(s)
			assert.ErrorIs(t, err, ErrInvalidEndpoint, s)
		}
	})

	t.Run("from addr", func(t *testing.T) {
		e, err := EndpointFromAddr(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000})
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:4000", e.String())
	})
}
