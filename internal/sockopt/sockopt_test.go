package sockopt

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetTOS(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, SetTOS(conn, 0))
	require.NoError(t, SetTOS(conn, 0x10))

	tos, err := TOS(conn)
	require.NoError(t, err)
	assert.Equal(t, 0x10, tos)

	assert.Error(t, SetTOS(conn, 300))
}
