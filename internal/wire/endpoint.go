package wire

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// DefaultPort is the port both the echo server and the probe client use
// when none is configured.
const DefaultPort = 12345

var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint identifies a socket peer. It is a value type and is never
// modified after construction.
type Endpoint struct {
	Host string
	Port int
}

// NewEndpoint validates host and port and returns the endpoint.
func NewEndpoint(host string, port int) (Endpoint, error) {
	if port < 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, port)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// ParseEndpoint parses "host:port".
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: port %q", ErrInvalidEndpoint, portStr)
	}
	return NewEndpoint(host, port)
}

// EndpointFromAddr converts a bound or remote net.Addr.
func EndpointFromAddr(addr net.Addr) (Endpoint, error) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return NewEndpoint(a.IP.String(), a.Port)
	case *net.TCPAddr:
		return NewEndpoint(a.IP.String(), a.Port)
	default:
		return ParseEndpoint(addr.String())
	}
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}
