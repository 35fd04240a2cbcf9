// Package sockopt marks probe and echo sockets so their traffic can be
// classified by queueing disciplines along the path.
package sockopt

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// SetTOS sets the IPv4 type-of-service byte on c. Zero leaves the socket
// untouched.
func SetTOS(c net.Conn, tos int) error {
	if tos == 0 {
		return nil
	}
	if tos < 0 || tos > 0xff {
		return fmt.Errorf("sockopt: tos %d out of range", tos)
	}
	if err := ipv4.NewConn(c).SetTOS(tos); err != nil {
		return fmt.Errorf("sockopt: failed to set tos: %w", err)
	}
	return nil
}

// TOS reads the type-of-service byte currently set on c.
func TOS(c net.Conn) (int, error) {
	tos, err := ipv4.NewConn(c).TOS()
	if err != nil {
		return 0, fmt.Errorf("sockopt: failed to get tos: %w", err)
	}
	return tos, nil
}
