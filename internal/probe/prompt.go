package probe

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

var ErrInvalidHost = errors.New("probe: invalid host")

// ReadHost writes prompt to w and reads the destination IP from the first
// line of r.
func ReadHost(r io.Reader, w io.Writer, prompt string) (string, error) {
	if prompt != "" {
		if _, err := fmt.Fprint(w, prompt); err != nil {
			return "", err
		}
	}

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("probe: failed to read host: %w", err)
		}
		return "", fmt.Errorf("%w: no input", ErrInvalidHost)
	}

	host := strings.TrimSpace(scanner.Text())
	if net.ParseIP(host) == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	return host, nil
}
