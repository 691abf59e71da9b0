package devlink

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/tarm/serial"
)

// Dialer opens the underlying channel to a device endpoint.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// NewDialer parses an endpoint string:
//
//	serial:/dev/ttyUSB0?baud=9600
//	tcp:host:port
func NewDialer(endpoint string) (Dialer, error) {
	scheme, rest, ok := strings.Cut(endpoint, ":")
	if !ok {
		return nil, fmt.Errorf("endpoint %q: missing scheme", endpoint)
	}
	switch scheme {
	case "serial":
		port := rest
		baud := 9600
		if path, query, ok := strings.Cut(rest, "?"); ok {
			port = path
			v, err := url.ParseQuery(query)
			if err != nil {
				return nil, fmt.Errorf("endpoint %q: %w", endpoint, err)
			}
			if b := v.Get("baud"); b != "" {
				n, err := strconv.Atoi(b)
				if err != nil {
					return nil, fmt.Errorf("endpoint %q: baud: %w", endpoint, err)
				}
				baud = n
			}
		}
		return &SerialDialer{Port: port, Baud: baud}, nil
	case "tcp":
		return &TCPDialer{Addr: rest}, nil
	}
	return nil, fmt.Errorf("endpoint %q: unknown scheme %q", endpoint, scheme)
}

type SerialDialer struct {
	Port string
	Baud int
}

func (d *SerialDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	return serial.OpenPort(&serial.Config{Name: d.Port, Baud: d.Baud})
}

func (d *SerialDialer) String() string { return d.Port }

type TCPDialer struct {
	Addr string
}

func (d *TCPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	return dialer.DialContext(ctx, "tcp", d.Addr)
}

func (d *TCPDialer) String() string { return d.Addr }
