package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// DefaultPort is the TCP port of the serial bridge when none is configured.
const DefaultPort = 9000

// DefaultBaudRate is the microcontroller UART speed.
const DefaultBaudRate = 9600

const defaultDialTimeout = 5 * time.Second

// Kind names the transport in use.
type Kind string

const (
	KindNone   Kind = ""
	KindSerial Kind = "serial"
	KindTCP    Kind = "tcp"
)

// Settings is the stored transport configuration.
type Settings struct {
	Path string `json:"device_path,omitempty"`
	Host string `json:"device_host,omitempty"`
	Port int    `json:"device_port,omitempty"`
}

// Kind reports which transport Settings selects. The path is preferred.
func (s Settings) Kind() Kind {
	switch {
	case s.Path != "":
		return KindSerial
	case s.Host != "":
		return KindTCP
	default:
		return KindNone
	}
}

// Address returns the path or host:port that Kind selects.
func (s Settings) Address() string {
	switch s.Kind() {
	case KindSerial:
		return s.Path
	case KindTCP:
		port := s.Port
		if port == 0 {
			port = DefaultPort
		}
		return net.JoinHostPort(s.Host, strconv.Itoa(port))
	default:
		return ""
	}
}

// Resolved returns the settings after a successful open over Kind: the
// fields of the other transport are cleared and a TCP port is filled in.
func (s Settings) Resolved() Settings {
	switch s.Kind() {
	case KindSerial:
		return Settings{Path: s.Path}
	case KindTCP:
		port := s.Port
		if port == 0 {
			port = DefaultPort
		}
		return Settings{Host: s.Host, Port: port}
	default:
		return s
	}
}

// String implements fmt.Stringer.
func (s Settings) String() string {
	if s.Kind() == KindNone {
		return "none"
	}
	return string(s.Kind()) + ":" + s.Address()
}

// Opener opens a transport described by Settings.
type Opener interface {
	Open(ctx context.Context, s Settings) (io.ReadWriteCloser, error)
}

// System opens real serial ports and TCP connections.
type System struct {
	BaudRate    int
	DialTimeout time.Duration
}

// Open implements Opener.
func (o System) Open(ctx context.Context, s Settings) (io.ReadWriteCloser, error) {
	switch s.Kind() {
	case KindSerial:
		return o.openSerial(s.Path)
	case KindTCP:
		return o.dial(ctx, s.Address())
	default:
		return nil, ErrNotConfigured
	}
}

func (o System) openSerial(path string) (io.ReadWriteCloser, error) {
	if err := CheckPath(path); err != nil {
		return nil, err
	}
	baud := o.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", path, err)
	}
	return port, nil
}

func (o System) dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	timeout := o.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	return conn, nil
}

// CheckPath verifies that a serial device path exists right now.
func CheckPath(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPathUnavailable, path, err)
	}
	return nil
}

// IsDisconnect reports whether err means the device went away (unplugged,
// closed port, peer reset) as opposed to a configuration problem.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrPathUnavailable) {
		return true
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return isPortGone(portErr.Code())
	}
	var portErrValue serial.PortError
	if errors.As(err, &portErrValue) {
		return isPortGone(portErrValue.Code())
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "no such device")
}

func isPortGone(code serial.PortErrorCode) bool {
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}
