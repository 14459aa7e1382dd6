package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSettings(t *testing.T) {
	tests := []struct {
		name         string
		settings     Settings
		wantKind     Kind
		wantAddress  string
		wantResolved Settings
	}{
		{
			name:         "path wins over host",
			settings:     Settings{Path: "/dev/ttyO1", Host: "10.0.0.2", Port: 9001},
			wantKind:     KindSerial,
			wantAddress:  "/dev/ttyO1",
			wantResolved: Settings{Path: "/dev/ttyO1"},
		},
		{
			name:         "host with default port",
			settings:     Settings{Host: "10.0.0.2"},
			wantKind:     KindTCP,
			wantAddress:  "10.0.0.2:9000",
			wantResolved: Settings{Host: "10.0.0.2", Port: DefaultPort},
		},
		{
			name:         "host with explicit port",
			settings:     Settings{Host: "bridge.local", Port: 7000},
			wantKind:     KindTCP,
			wantAddress:  "bridge.local:7000",
			wantResolved: Settings{Host: "bridge.local", Port: 7000},
		},
		{
			name:         "nothing configured",
			settings:     Settings{Port: 9000},
			wantKind:     KindNone,
			wantAddress:  "",
			wantResolved: Settings{Port: 9000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.settings.Kind(); got != tt.wantKind {
				t.Errorf("Kind() = %q, want %q", got, tt.wantKind)
			}
			if got := tt.settings.Address(); got != tt.wantAddress {
				t.Errorf("Address() = %q, want %q", got, tt.wantAddress)
			}
			if got := tt.settings.Resolved(); got != tt.wantResolved {
				t.Errorf("Resolved() = %+v, want %+v", got, tt.wantResolved)
			}
		})
	}
}

func TestCheckPath(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "ttyFake")
	if err := os.WriteFile(existing, nil, 0600); err != nil {
		t.Fatal(err)
	}

	if err := CheckPath(existing); err != nil {
		t.Errorf("CheckPath(existing) = %v, want nil", err)
	}
	if err := CheckPath("/dev/does-not-exist"); !errors.Is(err, ErrPathUnavailable) {
		t.Errorf("CheckPath(missing) = %v, want ErrPathUnavailable", err)
	}
}

func TestSystemOpen_MissingSerialPath(t *testing.T) {
	_, err := System{}.Open(context.Background(), Settings{Path: "/dev/does-not-exist"})
	if !errors.Is(err, ErrPathUnavailable) {
		t.Errorf("Open() = %v, want ErrPathUnavailable", err)
	}
}

func TestSystemOpen_NotConfigured(t *testing.T) {
	_, err := System{}.Open(context.Background(), Settings{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Open() = %v, want ErrNotConfigured", err)
	}
}

func TestSystemOpen_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	conn, err := System{DialTimeout: time.Second}.Open(context.Background(), Settings{Host: "127.0.0.1", Port: addr.Port})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
	}
	defer server.Close()

	if _, err := fmt.Fprint(server, "{\"DEVICE\":[]}\n"); err != nil {
		t.Fatalf("server write: %v", err)
	}
	buf := make([]byte, 13)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(buf) != "{\"DEVICE\":[]}" {
		t.Errorf("read %q", buf)
	}
}

func TestIsDisconnect(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true},
		{"closed conn", net.ErrClosed, true},
		{"path gone", ErrPathUnavailable, true},
		{"reset by peer", errors.New("read tcp: connection reset by peer"), true},
		{"config problem", errors.New("invalid baud rate"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDisconnect(tt.err); got != tt.want {
				t.Errorf("IsDisconnect(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
