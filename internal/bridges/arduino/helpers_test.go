package arduino

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-arduino/internal/process"
	"github.com/nerrad567/gray-logic-arduino/internal/transport"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeConn is an in-memory transport. Lines fed with Send are read by the
// driver; frames the driver writes are recorded.
type fakeConn struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

func newFakeConn() *fakeConn {
	pr, pw := io.Pipe()
	return &fakeConn{pr: pr, pw: pw}
}

func (c *fakeConn) Read(p []byte) (int, error) { return c.pr.Read(p) }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	return c.written.Write(p)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.pr.Close()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send delivers a raw line to the driver.
func (c *fakeConn) Send(t *testing.T, line string) {
	t.Helper()
	if _, err := c.pw.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Send(%q) error = %v", line, err)
	}
}

// Unplug ends the inbound stream as if the device went away.
func (c *fakeConn) Unplug() { _ = c.pw.Close() }

// Frames returns every frame written so far.
func (c *fakeConn) Frames(t *testing.T) []Frame {
	t.Helper()
	c.mu.Lock()
	data := bytes.Clone(c.written.Bytes())
	c.mu.Unlock()

	var frames []Frame
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		f, err := ParseFrame(sc.Bytes())
		if err != nil {
			t.Fatalf("driver wrote malformed frame %q: %v", sc.Text(), err)
		}
		frames = append(frames, f)
	}
	return frames
}

// Writes returns the DA values written to id, decoded as strings where
// possible.
func (c *fakeConn) Writes(t *testing.T, id Identity) []string {
	t.Helper()
	var out []string
	for _, f := range c.Frames(t) {
		for _, e := range f.Device {
			if e.Identity != id {
				continue
			}
			var s string
			if err := json.Unmarshal(e.Data, &s); err != nil {
				s = string(e.Data)
			}
			out = append(out, s)
		}
	}
	return out
}

// fakeOpener hands out fakeConns, or fails while fail is set.
type fakeOpener struct {
	mu    sync.Mutex
	calls []transport.Settings
	conns []*fakeConn
	fail  error
}

func (o *fakeOpener) Open(_ context.Context, s transport.Settings) (io.ReadWriteCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, s)
	if o.fail != nil {
		return nil, o.fail
	}
	c := newFakeConn()
	o.conns = append(o.conns, c)
	return c, nil
}

func (o *fakeOpener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func (o *fakeOpener) Conn(i int) *fakeConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= len(o.conns) {
		return nil
	}
	return o.conns[i]
}

func (o *fakeOpener) ConnCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.conns)
}

// blockingOpener holds every Open until Release, ignoring ctx the way a
// serial open does.
type blockingOpener struct {
	release chan struct{}
	once    sync.Once

	mu    sync.Mutex
	calls int
	conns []*fakeConn
}

func newBlockingOpener() *blockingOpener {
	return &blockingOpener{release: make(chan struct{})}
}

func (o *blockingOpener) Open(context.Context, transport.Settings) (io.ReadWriteCloser, error) {
	o.mu.Lock()
	o.calls++
	c := newFakeConn()
	o.conns = append(o.conns, c)
	o.mu.Unlock()

	<-o.release
	return c, nil
}

func (o *blockingOpener) Release() { o.once.Do(func() { close(o.release) }) }

func (o *blockingOpener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *blockingOpener) Conn(i int) *fakeConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= len(o.conns) {
		return nil
	}
	return o.conns[i]
}

// countingOpener wraps another opener and counts calls.
type countingOpener struct {
	transport.Opener
	mu    sync.Mutex
	count int
}

func (o *countingOpener) Open(ctx context.Context, s transport.Settings) (io.ReadWriteCloser, error) {
	o.mu.Lock()
	o.count++
	o.mu.Unlock()
	return o.Opener.Open(ctx, s)
}

func (o *countingOpener) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

// fakeSpawner records flasher invocations.
type fakeSpawner struct {
	mu      sync.Mutex
	args    [][]string
	onExit  func(int)
	err     error
	stopped bool
}

func (s *fakeSpawner) Spawn(_ context.Context, jobID string, args []string, onExit func(int)) (FlashProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.args = append(s.args, args)
	s.onExit = onExit
	return &fakeProcess{spawner: s, name: "arduino-flash-" + jobID}, nil
}

// fakeProcess is the FlashProcess handed out by fakeSpawner.
type fakeProcess struct {
	spawner *fakeSpawner
	name    string
}

func (p *fakeProcess) Stop() error {
	p.spawner.mu.Lock()
	p.spawner.stopped = true
	p.spawner.mu.Unlock()
	return nil
}

func (p *fakeProcess) Stats() process.Stats {
	return process.Stats{Name: p.name, Status: process.StatusRunning, PID: 4242}
}

func (s *fakeSpawner) Spawned() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.args...)
}

// Exit simulates the flasher ending with code.
func (s *fakeSpawner) Exit(code int) {
	s.mu.Lock()
	fn := s.onExit
	s.mu.Unlock()
	fn(code)
}

// recordingSink records every driver event.
type recordingSink struct {
	mu         sync.Mutex
	discovered []Handle
	data       []dataEvent
	configs    []string
	versions   []string
	transports []TransportEvent
	flashes    []FlashEvent
}

type dataEvent struct {
	GUID string
	Data string
}

func (s *recordingSink) DeviceDiscovered(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovered = append(s.discovered, h)
}

func (s *recordingSink) DeviceData(h Handle, data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, dataEvent{GUID: h.GUID, Data: string(data)})
}

func (s *recordingSink) ProtocolConfig(kind string, _ json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, kind)
}

func (s *recordingSink) VersionReceived(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = append(s.versions, v)
}

func (s *recordingSink) TransportChanged(ev TransportEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transports = append(s.transports, ev)
}

func (s *recordingSink) FlashChanged(ev FlashEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flashes = append(s.flashes, ev)
}

func (s *recordingSink) Discovered() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Handle(nil), s.discovered...)
}

func (s *recordingSink) Data() []dataEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dataEvent(nil), s.data...)
}

func (s *recordingSink) Versions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.versions...)
}

func (s *recordingSink) Configs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.configs...)
}

func (s *recordingSink) FlashStates() []FlashState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FlashState, 0, len(s.flashes))
	for _, ev := range s.flashes {
		out = append(out, ev.State)
	}
	return out
}

var errRefused = errors.New("connection refused")

// testDriver is a running driver wired to fakes.
type testDriver struct {
	*Driver
	opener  *fakeOpener
	spawner *fakeSpawner
	sink    *recordingSink
}

func startDriver(t *testing.T, mutate func(*Options)) *testDriver {
	t.Helper()
	td := &testDriver{
		opener:  &fakeOpener{},
		spawner: &fakeSpawner{},
		sink:    &recordingSink{},
	}
	opts := Options{
		Settings:      transport.Settings{Host: "arduino.local"},
		Opener:        td.opener,
		Spawner:       td.spawner,
		Sink:          td.sink,
		RetryDelay:    10 * time.Millisecond,
		MaxAttempts:   3,
		ProbeInterval: time.Hour,
		ProbeTimeout:  time.Hour,
	}
	if mutate != nil {
		mutate(&opts)
	}
	td.Driver = New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- td.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return td
}

// snapshot fetches the driver state or fails the test.
func (td *testDriver) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := td.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return s
}

// waitOpen waits for the n-th transport (1-based) to be open.
func (td *testDriver) waitOpen(t *testing.T, n int) *fakeConn {
	t.Helper()
	waitFor(t, "transport open", func() bool {
		return td.opener.ConnCount() >= n && td.snapshot(t).Connection == ConnOpen
	})
	return td.opener.Conn(n - 1)
}
