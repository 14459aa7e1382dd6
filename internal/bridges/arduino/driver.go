package arduino

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-arduino/internal/process"
	"github.com/nerrad567/gray-logic-arduino/internal/transport"
)

// Driver defaults.
const (
	DefaultRetryDelay    = 3 * time.Second
	DefaultMaxAttempts   = 3
	DefaultProbeInterval = 500 * time.Millisecond
	DefaultProbeTimeout  = 2 * time.Second

	inboxSize = 64
)

// Logger defines the logging interface for the driver.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PersistedSource supplies previously known device keys restored when the
// host comes up.
type PersistedSource interface {
	PersistedDevices(ctx context.Context) ([]string, error)
}

// Options configures a Driver.
type Options struct {
	Settings transport.Settings

	// Opener opens the transport. Defaults to transport.System.
	Opener transport.Opener

	// Spawner runs the external flasher. Required for flashing.
	Spawner Spawner

	Sink   EventSink
	Logger Logger

	RetryDelay    time.Duration
	MaxAttempts   int
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	// StatusRefresh rewrites the status LED periodically. Zero disables.
	StatusRefresh time.Duration

	VersionFlag string
	URLFlag     string

	// PersistantDevices are G_V_D keys restored on host up.
	PersistantDevices []string

	// Persisted adds stored keys to PersistantDevices. Optional.
	Persisted PersistedSource
}

// Snapshot is a point-in-time view of the driver.
type Snapshot struct {
	Connection  ConnState          `json:"connection"`
	Flash       FlashState         `json:"flash"`
	Selector    Selector           `json:"selector"`
	Settings    transport.Settings `json:"settings"`
	Attempts    int                `json:"attempts"`
	MaxAttempts int                `json:"max_attempts"`
	Devices     int                `json:"devices"`
	Version     string             `json:"version,omitempty"`
	Status      HostSignal         `json:"status,omitempty"`

	// Flasher is set while a flash job runs.
	Flasher *process.Stats `json:"flasher,omitempty"`
}

// Driver connects to the microcontroller and routes its protocol.
//
// All mutable state is owned by the goroutine running Run. Public methods
// post a closure to that goroutine and wait for its result, so they are
// safe for concurrent use. They block until Run has started.
type Driver struct {
	opener    transport.Opener
	spawner   Spawner
	sink      EventSink
	logger    Logger
	persisted []string
	store     PersistedSource
	refresh   time.Duration

	inbox   chan func()
	done    chan struct{}
	running atomic.Bool
	ctx     context.Context
	pending pendingConns

	sup      supervisor
	router   router
	registry *Registry
	flash    flashController
	probe    versionProbe

	status      HostSignal
	version     string
	versionSeen bool
}

// New creates a Driver. Call Run to start it.
func New(opts Options) *Driver {
	if opts.Opener == nil {
		opts.Opener = transport.System{}
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.ProbeInterval == 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.VersionFlag == "" {
		opts.VersionFlag = DefaultVersionFlag
	}
	if opts.URLFlag == "" {
		opts.URLFlag = DefaultURLFlag
	}

	d := &Driver{
		opener:    opts.Opener,
		spawner:   opts.Spawner,
		sink:      opts.Sink,
		logger:    opts.Logger,
		persisted: opts.PersistantDevices,
		store:     opts.Persisted,
		refresh:   opts.StatusRefresh,
		inbox:     make(chan func(), inboxSize),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		probe:     versionProbe{interval: opts.ProbeInterval, timeout: opts.ProbeTimeout},
		flash:     flashController{versionFlag: opts.VersionFlag, urlFlag: opts.URLFlag},
	}
	d.sup.settings = opts.Settings
	d.sup.budget = RetryBudget{Delay: opts.RetryDelay, Max: opts.MaxAttempts}
	d.registry = newRegistry(opts.Sink, d.writeFrame)
	return d
}

// AddSink adds an event sink. It must be called before Run.
func (d *Driver) AddSink(sink EventSink) {
	switch cur := d.sink.(type) {
	case Sinks:
		d.sink = append(cur, sink)
	case NopSink:
		d.sink = sink
	default:
		d.sink = Sinks{cur, sink}
	}
	d.registry.sink = d.sink
}

// Run starts the first connection attempt and processes events until ctx
// is cancelled. The transport is closed and a running flasher stopped on
// return.
func (d *Driver) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("arduino: driver already running")
	}
	d.ctx = ctx
	defer close(d.done)

	d.logger.Info("arduino driver starting", "transport", d.sup.settings.String())
	_ = d.connect()

	var refresh <-chan time.Time
	if d.refresh > 0 {
		t := time.NewTicker(d.refresh)
		defer t.Stop()
		refresh = t.C
	}

	for {
		select {
		case fn := <-d.inbox:
			fn()
		case <-refresh:
			d.writeStatus()
		case <-ctx.Done():
			d.shutdown()
			return nil
		}
	}
}

func (d *Driver) shutdown() {
	d.pending.closeAll()
	d.sup.cancelRetry()
	d.probe.stop()
	if err := d.router.unbind(); err != nil {
		d.logger.Debug("closing transport", "error", err)
	}
	if d.flash.proc != nil {
		if err := d.flash.proc.Stop(); err != nil {
			d.logger.Warn("stopping flasher", "error", err)
		}
	}
	d.logger.Info("arduino driver stopped")
}

// post queues fn for the driver goroutine. It reports false once the
// driver has stopped.
func (d *Driver) post(fn func()) bool {
	select {
	case d.inbox <- fn:
		return true
	case <-d.done:
		return false
	}
}

// call runs fn on the driver goroutine and waits for its result.
func (d *Driver) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case d.inbox <- func() { reply <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrDriverStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrDriverStopped
	}
}

// --- connection supervision ---

func (d *Driver) connect() error {
	attempt, ok := d.sup.budget.take()
	if !ok {
		d.logger.Error("unable to connect to device",
			"transport", d.sup.settings.String(),
			"attempts", d.sup.budget.Max,
		)
		return ErrRetryBudgetExhausted
	}
	if err := d.sup.state.to(ConnConnecting); err != nil {
		return err
	}

	d.sup.session++
	session := d.sup.session
	settings := d.sup.settings
	d.emitTransport(nil)
	d.logger.Debug("opening transport", "transport", settings.String(), "attempt", attempt)

	go func() {
		conn, err := d.opener.Open(d.ctx, settings)
		if conn != nil && !d.pending.add(session, conn) {
			_ = conn.Close()
			return
		}
		d.post(func() {
			d.pending.take(session)
			d.opened(session, settings, conn, err)
		})
	}()
	return nil
}

func (d *Driver) opened(session uint64, settings transport.Settings, conn io.ReadWriteCloser, err error) {
	if session != d.sup.session || d.sup.state.get() != ConnConnecting {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		_ = d.sup.state.to(ConnDisconnected)
		d.logger.Warn("device unavailable", "transport", settings.String(), "error", err)
		d.emitTransport(err)
		d.retry()
		return
	}

	d.sup.settings = settings.Resolved()
	_ = d.sup.state.to(ConnOpen)
	_ = d.router.bind(conn, session,
		func(line []byte) { d.post(func() { d.handleLine(session, line) }) },
		func(err error) { d.post(func() { d.closed(session, err) }) },
	)
	d.versionSeen = false
	d.logger.Info("transport open", "transport", d.sup.settings.String())
	d.emitTransport(nil)

	d.probe.start(d.postProbeTick, d.postProbeExpired)
	d.writeStatus()
}

func (d *Driver) closed(session uint64, err error) {
	if session != d.router.session || !d.router.bound() {
		return
	}
	_ = d.router.unbind()
	d.probe.stop()
	if d.sup.state.get() != ConnOpen {
		return
	}

	_ = d.sup.state.to(ConnDisconnected)
	if transport.IsDisconnect(err) {
		d.logger.Warn("transport closed", "transport", d.sup.settings.String(), "error", err)
		d.emitTransport(nil)
	} else {
		d.logger.Error("transport error", "transport", d.sup.settings.String(), "error", err)
		d.emitTransport(err)
	}
	d.retry()
}

func (d *Driver) retry() {
	scheduled := d.sup.scheduleRetry(func(gen uint64) {
		d.post(func() {
			if gen != d.sup.retryGen || d.sup.state.get() != ConnDisconnected {
				return
			}
			d.sup.retryTimer = nil
			_ = d.connect()
		})
	})
	if !scheduled {
		d.logger.Error("giving up on device",
			"transport", d.sup.settings.String(),
			"attempts", d.sup.budget.Attempts(),
		)
	}
}

// dropTransport closes an open transport, or abandons an open in
// progress, leaving the connection Disconnected without scheduling a retry.
func (d *Driver) dropTransport(reason string) {
	switch d.sup.state.get() {
	case ConnOpen:
		d.probe.stop()
		if err := d.router.unbind(); err != nil {
			d.logger.Debug("closing transport", "reason", reason, "error", err)
		}
	case ConnConnecting:
		// opened discards the result once the session moves on.
		d.sup.session++
	default:
		return
	}
	_ = d.sup.state.to(ConnDisconnected)
	d.logger.Info("transport dropped", "reason", reason)
	d.emitTransport(nil)
}

// resume resets the retry budget and reopens the transport with the
// stored settings.
func (d *Driver) resume() {
	d.sup.cancelRetry()
	d.sup.budget.reset()
	_ = d.connect()
}

func (d *Driver) emitTransport(err error) {
	ev := TransportEvent{
		State:     d.sup.state.get(),
		Kind:      string(d.sup.settings.Kind()),
		Address:   d.sup.settings.Address(),
		Attempt:   d.sup.budget.Attempts(),
		Timestamp: time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	d.sink.TransportChanged(ev)
}

// --- inbound frames ---

func (d *Driver) handleLine(session uint64, line []byte) {
	if session != d.router.session || !d.router.bound() {
		return
	}
	f, err := ParseFrame(line)
	if err != nil {
		d.logger.Debug("dropping malformed frame", "error", err, "line", string(line))
		return
	}

	for _, e := range f.Device {
		if v, ok := e.VersionReport(); ok && !d.versionSeen {
			d.versionSeen = true
			d.version = v
			d.probe.stop()
			d.logger.Info("firmware version received", "version", v)
			d.sink.VersionReceived(v)
			continue
		}
		d.registry.Deliver(e.Identity, e.Data)
	}
	for _, e := range f.Plugin {
		d.registry.Register(e.Identity)
		d.emitConfig(SectionPlugin, e)
	}
	for _, e := range f.Unplug {
		d.emitConfig(SectionUnplug, e)
	}
	if len(f.Ack) > 0 {
		d.logger.Debug("device acknowledged", "ack", string(f.Ack))
		d.sink.ProtocolConfig(SectionAck, f.Ack)
	}
	if len(f.Error) > 0 {
		d.logger.Warn("device reported error", "error", string(f.Error))
		d.sink.ProtocolConfig(SectionError, f.Error)
	}
	if f.Config != nil {
		d.sink.ProtocolConfig(SectionConfig, *f.Config)
	}
}

func (d *Driver) emitConfig(kind string, e Entry) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	d.sink.ProtocolConfig(kind, b)
}

// --- outbound ---

// writeFrame is the registry's write path. Writes are refused while a
// flash is requested or running.
func (d *Driver) writeFrame(id Identity, data json.RawMessage) error {
	if d.flash.state.get() != FlashNone {
		return ErrFlashInProgress
	}
	if d.sup.state.get() != ConnOpen {
		return ErrTransportNotOpen
	}
	return d.router.write(id, data)
}

func (d *Driver) writeStatus() {
	if d.status == "" {
		return
	}
	colour, _ := json.Marshal(d.status.Colour())
	if err := d.writeFrame(StatusLEDIdentity, colour); err != nil {
		d.logger.Debug("status write skipped", "status", d.status, "reason", err)
	}
}

func (d *Driver) postProbeTick(gen uint64) {
	d.post(func() {
		if gen != d.probe.gen {
			return
		}
		query, _ := json.Marshal(VersionQuery)
		if err := d.writeFrame(VersionIdentity, query); err != nil {
			d.logger.Debug("version query skipped", "reason", err)
		}
		d.probe.rearm(gen, d.postProbeTick)
	})
}

func (d *Driver) postProbeExpired(gen uint64) {
	d.post(func() {
		if gen != d.probe.gen {
			return
		}
		d.probe.stop()
		d.logger.Debug("no firmware version reported")
	})
}

// --- flashing ---

func (d *Driver) requestFlash() error {
	if d.flash.state.get() != FlashNone {
		return ErrFlashInProgress
	}
	if d.sup.state.get() != ConnOpen {
		return ErrTransportNotOpen
	}

	colour, _ := json.Marshal(FlashColour)
	if err := d.router.write(StatusLEDIdentity, colour); err != nil {
		d.logger.Warn("flash status write failed", "error", err)
	}
	if err := d.flash.state.to(FlashRequested); err != nil {
		return err
	}
	d.logger.Info("flash requested", "selector", d.flash.selector.String())
	d.emitFlash(nil)

	d.sup.cancelRetry()
	d.probe.stop()
	_ = d.sup.state.to(ConnClosing)
	if err := d.router.unbind(); err != nil {
		d.logger.Debug("closing transport for flash", "error", err)
	}
	d.emitTransport(nil)
	return nil
}

func (d *Driver) beginFlash() error {
	switch d.flash.state.get() {
	case FlashNone:
		return ErrFlashNotRequested
	case FlashFlashing:
		return ErrFlashInProgress
	}

	args, ok := d.flash.args()
	if !ok {
		_ = d.flash.state.to(FlashNone)
		d.logger.Info("no firmware selected, flash skipped")
		d.emitFlash(nil)
		d.resume()
		return nil
	}
	if d.spawner == nil {
		_ = d.flash.state.to(FlashNone)
		d.logger.Error("no flasher configured, flash skipped")
		d.emitFlash(nil)
		d.resume()
		return nil
	}

	jobID := d.flash.newJob()
	if err := d.flash.state.to(FlashFlashing); err != nil {
		return err
	}
	d.logger.Info("flashing arduino", "job_id", jobID, "args", args)
	d.emitFlash(nil)

	proc, err := d.spawner.Spawn(d.ctx, jobID, args, func(code int) {
		d.post(func() { d.flashExited(jobID, code) })
	})
	if err != nil {
		d.logger.Error("flasher failed to start", "job_id", jobID, "error", err)
		d.flashExited(jobID, -1)
		return nil
	}
	d.flash.proc = proc
	return nil
}

// flashExited handles the end of a flash job. The exit code is logged only.
func (d *Driver) flashExited(jobID string, code int) {
	if jobID != d.flash.jobID || d.flash.state.get() != FlashFlashing {
		return
	}
	d.flash.proc = nil
	_ = d.flash.state.to(FlashNone)
	d.logger.Info("finished flashing", "job_id", jobID, "exit_code", code)
	d.emitFlash(&code)
	d.resume()
}

func (d *Driver) emitFlash(code *int) {
	d.sink.FlashChanged(FlashEvent{
		JobID:     d.flash.jobID,
		State:     d.flash.state.get(),
		Selector:  d.flash.selector.String(),
		ExitCode:  code,
		Timestamp: time.Now(),
	})
}

// --- host signals ---

func (d *Driver) hostSignal(sig HostSignal, persisted []string) {
	d.status = sig
	d.writeStatus()
	if sig != SignalUp {
		return
	}
	created, skipped := d.registry.RegisterFromPersisted(persisted)
	for _, key := range skipped {
		d.logger.Debug("skipping persisted device", "guid", key)
	}
	if created > 0 {
		d.logger.Info("restored persisted devices", "count", created)
	}
}
