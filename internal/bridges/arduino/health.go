package arduino

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthPublisher publishes health messages. Typically the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Source provides driver state for each report.
	Source interface {
		Snapshot(ctx context.Context) (Snapshot, error)
	}
}

// HealthReporter publishes periodic bridge health.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	source    interface {
		Snapshot(ctx context.Context) (Snapshot, error)
	}

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a health reporter. Call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *HealthReporter) log() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publish(HealthMessage{Status: HealthStopping, Reason: "bridge stopping"})
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthMessage{Status: HealthStarting, Reason: "bridge starting"})
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow(ctx context.Context) error {
	return h.publish(h.Build(ctx))
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(ctx); err != nil {
		h.log().Error("failed to publish initial health", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(ctx); err != nil {
				h.log().Error("failed to publish health", "error", err)
			}
		}
	}
}

// Build assembles a health message from the current driver state.
func (h *HealthReporter) Build(ctx context.Context) HealthMessage {
	msg := HealthMessage{Status: HealthHealthy}

	if h.source != nil {
		snap, err := h.source.Snapshot(ctx)
		if err != nil {
			msg.Status = HealthDegraded
			msg.Reason = "driver unavailable: " + err.Error()
			return msg
		}
		msg.Connection = snap.Connection
		msg.Transport = snap.Settings.String()
		msg.Flash = snap.Flash
		msg.Attempts = snap.Attempts
		msg.Firmware = snap.Version
		msg.DevicesManaged = snap.Devices
		msg.Flasher = snap.Flasher

		switch {
		case snap.Flash != FlashNone:
			msg.Status, msg.Reason = HealthDegraded, "flashing firmware"
		case snap.Connection != ConnOpen:
			msg.Status, msg.Reason = HealthDegraded, "transport "+snap.Connection.String()
		}
	}

	if h.publisher == nil || !h.publisher.IsConnected() {
		msg.Status, msg.Reason = HealthDegraded, "MQTT disconnected"
	}
	return msg
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.publisher == nil {
		return nil
	}
	msg.Bridge = Protocol
	msg.Timestamp = time.Now().UTC()
	msg.Version = h.version
	msg.UptimeSeconds = int64(time.Since(h.startTime).Seconds())

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(topics.BridgeHealth(Protocol), payload, 1, true)
}
