package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-arduino/internal/bridges/arduino"
)

const (
	defaultQueueSize = 128
	writeTimeout     = 5 * time.Second
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry caches known devices and records driver events to SQLite.
//
// Event methods run on the driver goroutine and only update the cache and
// queue a write; the background writer started by Start applies them.
//
// All public methods are thread-safe.
type Registry struct {
	arduino.NopSink

	repo    Repository
	history FlashHistoryRepository // optional

	cache   map[string]KnownDevice // by GUID
	seen    map[string]bool        // reported this run
	cacheMu sync.RWMutex

	queue    chan func(ctx context.Context)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewRegistry creates a registry over repo. history may be nil.
func NewRegistry(repo Repository, history FlashHistoryRepository) *Registry {
	return &Registry{
		repo:    repo,
		history: history,
		cache:   make(map[string]KnownDevice),
		seen:    make(map[string]bool),
		queue:   make(chan func(ctx context.Context), defaultQueueSize),
		done:    make(chan struct{}),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache = make(map[string]KnownDevice, len(devices))
	for _, d := range devices {
		r.cache[d.GUID] = d
	}
	r.logger.Info("known devices loaded", "count", len(devices))
	return nil
}

// Start runs the background writer until Stop.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.writeLoop()
}

// Stop flushes queued writes and stops the writer. Safe to call multiple times.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Registry) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case fn := <-r.queue:
			r.apply(fn)
		case <-r.done:
			for {
				select {
				case fn := <-r.queue:
					r.apply(fn)
				default:
					return
				}
			}
		}
	}
}

func (r *Registry) apply(fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	fn(ctx)
}

func (r *Registry) enqueue(what string, fn func(ctx context.Context)) {
	select {
	case r.queue <- fn:
	default:
		r.logger.Warn("device store queue full, dropping write", "write", what)
	}
}

// PersistedDevices returns every known GUID in sorted order.
func (r *Registry) PersistedDevices(context.Context) ([]string, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	guids := make([]string, 0, len(r.cache))
	for guid := range r.cache {
		guids = append(guids, guid)
	}
	sort.Strings(guids)
	return guids, nil
}

// ListDevices returns cached devices ordered by GUID.
func (r *Registry) ListDevices() []KnownDevice {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make([]KnownDevice, 0, len(r.cache))
	for _, d := range r.cache {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	return out
}

// Forget deletes a device from the store and the cache.
func (r *Registry) Forget(ctx context.Context, guid string) error {
	if err := r.repo.Delete(ctx, guid); err != nil {
		return err
	}
	r.cacheMu.Lock()
	delete(r.cache, guid)
	delete(r.seen, guid)
	r.cacheMu.Unlock()
	r.logger.Info("device forgotten", "guid", guid)
	return nil
}

// DeviceDiscovered records a newly seen device. Handles restored from the
// store are skipped until they send data.
func (r *Registry) DeviceDiscovered(h arduino.Handle) {
	if h.Persisted {
		return
	}
	r.record(h)
}

// DeviceData marks the device as seen on its first report this run.
func (r *Registry) DeviceData(h arduino.Handle, _ json.RawMessage) {
	r.record(h)
}

func (r *Registry) record(h arduino.Handle) {
	now := time.Now()

	r.cacheMu.Lock()
	if r.seen[h.GUID] {
		r.cacheMu.Unlock()
		return
	}
	r.seen[h.GUID] = true
	d, ok := r.cache[h.GUID]
	if ok {
		d.LastSeen = now
	} else {
		d = FromHandle(h, now)
	}
	r.cache[h.GUID] = d
	r.cacheMu.Unlock()

	r.enqueue("upsert "+h.GUID, func(ctx context.Context) {
		if err := r.repo.Upsert(ctx, d); err != nil {
			r.logger.Error("failed to store device", "guid", d.GUID, "error", err)
			return
		}
		r.logger.Debug("device stored", "guid", d.GUID)
	})
}

// FlashChanged records flash jobs as they start and finish.
func (r *Registry) FlashChanged(ev arduino.FlashEvent) {
	if r.history == nil || ev.JobID == "" {
		return
	}
	switch {
	case ev.State == arduino.FlashFlashing:
		job := FlashJob{ID: ev.JobID, Selector: ev.Selector, StartedAt: ev.Timestamp}
		r.enqueue("flash start", func(ctx context.Context) {
			if err := r.history.StartJob(ctx, job); err != nil {
				r.logger.Error("failed to record flash job", "job_id", job.ID, "error", err)
			}
		})
	case ev.State == arduino.FlashNone && ev.ExitCode != nil:
		id, code, at := ev.JobID, *ev.ExitCode, ev.Timestamp
		r.enqueue("flash finish", func(ctx context.Context) {
			if err := r.history.FinishJob(ctx, id, code, at); err != nil {
				r.logger.Error("failed to record flash result", "job_id", id, "error", err)
			}
		})
	}
}

// FlashJobs returns recent flash jobs. Returns nil when no history is kept.
func (r *Registry) FlashJobs(ctx context.Context, limit int) ([]FlashJob, error) {
	if r.history == nil {
		return nil, nil
	}
	return r.history.ListJobs(ctx, limit)
}

var (
	_ arduino.EventSink       = (*Registry)(nil)
	_ arduino.PersistedSource = (*Registry)(nil)
)
