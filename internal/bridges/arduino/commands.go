package arduino

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-arduino/internal/transport"
)

// Write sends payload to the device id. The device need not be
// registered. Writes fail with ErrFlashInProgress while flashing and with
// ErrTransportNotOpen when disconnected.
func (d *Driver) Write(ctx context.Context, id Identity, payload any) error {
	if err := id.Validate(); err != nil {
		return err
	}
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return d.call(ctx, func() error {
		return d.registry.Write(id, data)
	})
}

// WriteGUID is Write addressed by a G_V_D key.
func (d *Driver) WriteGUID(ctx context.Context, guid string, payload any) error {
	id, err := ParseKey(guid)
	if err != nil {
		return err
	}
	return d.Write(ctx, id, payload)
}

// HostSignal applies a host lifecycle signal: the status LED colour is
// updated and, on SignalUp, persisted devices are restored.
func (d *Driver) HostSignal(ctx context.Context, sig HostSignal) error {
	if sig.Colour() == "" {
		return fmt.Errorf("%w: %q", ErrUnknownSignal, string(sig))
	}

	var persisted []string
	if sig == SignalUp {
		persisted = append(persisted, d.persisted...)
		if d.store != nil {
			stored, err := d.store.PersistedDevices(ctx)
			if err != nil {
				d.logger.Warn("loading stored devices", "error", err)
			}
			persisted = append(persisted, stored...)
		}
	}

	return d.call(ctx, func() error {
		d.hostSignal(sig, persisted)
		return nil
	})
}

// RegisterPersisted restores devices from G_V_D keys and returns how many
// new handles were created. Keys with fewer than three parts are skipped.
func (d *Driver) RegisterPersisted(ctx context.Context, keys []string) (int, error) {
	var created int
	err := d.call(ctx, func() error {
		created, _ = d.registry.RegisterFromPersisted(keys)
		return nil
	})
	return created, err
}

// SelectVersion selects an official firmware version, clearing any URL.
func (d *Driver) SelectVersion(ctx context.Context, tag string) error {
	return d.call(ctx, func() error {
		d.flash.selectVersion(tag)
		d.logger.Info("firmware version selected", "version", tag)
		return nil
	})
}

// SelectImageURL selects a custom hex image, clearing any version.
func (d *Driver) SelectImageURL(ctx context.Context, url string) error {
	return d.call(ctx, func() error {
		d.flash.selectImageURL(url)
		d.logger.Info("firmware image selected", "url", url)
		return nil
	})
}

// RequestFlash announces a flash on the status LED and closes the
// transport. It requires an open transport.
func (d *Driver) RequestFlash(ctx context.Context) error {
	return d.call(ctx, d.requestFlash)
}

// BeginFlash starts the flasher for the selected firmware. Without a
// selection the request is dropped and the transport reopened.
func (d *Driver) BeginFlash(ctx context.Context) error {
	return d.call(ctx, d.beginFlash)
}

// Flash requests and begins a flash in one step.
func (d *Driver) Flash(ctx context.Context) error {
	return d.call(ctx, func() error {
		if err := d.requestFlash(); err != nil {
			return err
		}
		return d.beginFlash()
	})
}

// Reconnect resets the retry budget and connects now if disconnected.
// Non-nil settings replace the stored transport settings first; an open
// or opening transport is dropped and the new one opened in its place.
func (d *Driver) Reconnect(ctx context.Context, settings *transport.Settings) error {
	return d.call(ctx, func() error {
		if d.flash.state.get() != FlashNone {
			return ErrFlashInProgress
		}
		d.sup.cancelRetry()
		d.sup.budget.reset()
		if settings != nil {
			d.sup.settings = *settings
			d.dropTransport("switching transport")
		}
		if d.sup.state.get() != ConnDisconnected {
			return nil
		}
		return d.connect()
	})
}

// Snapshot returns the current driver state.
func (d *Driver) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := d.call(ctx, func() error {
		s = Snapshot{
			Connection:  d.sup.state.get(),
			Flash:       d.flash.state.get(),
			Selector:    d.flash.selector,
			Settings:    d.sup.settings,
			Attempts:    d.sup.budget.Attempts(),
			MaxAttempts: d.sup.budget.Max,
			Devices:     d.registry.Len(),
			Version:     d.version,
			Status:      d.status,
		}
		if d.flash.proc != nil {
			st := d.flash.proc.Stats()
			s.Flasher = &st
		}
		return nil
	})
	return s, err
}

// Handles returns every registered device handle.
func (d *Driver) Handles(ctx context.Context) ([]Handle, error) {
	var hs []Handle
	err := d.call(ctx, func() error {
		hs = d.registry.Handles()
		return nil
	})
	return hs, err
}

// Lookup returns the handle for id, if registered.
func (d *Driver) Lookup(ctx context.Context, id Identity) (Handle, bool, error) {
	var (
		h  Handle
		ok bool
	)
	err := d.call(ctx, func() error {
		h, ok = d.registry.Lookup(id)
		return nil
	})
	return h, ok, err
}
