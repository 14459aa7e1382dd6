package device

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-arduino/internal/bridges/arduino"
)

// KnownDevice is a device the bridge has seen at least once.
type KnownDevice struct {
	GUID      string    `json:"guid"`
	Group     string    `json:"group"`
	Vendor    int       `json:"vendor"`
	Type      int       `json:"type"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// FromHandle builds a KnownDevice from a driver handle seen at t.
func FromHandle(h arduino.Handle, t time.Time) KnownDevice {
	return KnownDevice{
		GUID:      h.GUID,
		Group:     h.Identity.Group,
		Vendor:    h.Identity.Vendor,
		Type:      h.Identity.Type,
		FirstSeen: t,
		LastSeen:  t,
	}
}

// Identity returns the wire identity of the device.
func (d KnownDevice) Identity() arduino.Identity {
	return arduino.Identity{Group: d.Group, Vendor: d.Vendor, Type: d.Type}
}

// Validate checks that the GUID matches the identity fields.
func (d KnownDevice) Validate() error {
	id := d.Identity()
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDevice, err)
	}
	if d.GUID != id.Key() {
		return fmt.Errorf("%w: guid %q does not match %s", ErrInvalidDevice, d.GUID, id.Key())
	}
	return nil
}

// FlashJob is one firmware update attempt.
type FlashJob struct {
	ID         string     `json:"id"`
	Selector   string     `json:"selector"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
}
