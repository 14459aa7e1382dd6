package arduino

import (
	"fmt"
	"strconv"
	"strings"
)

// keySeparator joins the identity triple into a device key.
const keySeparator = "_"

// Identity addresses one logical device behind the microcontroller:
// G (group/port), V (vendor) and D (device type).
type Identity struct {
	Group  string `json:"g"`
	Vendor int    `json:"v"`
	Type   int    `json:"d"`
}

// Well known identities.
var (
	// StatusLEDIdentity is the on-board RGB status LED.
	StatusLEDIdentity = Identity{Group: "0", Vendor: 0, Type: 999}

	// VersionIdentity answers firmware version queries.
	VersionIdentity = Identity{Group: "0", Vendor: 0, Type: 1003}
)

// VersionQuery is the payload that asks the firmware for its version.
const VersionQuery = "VNO"

// Key returns the G_V_D device key. Two identities share a key only if
// they are equal, because Validate rejects groups containing the separator.
func (id Identity) Key() string {
	return id.Group + keySeparator + strconv.Itoa(id.Vendor) + keySeparator + strconv.Itoa(id.Type)
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return id.Key()
}

// Validate reports whether id can be keyed unambiguously.
func (id Identity) Validate() error {
	if strings.Contains(id.Group, keySeparator) {
		return fmt.Errorf("%w: group %q contains %q", ErrInvalidIdentity, id.Group, keySeparator)
	}
	return nil
}

// ParseKey parses a G_V_D string. Extra trailing parts are ignored, so
// "0_0_1003_x" yields 0_0_1003. Fewer than three parts is an error.
func ParseKey(s string) (Identity, error) {
	parts := strings.Split(s, keySeparator)
	if len(parts) < 3 {
		return Identity{}, fmt.Errorf("%w: %q has %d parts, want 3", ErrInvalidIdentity, s, len(parts))
	}

	vendor, err := strconv.Atoi(parts[1])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: vendor %q: %w", ErrInvalidIdentity, parts[1], err)
	}
	typ, err := strconv.Atoi(parts[2])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: device type %q: %w", ErrInvalidIdentity, parts[2], err)
	}

	return Identity{Group: parts[0], Vendor: vendor, Type: typ}, nil
}
