package arduino

import (
	"fmt"
	"strings"
)

// HostSignal is a lifecycle signal from the host application.
type HostSignal string

const (
	SignalDown         HostSignal = "down"
	SignalUp           HostSignal = "up"
	SignalAuthed       HostSignal = "authed"
	SignalActivation   HostSignal = "activation"
	SignalInvalidToken HostSignal = "invalid_token"
	SignalReconnecting HostSignal = "reconnecting"
	SignalUpdating     HostSignal = "updating"
)

// statusColours maps each host signal to the status LED colour.
var statusColours = map[HostSignal]string{
	SignalDown:         "FFFF00",
	SignalUp:           "00FF00",
	SignalAuthed:       "00FFFF",
	SignalActivation:   "FF00FF",
	SignalInvalidToken: "0000FF",
	SignalReconnecting: "00FFFF",
	SignalUpdating:     "FFFFFF",
}

// FlashColour is written to the status LED when a flash is requested.
const FlashColour = "FFFFFF"

// ParseHostSignal accepts the signal name with or without a "client::"
// prefix, in any case.
func ParseHostSignal(s string) (HostSignal, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "client::")
	sig := HostSignal(name)
	if _, ok := statusColours[sig]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSignal, s)
	}
	return sig, nil
}

// Colour returns the LED colour for sig.
func (sig HostSignal) Colour() string {
	return statusColours[sig]
}
