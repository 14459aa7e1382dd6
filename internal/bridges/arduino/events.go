package arduino

import (
	"encoding/json"
	"time"
)

// EventSink receives the host-facing events produced by a Driver.
//
// Methods are called on the driver goroutine in event order. They must not
// block for long and must not call back into the Driver synchronously.
type EventSink interface {
	DeviceDiscovered(h Handle)
	DeviceData(h Handle, data json.RawMessage)
	ProtocolConfig(kind string, data json.RawMessage)
	VersionReceived(version string)
	TransportChanged(ev TransportEvent)
	FlashChanged(ev FlashEvent)
}

// TransportEvent reports a connection state change.
type TransportEvent struct {
	State     ConnState `json:"state"`
	Kind      string    `json:"kind,omitempty"`
	Address   string    `json:"address,omitempty"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FlashEvent reports a flash state change.
type FlashEvent struct {
	JobID     string     `json:"job_id,omitempty"`
	State     FlashState `json:"state"`
	Selector  string     `json:"selector,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Sinks fans events out to several sinks in order.
type Sinks []EventSink

func (s Sinks) DeviceDiscovered(h Handle) {
	for _, sink := range s {
		sink.DeviceDiscovered(h)
	}
}

func (s Sinks) DeviceData(h Handle, data json.RawMessage) {
	for _, sink := range s {
		sink.DeviceData(h, data)
	}
}

func (s Sinks) ProtocolConfig(kind string, data json.RawMessage) {
	for _, sink := range s {
		sink.ProtocolConfig(kind, data)
	}
}

func (s Sinks) VersionReceived(version string) {
	for _, sink := range s {
		sink.VersionReceived(version)
	}
}

func (s Sinks) TransportChanged(ev TransportEvent) {
	for _, sink := range s {
		sink.TransportChanged(ev)
	}
}

func (s Sinks) FlashChanged(ev FlashEvent) {
	for _, sink := range s {
		sink.FlashChanged(ev)
	}
}

// NopSink discards every event. Embed it to implement only some methods.
type NopSink struct{}

func (NopSink) DeviceDiscovered(Handle)                {}
func (NopSink) DeviceData(Handle, json.RawMessage)     {}
func (NopSink) ProtocolConfig(string, json.RawMessage) {}
func (NopSink) VersionReceived(string)                 {}
func (NopSink) TransportChanged(TransportEvent)        {}
func (NopSink) FlashChanged(FlashEvent)                {}
