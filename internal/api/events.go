package api

import (
	"encoding/json"

	"github.com/nerrad567/gray-logic-arduino/internal/bridges/arduino"
)

// WebSocket channels carrying driver events.
const (
	ChannelDeviceDiscovered = "device.discovered"
	ChannelDeviceData       = "device.data"
	ChannelProtocolConfig   = "protocol.config"
	ChannelVersion          = "version"
	ChannelTransport        = "transport"
	ChannelFlash            = "flash"
)

// DeviceDataEvent is the payload on the device.data channel.
type DeviceDataEvent struct {
	GUID string          `json:"guid"`
	Data json.RawMessage `json:"data"`
}

// ProtocolConfigEvent is the payload on the protocol.config channel.
type ProtocolConfigEvent struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// The Hub relays driver events to subscribed WebSocket clients.

func (h *Hub) DeviceDiscovered(handle arduino.Handle) {
	h.publish(chDeviceDiscovered, handle.GUID, handle)
}

func (h *Hub) DeviceData(handle arduino.Handle, data json.RawMessage) {
	h.publish(chDeviceData, handle.GUID, DeviceDataEvent{GUID: handle.GUID, Data: data})
}

func (h *Hub) ProtocolConfig(kind string, data json.RawMessage) {
	h.publish(chProtocolConfig, "", ProtocolConfigEvent{Kind: kind, Data: data})
}

func (h *Hub) VersionReceived(version string) {
	h.publish(chVersion, "", map[string]string{"version": version})
}

func (h *Hub) TransportChanged(ev arduino.TransportEvent) {
	h.publish(chTransport, "", ev)
}

func (h *Hub) FlashChanged(ev arduino.FlashEvent) {
	h.publish(chFlash, "", ev)
}

var _ arduino.EventSink = (*Hub)(nil)
