package arduino

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-arduino/internal/process"
)

// Protocol is the protocol segment used in bus topics.
const Protocol = "arduino"

// MQTT message types exchanged between the hub and the Arduino bridge.

// CommandMessage asks the bridge to write to a device.
// Topic: graylogic/command/arduino/{guid}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the G_V_D key. Defaults to the topic's last segment.
	DeviceID string `json:"device_id,omitempty"`

	// Data is written as the frame's DA value.
	Data   json.RawMessage `json:"data"`
	Source string          `json:"source,omitempty"`
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: graylogic/ack/arduino/{guid}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failed commands and requests.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConnected      = "NOT_CONNECTED"
	ErrCodeFlashInProgress   = "FLASH_IN_PROGRESS"
	ErrCodeUnknownAction     = "UNKNOWN_ACTION"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries device data.
// Topic: graylogic/state/arduino/{guid}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string          `json:"device_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Protocol  string          `json:"protocol"`
}

// DiscoveryMessage announces a newly registered device.
// Topic: graylogic/discovery/arduino
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice describes one device in a DiscoveryMessage.
type DiscoveredDevice struct {
	Protocol  string `json:"protocol"`
	Address   string `json:"address"`
	Group     string `json:"group"`
	Vendor    int    `json:"vendor"`
	Type      int    `json:"type"`
	Persisted bool   `json:"persisted,omitempty"`
}

// Event kinds published under graylogic/event/arduino/{kind}.
const (
	EventConfig    = "config"
	EventVersion   = "version"
	EventTransport = "transport"
	EventFlash     = "flash"
)

// EventMessage carries a non-device bridge event.
type EventMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Bridge    string    `json:"bridge"`
	Kind      string    `json:"kind"`

	// Type tags protocol config payloads (PLUGIN, UNPLUG, ACK, ERROR, CONFIG).
	Type string `json:"type,omitempty"`
	Data any    `json:"data"`
}

// LifecycleMessage is the hub's cloud lifecycle announcement.
// Topic: graylogic/core/lifecycle
type LifecycleMessage struct {
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Request actions.
const (
	ActionConfig    = "config"
	ActionStatus    = "status"
	ActionDevices   = "devices"
	ActionReconnect = "reconnect"
)

// RequestMessage is a request/response operation from the hub.
// Topic: graylogic/request/arduino/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`

	// Method and Params drive the config menu for ActionConfig.
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/arduino/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/arduino
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string       `json:"bridge"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         HealthStatus `json:"status"`
	Version        string       `json:"version"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	Connection     ConnState    `json:"connection"`
	Transport      string       `json:"transport"`
	Flash          FlashState   `json:"flash"`
	Attempts       int          `json:"attempts"`
	Firmware       string       `json:"firmware,omitempty"`
	DevicesManaged int          `json:"devices_managed"`
	Reason         string       `json:"reason,omitempty"`

	Flasher *process.Stats `json:"flasher,omitempty"`
}

// NewAckMessage creates an acknowledgement for cmd. A nil err is accepted.
func NewAckMessage(cmd CommandMessage, err error) AckMessage {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    AckAccepted,
		Protocol:  Protocol,
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: errorCode(err), Message: err.Error()}
	}
	return ack
}

// NewStateMessage creates a state message for h.
func NewStateMessage(h Handle, data json.RawMessage) StateMessage {
	return StateMessage{
		DeviceID:  h.GUID,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Protocol:  Protocol,
	}
}

// NewDiscoveryMessage announces h.
func NewDiscoveryMessage(h Handle) DiscoveryMessage {
	return DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    Protocol,
		Devices: []DiscoveredDevice{{
			Protocol:  Protocol,
			Address:   h.GUID,
			Group:     h.Identity.Group,
			Vendor:    h.Identity.Vendor,
			Type:      h.Identity.Type,
			Persisted: h.Persisted,
		}},
	}
}

// NewResponse builds a response for req. A non-nil err marks it failed.
func NewResponse(req RequestMessage, data any, err error) ResponseMessage {
	resp := ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   err == nil,
	}
	if err != nil {
		resp.Error = &ResponseError{Code: errorCode(err), Message: err.Error()}
		return resp
	}
	resp.Data = data
	return resp
}
