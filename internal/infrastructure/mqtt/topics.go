package mqtt

import "fmt"

// Topic prefixes for the Gray Logic bus.
//
// Bridge topics use the flat scheme: graylogic/{category}/{protocol}/{address}
const (
	// TopicPrefixBridge is the base for all bridge topics.
	TopicPrefixBridge = "graylogic"

	// TopicPrefixCore is the base for topics published by the hub itself.
	TopicPrefixCore = "graylogic/core"

	// TopicPrefixSystem is the base for client presence topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for Gray Logic MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("arduino", "0_0_1003")
//	// Returns: "graylogic/state/arduino/0_0_1003"
type Topics struct{}

// BridgeState returns the topic for device data published by a bridge.
//
// Example: graylogic/state/arduino/0_0_1003
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, address)
}


// BridgeAck returns the topic for command acknowledgements.
//
// Example: graylogic/ack/arduino/0_0_999
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}


// BridgeResponse returns the topic for request responses.
//
// Example: graylogic/response/arduino/req-abc123
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/arduino
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeDiscovery returns the topic for device discovery.
//
// Example: graylogic/discovery/arduino
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefixBridge, protocol)
}

// BridgeEvent returns the topic for non-device bridge events such as
// firmware version reports or transport changes.
//
// Example: graylogic/event/arduino/version
func (Topics) BridgeEvent(protocol, kind string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefixBridge, protocol, kind)
}

// CoreLifecycle returns the topic on which the hub announces its
// cloud lifecycle (up, down, authed, ...).
//
// Example: graylogic/core/lifecycle
func (Topics) CoreLifecycle() string {
	return fmt.Sprintf("%s/lifecycle", TopicPrefixCore)
}

// ClientStatus returns the retained presence topic for one MQTT client.
// The broker publishes the LWT here on unexpected disconnects.
//
// Example: graylogic/system/status/graylogic-arduino
func (Topics) ClientStatus(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefixSystem, clientID)
}

// BridgeCommands returns a pattern matching every command for one protocol.
//
// Pattern: graylogic/command/arduino/+
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}

// BridgeRequests returns a pattern matching every request for one protocol.
//
// Pattern: graylogic/request/arduino/+
func (Topics) BridgeRequests(protocol string) string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefixBridge, protocol)
}

