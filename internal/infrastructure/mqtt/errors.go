package mqtt

import "errors"

// Bus errors. Callers match them with errors.Is.
var (
	// ErrNotConnected means the broker session is down. Paho keeps
	// reconnecting in the background; the caller may retry later.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed wraps the reason the first broker connect failed.
	ErrConnectionFailed = errors.New("mqtt: broker connect failed")

	// ErrPublishFailed wraps a publish the broker did not acknowledge in time.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps a rejected or timed out subscription.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: QoS must be 0, 1 or 2")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")

	// ErrPayloadTooLarge is returned for payloads over maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
