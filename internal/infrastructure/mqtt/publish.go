package mqtt

import (
	"fmt"
	"time"
)

// maxPayloadSize caps one message. Device frames are a few hundred bytes;
// the cap keeps a runaway menu or snapshot from reaching the broker.
const maxPayloadSize = 1 << 20

// checkTopic validates the arguments shared by Publish and Subscribe.
func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// Publish sends payload to topic and waits for the broker to accept it.
//
// The bridge publishes device state and health retained, and acks,
// responses and events unretained:
//
//	topic := mqtt.Topics{}.BridgeAck("arduino", "0_0_1007")
//	err := client.Publish(topic, ack, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes on %s", ErrPayloadTooLarge, len(payload), topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.paho.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: no ack after %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// publishPresence writes the retained presence message for this client.
// It does not wait when wait is zero.
func (c *Client) publishPresence(status, reason string, wait time.Duration) {
	id := c.cfg.Broker.ClientID
	token := c.paho.Publish(Topics{}.ClientStatus(id), byte(c.cfg.QoS), true,
		buildStatusPayload(id, status, reason, time.Now()))
	if wait > 0 {
		token.WaitTimeout(wait)
	}
}
