package mqtt

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's goroutines and should hand work off quickly.
// A returned error is logged and does not affect acknowledgment.
type MessageHandler func(topic string, payload []byte) error

// route is one subscription kept for replay after a broker reconnect.
type route struct {
	qos     byte
	handler MessageHandler
}

// routes is the set of topic filters the bridge listens on. The broker
// forgets them on a clean-session reconnect, so they are replayed.
type routes struct {
	mu sync.Mutex
	m  map[string]route
}

func (r *routes) set(filter string, rt route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = make(map[string]route)
	}
	r.m[filter] = rt
}

func (r *routes) remove(filter string) {
	r.mu.Lock()
	delete(r.m, filter)
	r.mu.Unlock()
}

func (r *routes) snapshot() map[string]route {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]route, len(r.m))
	for k, v := range r.m {
		out[k] = v
	}
	return out
}

// Subscribe registers handler for filter, which may use + and # wildcards.
// The subscription is replayed after every reconnect.
//
//	err := client.Subscribe(mqtt.Topics{}.BridgeCommands("arduino"), 1, onCommand)
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := checkTopic(filter, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.routes.set(filter, route{qos: qos, handler: handler})
	token := c.paho.Subscribe(filter, qos, c.dispatch(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.routes.remove(filter)
		return fmt.Errorf("%w: %s: no ack after %v", ErrSubscribeFailed, filter, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.routes.remove(filter)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, filter, err)
	}
	return nil
}

// resubscribe replays every route after a reconnect. Failures are logged;
// paho will call back again on the next reconnect.
func (c *Client) resubscribe() {
	for filter, rt := range c.routes.snapshot() {
		token := c.paho.Subscribe(filter, rt.qos, c.dispatch(rt.handler))
		go func(filter string) {
			if token.WaitTimeout(defaultPublishTimeout) && token.Error() == nil {
				return
			}
			if logger := c.log(); logger != nil {
				logger.Warn("MQTT resubscribe failed", "topic", filter, "error", token.Error())
			}
		}(filter)
	}
}

// dispatch adapts handler to paho, logging handler errors and recovering
// from panics so one bad message cannot kill paho's router.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.log(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.log(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
