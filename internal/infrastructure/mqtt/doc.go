// Package mqtt provides MQTT client connectivity for the Gray Logic Arduino bridge.
//
// The hub and its protocol bridges talk over a local Mosquitto broker. This
// package wraps paho with:
//   - auto-reconnect and subscription restoration
//   - validated publish and subscribe with timeouts
//   - a retained presence topic per client with a Last Will for crashes
//   - topic builders for the flat graylogic/{category}/{protocol}/{address} scheme
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommands("arduino"), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
//
// TLS should be enabled when the broker is not on the loopback interface.
package mqtt
