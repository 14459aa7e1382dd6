// Package arduino drives the Arduino coprocessor of a Gray Logic hub.
//
// The microcontroller speaks line-delimited JSON over a serial port or a
// TCP serial bridge:
//
//	{"DEVICE":[{"G":"0","V":0,"D":1003,"DA":"1.2.3"}]}
//
// A Driver supervises that connection with a bounded retry budget, routes
// every DEVICE entry to a logical device Handle keyed by its G_V_D
// identity, and runs firmware updates: the transport is closed, an
// external flasher is spawned with either a version tag or a hex image
// URL, and the transport is reopened once it exits.
//
// All driver state lives on one goroutine (Driver.Run). Public methods
// post to it and wait for the result. Host-facing events are delivered to
// an EventSink; Bridge is the sink that publishes them on the Gray Logic
// MQTT bus and feeds bus commands, lifecycle signals and config menu
// requests back into the driver.
//
//	d := arduino.New(arduino.Options{
//	    Settings: transport.Settings{Path: "/dev/ttyO1"},
//	    Spawner:  arduino.ProcessSpawner{Binary: "/opt/utilities/bin/ninja_update_arduino"},
//	    Sink:     bridge,
//	})
//	go d.Run(ctx)
package arduino
