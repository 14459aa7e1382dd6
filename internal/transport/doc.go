// Package transport opens the byte streams the Arduino bridge talks over:
// a local serial device (go.bug.st/serial) or a TCP serial bridge.
//
// Settings describes where the microcontroller lives. A device path always
// wins over a host; a host without a port uses DefaultPort.
package transport
