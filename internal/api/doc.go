// Package api provides the local operator HTTP API and WebSocket event feed
// for the Gray Logic Arduino bridge.
//
// It exposes the driver snapshot, the device list, device writes, the
// firmware configuration menu and an explicit transport reconnect. Driver
// events are relayed to WebSocket clients that subscribe to them.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
