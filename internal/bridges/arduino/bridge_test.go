package arduino

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-arduino/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-arduino/internal/transport"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]mqtt.MessageHandler
	connected bool
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(c bool) {
	m.mu.Lock()
	m.connected = c
	m.mu.Unlock()
}

// SimulateMessage delivers payload to the handler whose pattern matches topic.
func (m *MockMQTTClient) SimulateMessage(t *testing.T, topic string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler == nil {
		t.Fatalf("no subscription matches %s", topic)
	}
	if err := handler(topic, payload); err != nil {
		t.Logf("handler(%s) error = %v", topic, err)
	}
}

func topicMatches(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	s := strings.Split(topic, "/")
	if len(p) != len(s) {
		return false
	}
	for i := range p {
		if p[i] != "+" && p[i] != s[i] {
			return false
		}
	}
	return true
}

func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type fakeController struct {
	mu        sync.Mutex
	writes    map[string]string
	signals   []HostSignal
	reconnect int
	writeErr  error
}

func newFakeController() *fakeController {
	return &fakeController{writes: make(map[string]string)}
}

func (c *fakeController) WriteGUID(_ context.Context, guid string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	b, _ := marshalPayload(payload)
	c.writes[guid] = string(b)
	return nil
}

func (c *fakeController) HostSignal(_ context.Context, sig HostSignal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, sig)
	return nil
}

func (c *fakeController) Reconnect(context.Context, *transport.Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnect++
	return nil
}

func (c *fakeController) Snapshot(context.Context) (Snapshot, error) {
	return Snapshot{Connection: ConnOpen, Devices: 2, Version: "0.46"}, nil
}

func (c *fakeController) Handles(context.Context) ([]Handle, error) {
	return []Handle{{GUID: "0_0_1003", Identity: VersionIdentity}}, nil
}

func (c *fakeController) Signals() []HostSignal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]HostSignal(nil), c.signals...)
}

func startBridge(t *testing.T) (*Bridge, *MockMQTTClient, *fakeController) {
	t.Helper()
	client := NewMockMQTTClient()
	ctrl := newFakeController()
	b, err := NewBridge(BridgeOptions{
		MQTTClient: client,
		Controller: ctrl,
		Menu:       NewConfigMenu(&fakeFlasher{}, MenuOptions{}),
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, client, ctrl
}

func TestNewBridge_Validation(t *testing.T) {
	if _, err := NewBridge(BridgeOptions{Controller: newFakeController()}); err == nil {
		t.Error("NewBridge() without MQTT client error = nil")
	}
	if _, err := NewBridge(BridgeOptions{MQTTClient: NewMockMQTTClient()}); err == nil {
		t.Error("NewBridge() without controller error = nil")
	}
}

func TestBridge_Subscriptions(t *testing.T) {
	_, client, _ := startBridge(t)

	for _, topic := range []string{
		"graylogic/command/arduino/+",
		"graylogic/core/lifecycle",
		"graylogic/request/arduino/+",
	} {
		if _, ok := client.handlers[topic]; !ok {
			t.Errorf("missing subscription %s", topic)
		}
	}
}

func TestBridge_CommandWritesAndAcks(t *testing.T) {
	_, client, ctrl := startBridge(t)

	client.SimulateMessage(t, "graylogic/command/arduino/0_0_1007",
		[]byte(`{"id":"cmd-1","data":"beep","source":"api"}`))

	ctrl.mu.Lock()
	got := ctrl.writes["0_0_1007"]
	ctrl.mu.Unlock()
	if got != `"beep"` {
		t.Errorf("written = %s, want \"beep\"", got)
	}

	ackTopic := "graylogic/ack/arduino/0_0_1007"
	waitFor(t, "ack", func() bool { return len(client.PublishedTo(ackTopic)) == 1 })
	var ack AckMessage
	if err := json.Unmarshal(client.PublishedTo(ackTopic)[0].Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.CommandID != "cmd-1" || ack.Status != AckAccepted {
		t.Errorf("ack = %+v, want accepted cmd-1", ack)
	}
}

func TestBridge_CommandFailureAck(t *testing.T) {
	_, client, ctrl := startBridge(t)
	ctrl.writeErr = ErrFlashInProgress

	client.SimulateMessage(t, "graylogic/command/arduino/0_0_999", []byte(`{"id":"cmd-2","data":"00FF00"}`))

	ackTopic := "graylogic/ack/arduino/0_0_999"
	waitFor(t, "ack", func() bool { return len(client.PublishedTo(ackTopic)) == 1 })
	var ack AckMessage
	if err := json.Unmarshal(client.PublishedTo(ackTopic)[0].Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeFlashInProgress {
		t.Errorf("ack = %+v, want failed with %s", ack, ErrCodeFlashInProgress)
	}
}

func TestBridge_Lifecycle(t *testing.T) {
	_, client, ctrl := startBridge(t)

	client.SimulateMessage(t, "graylogic/core/lifecycle", []byte(`{"state":"up"}`))
	client.SimulateMessage(t, "graylogic/core/lifecycle", []byte(`invalid_token`))
	client.SimulateMessage(t, "graylogic/core/lifecycle", []byte(`{"state":"sideways"}`))

	got := ctrl.Signals()
	if len(got) != 2 || got[0] != SignalUp || got[1] != SignalInvalidToken {
		t.Errorf("signals = %v, want [up invalid_token]", got)
	}
}

func TestBridge_Requests(t *testing.T) {
	_, client, ctrl := startBridge(t)

	tests := []struct {
		name    string
		payload string
		success bool
		check   func(t *testing.T, data json.RawMessage)
	}{
		{
			name:    "config menu",
			payload: `{"action":"config","method":"menu"}`,
			success: true,
			check: func(t *testing.T, data json.RawMessage) {
				var m Menu
				if err := json.Unmarshal(data, &m); err != nil || len(m.Contents) != 4 {
					t.Errorf("menu = %s, want welcome page", data)
				}
			},
		},
		{
			name:    "status",
			payload: `{"action":"status"}`,
			success: true,
			check: func(t *testing.T, data json.RawMessage) {
				var s struct {
					Connection string `json:"connection"`
					Devices    int    `json:"devices"`
					Version    string `json:"version"`
				}
				if err := json.Unmarshal(data, &s); err != nil {
					t.Errorf("unmarshal snapshot: %v", err)
				}
				if s.Connection != "open" || s.Version != "0.46" || s.Devices != 2 {
					t.Errorf("snapshot = %+v, want open, version 0.46, 2 devices", s)
				}
			},
		},
		{name: "reconnect", payload: `{"action":"reconnect"}`, success: true},
		{name: "unknown action", payload: `{"action":"reboot"}`, success: false},
		{name: "unknown method", payload: `{"action":"config","method":"nope"}`, success: false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "req-" + string(rune('a'+i))
			client.SimulateMessage(t, "graylogic/request/arduino/"+id, []byte(tt.payload))

			topic := "graylogic/response/arduino/" + id
			waitFor(t, "response", func() bool { return len(client.PublishedTo(topic)) == 1 })

			var resp struct {
				RequestID string          `json:"request_id"`
				Success   bool            `json:"success"`
				Data      json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(client.PublishedTo(topic)[0].Payload, &resp); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if resp.RequestID != id || resp.Success != tt.success {
				t.Errorf("response = %+v, want id %s success %v", resp, id, tt.success)
			}
			if tt.check != nil {
				tt.check(t, resp.Data)
			}
		})
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.reconnect != 1 {
		t.Errorf("reconnects = %d, want 1", ctrl.reconnect)
	}
}

func TestBridge_PublishesDriverEvents(t *testing.T) {
	b, client, _ := startBridge(t)
	h := Handle{GUID: "0_0_31", Identity: Identity{Group: "0", Vendor: 0, Type: 31}}

	b.DeviceDiscovered(h)
	b.DeviceData(h, json.RawMessage(`22.5`))
	b.VersionReceived("0.46")
	b.ProtocolConfig(SectionPlugin, json.RawMessage(`{"G":"0101"}`))
	b.TransportChanged(TransportEvent{State: ConnOpen, Timestamp: time.Now()})

	state := "graylogic/state/arduino/0_0_31"
	waitFor(t, "state", func() bool { return len(client.PublishedTo(state)) == 1 })
	if !client.PublishedTo(state)[0].Retained {
		t.Error("state not retained")
	}
	var sm StateMessage
	if err := json.Unmarshal(client.PublishedTo(state)[0].Payload, &sm); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if sm.DeviceID != "0_0_31" || string(sm.Data) != "22.5" {
		t.Errorf("state = %+v, want 0_0_31 = 22.5", sm)
	}

	for _, topic := range []string{
		"graylogic/discovery/arduino",
		"graylogic/event/arduino/version",
		"graylogic/event/arduino/config",
		"graylogic/event/arduino/transport",
	} {
		waitFor(t, topic, func() bool { return len(client.PublishedTo(topic)) == 1 })
	}
}

func TestBridge_StopDrainsQueue(t *testing.T) {
	client := NewMockMQTTClient()
	b, err := NewBridge(BridgeOptions{MQTTClient: client, Controller: newFakeController()})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		b.VersionReceived("0.46")
	}
	b.Stop()
	b.Stop()

	if got := len(client.PublishedTo("graylogic/event/arduino/version")); got != 10 {
		t.Errorf("published = %d, want 10", got)
	}
}

func TestBridge_RequestAfterStopRejected(t *testing.T) {
	b, client, _ := startBridge(t)
	b.Stop()

	err := b.handleRequest("graylogic/request/arduino/late", []byte(`{"action":"status"}`))
	if !errors.Is(err, ErrBridgeStopped) {
		t.Fatalf("handleRequest() after Stop error = %v, want ErrBridgeStopped", err)
	}
	if got := len(client.PublishedTo("graylogic/response/arduino/late")); got != 0 {
		t.Errorf("responses after Stop = %d, want 0", got)
	}
}

// Requests arriving while Stop runs are either answered or rejected; Stop
// must not return while one is still in flight.
func TestBridge_StopRacesRequests(t *testing.T) {
	b, _, _ := startBridge(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic := fmt.Sprintf("graylogic/request/arduino/r%d", i)
			_ = b.handleRequest(topic, []byte(`{"action":"status"}`))
		}(i)
	}
	b.Stop()
	wg.Wait()
}
