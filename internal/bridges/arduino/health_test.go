package arduino

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-arduino/internal/process"
	"github.com/nerrad567/gray-logic-arduino/internal/transport"
)

type snapshotFunc func(context.Context) (Snapshot, error)

func (f snapshotFunc) Snapshot(ctx context.Context) (Snapshot, error) { return f(ctx) }

func TestHealthReporter_Build(t *testing.T) {
	open := Snapshot{
		Connection: ConnOpen,
		Flash:      FlashNone,
		Settings:   transport.Settings{Path: "/dev/ttyO1"},
		Devices:    3,
		Version:    "0.46",
	}

	tests := []struct {
		name       string
		snap       Snapshot
		snapErr    error
		connected  bool
		wantStatus HealthStatus
		wantReason string
	}{
		{name: "healthy", snap: open, connected: true, wantStatus: HealthHealthy},
		{name: "mqtt down", snap: open, connected: false, wantStatus: HealthDegraded, wantReason: "MQTT disconnected"},
		{
			name:       "transport down",
			snap:       Snapshot{Connection: ConnDisconnected},
			connected:  true,
			wantStatus: HealthDegraded,
			wantReason: "transport disconnected",
		},
		{
			name:       "flashing",
			snap:       Snapshot{Connection: ConnClosing, Flash: FlashFlashing},
			connected:  true,
			wantStatus: HealthDegraded,
			wantReason: "flashing firmware",
		},
		{name: "driver stopped", snapErr: ErrDriverStopped, connected: true, wantStatus: HealthDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewMockMQTTClient()
			client.setConnected(tt.connected)
			h := NewHealthReporter(HealthReporterConfig{
				Version:   "test",
				Publisher: client,
				Source: snapshotFunc(func(context.Context) (Snapshot, error) {
					return tt.snap, tt.snapErr
				}),
			})

			msg := h.Build(context.Background())
			if msg.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", msg.Status, tt.wantStatus)
			}
			if tt.wantReason != "" && msg.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", msg.Reason, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_BuildCarriesFlasherStats(t *testing.T) {
	stats := &process.Stats{Name: "arduino-flash-job", Status: process.StatusRunning, PID: 99, Output: []string{"writing flash"}}
	h := NewHealthReporter(HealthReporterConfig{
		Publisher: NewMockMQTTClient(),
		Source: snapshotFunc(func(context.Context) (Snapshot, error) {
			return Snapshot{Connection: ConnClosing, Flash: FlashFlashing, Flasher: stats}, nil
		}),
	})

	msg := h.Build(context.Background())
	if msg.Flasher != stats {
		t.Errorf("Flasher = %+v, want %+v", msg.Flasher, stats)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"flasher":{"name":"arduino-flash-job","status":"running","pid":99`) {
		t.Errorf("health JSON = %s", raw)
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	client := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		Version:   "1.2.0",
		Publisher: client,
		Source: snapshotFunc(func(context.Context) (Snapshot, error) {
			return Snapshot{Connection: ConnOpen, Devices: 4, Version: "0.46"}, nil
		}),
	})

	if err := h.PublishNow(context.Background()); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	pubs := client.PublishedTo("graylogic/health/arduino")
	if len(pubs) != 1 || !pubs[0].Retained || pubs[0].QoS != 1 {
		t.Fatalf("published = %+v, want one retained QoS 1 message", pubs)
	}

	var msg HealthMessage
	if err := json.Unmarshal(pubs[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if msg.Bridge != Protocol || msg.Version != "1.2.0" || msg.DevicesManaged != 4 || msg.Firmware != "0.46" {
		t.Errorf("health = %+v", msg)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	client := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{Publisher: client})

	h.Start(context.Background())
	waitFor(t, "initial health", func() bool { return len(client.PublishedTo("graylogic/health/arduino")) >= 1 })
	h.Stop()
	h.Stop()

	pubs := client.PublishedTo("graylogic/health/arduino")
	var last HealthMessage
	if err := json.Unmarshal(pubs[len(pubs)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("final status = %s, want stopping", last.Status)
	}
}
