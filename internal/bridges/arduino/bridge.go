package arduino

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-arduino/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-arduino/internal/transport"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one device write issued from the bus.
	commandTimeout = 5 * time.Second

	// requestTimeout bounds one request, including the hex URL check.
	requestTimeout = 30 * time.Second

	publishQueueSize = 256
)

var topics = mqtt.Topics{}

// MQTTClient is the subset of the MQTT client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Controller is the part of the Driver the bus can drive.
type Controller interface {
	WriteGUID(ctx context.Context, guid string, payload any) error
	HostSignal(ctx context.Context, sig HostSignal) error
	Reconnect(ctx context.Context, settings *transport.Settings) error
	Snapshot(ctx context.Context) (Snapshot, error)
	Handles(ctx context.Context) ([]Handle, error)
}

// ConfigHandler answers config menu RPCs.
type ConfigHandler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (Menu, error)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	MQTTClient MQTTClient
	Controller Controller

	// Menu answers config requests. Optional.
	Menu ConfigHandler

	Logger Logger
}

type publication struct {
	topic    string
	payload  []byte
	retained bool
}

// Bridge connects a Driver to the Gray Logic bus. It publishes driver
// events and routes commands, lifecycle signals and requests to the driver.
//
// As an EventSink it only queues publications, so it never blocks the
// driver goroutine.
type Bridge struct {
	mqtt   MQTTClient
	ctrl   Controller
	menu   ConfigHandler
	logger Logger

	queue chan publication

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// mu orders wg.Add in subscription handlers against Stop.
	mu      sync.Mutex
	stopped bool

	ctx      context.Context
	cancel   context.CancelFunc
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		mqtt:   opts.MQTTClient,
		ctrl:   opts.Controller,
		menu:   opts.Menu,
		logger: opts.Logger,
		queue:  make(chan publication, publishQueueSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start subscribes to commands, lifecycle and requests and starts the
// publisher.
func (b *Bridge) Start(ctx context.Context) error {
	b.wg.Add(1)
	go b.publishLoop()

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{topics.BridgeCommands(Protocol), b.handleCommand},
		{topics.CoreLifecycle(), b.handleLifecycle},
		{topics.BridgeRequests(Protocol), b.handleRequest},
	}
	for _, s := range subs {
		if err := b.mqtt.Subscribe(s.topic, 1, s.handler); err != nil {
			return fmt.Errorf("subscribe to %s: %w", s.topic, err)
		}
		b.logger.Info("subscribed", "topic", s.topic)
	}
	return nil
}

// Stop drains pending publications and stops the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		b.cancel()
		close(b.done)
		b.wg.Wait()
		b.logger.Info("bridge stopped")
	})
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case p := <-b.queue:
			b.publish(p)
		case <-b.done:
			for {
				select {
				case p := <-b.queue:
					b.publish(p)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publish(p publication) {
	if err := b.mqtt.Publish(p.topic, p.payload, 1, p.retained); err != nil {
		b.logger.Warn("publish failed", "topic", p.topic, "error", err)
	}
}

// enqueue marshals msg and queues it. Full queues drop the message.
func (b *Bridge) enqueue(topic string, msg any, retained bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("marshal failed", "topic", topic, "error", err)
		return
	}
	select {
	case b.queue <- publication{topic: topic, payload: payload, retained: retained}:
	default:
		b.logger.Warn("publish queue full, dropping message", "topic", topic)
	}
}

// --- EventSink ---

func (b *Bridge) DeviceDiscovered(h Handle) {
	b.enqueue(topics.BridgeDiscovery(Protocol), NewDiscoveryMessage(h), false)
}

func (b *Bridge) DeviceData(h Handle, data json.RawMessage) {
	b.enqueue(topics.BridgeState(Protocol, h.GUID), NewStateMessage(h, data), true)
}

func (b *Bridge) ProtocolConfig(kind string, data json.RawMessage) {
	b.enqueue(topics.BridgeEvent(Protocol, EventConfig), b.event(EventConfig, kind, data), false)
}

func (b *Bridge) VersionReceived(version string) {
	b.enqueue(topics.BridgeEvent(Protocol, EventVersion), b.event(EventVersion, "", version), true)
}

func (b *Bridge) TransportChanged(ev TransportEvent) {
	b.enqueue(topics.BridgeEvent(Protocol, EventTransport), b.event(EventTransport, "", ev), true)
}

func (b *Bridge) FlashChanged(ev FlashEvent) {
	b.enqueue(topics.BridgeEvent(Protocol, EventFlash), b.event(EventFlash, "", ev), false)
}

func (b *Bridge) event(kind, typ string, data any) EventMessage {
	return EventMessage{Timestamp: time.Now().UTC(), Bridge: Protocol, Kind: kind, Type: typ, Data: data}
}

// --- inbound ---

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topic[strings.LastIndex(topic, "/")+1:]
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logger.Debug("received command", "command_id", cmd.ID, "device_id", cmd.DeviceID)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	var data any = cmd.Data
	if len(cmd.Data) == 0 {
		data = nil
	}
	err := b.ctrl.WriteGUID(ctx, cmd.DeviceID, data)
	if err != nil {
		b.logger.Warn("command failed", "command_id", cmd.ID, "device_id", cmd.DeviceID, "error", err)
	}
	b.enqueue(topics.BridgeAck(Protocol, cmd.DeviceID), NewAckMessage(cmd, err), false)
	return nil
}

// handleLifecycle accepts {"state":"up"} or a bare signal name.
func (b *Bridge) handleLifecycle(_ string, payload []byte) error {
	name := strings.Trim(strings.TrimSpace(string(payload)), `"`)
	var msg LifecycleMessage
	if err := json.Unmarshal(payload, &msg); err == nil && msg.State != "" {
		name = msg.State
	}

	sig, err := ParseHostSignal(name)
	if err != nil {
		b.logger.Debug("ignoring lifecycle message", "payload", string(payload))
		return nil
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	if err := b.ctrl.HostSignal(ctx, sig); err != nil {
		return fmt.Errorf("apply host signal %s: %w", sig, err)
	}
	return nil
}

// handleRequest answers asynchronously so a slow URL check does not hold
// up other subscriptions.
func (b *Bridge) handleRequest(topic string, payload []byte) error {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = topic[strings.LastIndex(topic, "/")+1:]
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrBridgeStopped
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
		defer cancel()

		data, err := b.execute(ctx, req)
		if err != nil {
			b.logger.Warn("request failed", "request_id", req.RequestID, "action", req.Action, "error", err)
		}
		b.enqueue(topics.BridgeResponse(Protocol, req.RequestID), NewResponse(req, data, err), false)
	}()
	return nil
}

func (b *Bridge) execute(ctx context.Context, req RequestMessage) (any, error) {
	switch req.Action {
	case ActionConfig:
		if b.menu == nil {
			return nil, fmt.Errorf("%w: config menu not available", ErrUnknownMethod)
		}
		return b.menu.Handle(ctx, req.Method, req.Params)
	case ActionStatus:
		return b.ctrl.Snapshot(ctx)
	case ActionDevices:
		return b.ctrl.Handles(ctx)
	case ActionReconnect:
		return nil, b.ctrl.Reconnect(ctx, nil)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownAction, req.Action)
	}
}

var errUnknownAction = errors.New("arduino: unknown request action")

// errorCode maps driver errors to bus error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidIdentity), errors.Is(err, ErrInvalidParams):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrTransportNotOpen), errors.Is(err, ErrDriverStopped):
		return ErrCodeNotConnected
	case errors.Is(err, ErrFlashInProgress):
		return ErrCodeFlashInProgress
	case errors.Is(err, ErrUnknownMethod), errors.Is(err, errUnknownAction):
		return ErrCodeUnknownAction
	default:
		return ErrCodeBridgeError
	}
}
