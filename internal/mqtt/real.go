package mqtt

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/ehtick/voltage-controlled-relay/internal/logic"
	"github.com/ehtick/voltage-controlled-relay/internal/telemetry"
)

// DefaultBufferSize is how many events are kept for replay while offline.
const DefaultBufferSize = 64

var errNotConnected = errors.New("not connected")

// Options configures a RealClient.
type Options struct {
	Broker     string
	ClientID   string // empty: voltage-relay-<random>
	TopicRoot  string // empty: DefaultTopicRoot
	BufferSize int    // empty: DefaultBufferSize
}

// RealClient publishes to an actual MQTT broker and receives commands from it.
// It is also a telemetry.Transport.
type RealClient struct {
	client paho.Client
	topics Topics

	mu      sync.Mutex // guards buffer, deliver, and the connected check before buffering
	buffer  *ringBuffer
	deliver func(telemetry.Command)
}

// NewRealClient creates a client and starts connecting in the background.
// The broker being unreachable is not an error: events are buffered and
// replayed once the connection comes up.
func NewRealClient(o Options) *RealClient {
	if o.TopicRoot == "" {
		o.TopicRoot = DefaultTopicRoot
	}
	if o.ClientID == "" {
		o.ClientID = "voltage-relay-" + uuid.NewString()[:8]
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}

	rc := newClient(nil, Topics{Root: o.TopicRoot}, o.BufferSize)

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(rc.topics.System(), will, 1, true).
		SetOnConnectHandler(rc.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	rc.client = paho.NewClient(opts)
	rc.client.Connect()
	return rc
}

func newClient(client paho.Client, topics Topics, bufferSize int) *RealClient {
	return &RealClient{
		client: client,
		topics: topics,
		buffer: newRingBuffer(bufferSize),
	}
}

func (rc *RealClient) onConnect(c paho.Client) {
	rc.mu.Lock()
	pending := rc.buffer.drainAll()
	dropped := rc.buffer.dropped
	subscribe := rc.deliver != nil
	rc.mu.Unlock()

	log.Printf("mqtt: connected, replaying %d buffered messages (%d dropped while offline)", len(pending), dropped)
	for _, msg := range pending {
		rc.publishAsync(msg)
	}
	if subscribe {
		rc.subscribe()
	}
}

func (rc *RealClient) subscribe() {
	token := rc.client.Subscribe(rc.topics.Commands(), 1, rc.handleMessage)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("mqtt: subscribe %s: %v", rc.topics.Commands(), err)
		}
	}()
}

func (rc *RealClient) handleMessage(_ paho.Client, m paho.Message) {
	name, ok := rc.topics.CommandName(m.Topic())
	if !ok {
		return
	}
	rc.mu.Lock()
	deliver := rc.deliver
	rc.mu.Unlock()
	if deliver != nil {
		deliver(telemetry.Command{Name: name, Payload: string(m.Payload())})
	}
}

// publishOrBuffer publishes without waiting, or buffers while disconnected.
func (rc *RealClient) publishOrBuffer(msg bufferedMsg) {
	rc.mu.Lock()
	if !rc.client.IsConnected() {
		rc.buffer.push(msg)
		rc.mu.Unlock()
		return
	}
	rc.mu.Unlock()
	rc.publishAsync(msg)
}

func (rc *RealClient) publishAsync(msg bufferedMsg) {
	token := rc.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("mqtt: publish %s: %v", msg.topic, err)
		}
	}()
}

// Publish sends a level change event. It never waits on the broker.
func (rc *RealClient) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1, not retained
	rc.publishOrBuffer(bufferedMsg{topic: rc.topics.Events(), payload: payload, qos: 1})
	return nil
}

// PublishSystem sends a lifecycle event. Retained events (STARTUP, SHUTDOWN)
// wait for the broker's acknowledgement; others are fire-and-forget.
func (rc *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	msg := bufferedMsg{topic: rc.topics.System(), payload: payload, qos: 1, retained: event.Retained}

	if !event.Retained || !rc.client.IsConnected() {
		rc.publishOrBuffer(msg)
		return nil
	}

	token := rc.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish system timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// Name implements telemetry.Transport.
func (rc *RealClient) Name() string { return "mqtt" }

// Send implements telemetry.Transport. Metrics are dropped while offline.
func (rc *RealClient) Send(m telemetry.Metric) error {
	if !rc.client.IsConnected() {
		return errNotConnected
	}
	// QoS 0 (at-most-once), not retained
	token := rc.client.Publish(rc.topics.Telemetry(m.Name), 0, false, m.Value)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish %s timeout", m.Name)
	}
	return token.Error()
}

// Listen implements telemetry.Listener.
func (rc *RealClient) Listen(deliver func(telemetry.Command)) error {
	rc.mu.Lock()
	rc.deliver = deliver
	rc.mu.Unlock()
	if rc.client.IsConnected() {
		rc.subscribe()
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (rc *RealClient) IsConnected() bool {
	return rc.client.IsConnected()
}

// Buffered returns how many messages are waiting for a connection.
func (rc *RealClient) Buffered() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.buffer.len()
}

// Close disconnects from the broker.
func (rc *RealClient) Close() error {
	rc.client.Disconnect(1000) // 1 second timeout
	return nil
}
