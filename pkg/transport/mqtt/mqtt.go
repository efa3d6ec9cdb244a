// Package mqtt connects the engine to an MQTT broker: entity states arrive
// on {prefix}/{entity_id} and every frame is published retained to one topic.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vjranagit/minigraph/pkg/types"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second
	disconnectQuiesce     = 250 // milliseconds
)

var (
	// ErrNotConnected is returned when publishing without a broker connection
	ErrNotConnected = errors.New("mqtt: not connected")
	// ErrPublishTimeout is returned when the broker does not acknowledge in time
	ErrPublishTimeout = errors.New("mqtt: publish timeout")
	// ErrInvalidMessage is returned for state messages that cannot be decoded
	ErrInvalidMessage = errors.New("mqtt: invalid state message")
)

// Logger is the logging surface of the client. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateSink receives decoded entity states
type StateSink interface {
	SetStates(states ...types.EntityState) []string
}

// Config configures the broker connection and topics
type Config struct {
	Broker           string
	ClientID         string
	Username         string
	Password         string
	StateTopicPrefix string
	FrameTopic       string
	QoS              byte
	ConnectTimeout   time.Duration
}

// Client subscribes to entity states and publishes frames
type Client struct {
	client pahomqtt.Client
	cfg    Config
	logger Logger

	mu   sync.RWMutex
	sink StateSink
}

// Connect dials the broker
func Connect(cfg Config, logger Logger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker address is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid qos %d", cfg.QoS)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	c := &Client{cfg: cfg, logger: logger}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		if c.stateSink() == nil {
			return
		}
		token := c.subscribe(client)
		go func() {
			if err := c.wait(token); err != nil {
				logger.Error("mqtt resubscribe failed", "error", err)
			}
		}()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect to %s timed out after %v", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}

	return c, nil
}

// Subscribe forwards state messages to sink. The sink is kept even when the
// broker is unreachable so the subscription is made on the next connect.
func (c *Client) Subscribe(sink StateSink) error {
	if c.cfg.StateTopicPrefix == "" {
		return errors.New("mqtt: state topic prefix is required")
	}
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()

	if c.client == nil || !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return c.wait(c.subscribe(c.client))
}

func (c *Client) stateSink() StateSink {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sink
}

func (c *Client) subscribe(client pahomqtt.Client) pahomqtt.Token {
	filter := StateTopic(c.cfg.StateTopicPrefix, "#")
	return client.Subscribe(filter, c.cfg.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.handleMessage(msg.Topic(), msg.Payload())
	})
}

func (c *Client) wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("mqtt: subscribe to %s timed out", c.cfg.StateTopicPrefix)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe to %s: %w", c.cfg.StateTopicPrefix, err)
	}
	return nil
}

// handleMessage decodes one state message and hands it to the sink
func (c *Client) handleMessage(topic string, payload []byte) {
	entityID, ok := EntityFromTopic(c.cfg.StateTopicPrefix, topic)
	if !ok {
		c.logger.Debug("ignoring message outside the state prefix", "topic", topic)
		return
	}

	state, err := ParseStateMessage(entityID, payload)
	if err != nil {
		c.logger.Warn("dropping state message", "topic", topic, "error", err)
		return
	}
	if sink := c.stateSink(); sink != nil {
		sink.SetStates(state)
	}
}

// PublishFrame publishes frame retained to the frame topic
func (c *Client) PublishFrame(ctx context.Context, frame *types.Frame) error {
	if c.cfg.FrameTopic == "" {
		return nil
	}
	if c.client == nil || !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("mqtt: marshal frame: %w", err)
	}

	timeout := defaultPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	token := c.client.Publish(c.cfg.FrameTopic, c.cfg.QoS, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("%w: %s", ErrPublishTimeout, c.cfg.FrameTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", c.cfg.FrameTopic, err)
	}
	return nil
}

// Close disconnects from the broker
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesce)
	}
}

// StateTopic returns the state topic of entityID under prefix
func StateTopic(prefix, entityID string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + entityID
}

// EntityFromTopic extracts the entity id from a state topic
func EntityFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, strings.TrimSuffix(prefix, "/")+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// stateMessage is the JSON body of a state message
type stateMessage struct {
	State       json.RawMessage `json:"state"`
	LastChanged time.Time       `json:"last_changed"`
	Attributes  map[string]any  `json:"attributes"`
}

// ParseStateMessage decodes a state message. Numeric states are kept in
// their JSON text form; attributes are flattened to strings.
func ParseStateMessage(entityID string, payload []byte) (types.EntityState, error) {
	var msg stateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return types.EntityState{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if len(msg.State) == 0 || string(msg.State) == "null" {
		return types.EntityState{}, fmt.Errorf("%w: missing state", ErrInvalidMessage)
	}

	state := string(msg.State)
	var s string
	if err := json.Unmarshal(msg.State, &s); err == nil {
		state = s
	}

	var attrs map[string]string
	if len(msg.Attributes) > 0 {
		attrs = make(map[string]string, len(msg.Attributes))
		for k, v := range msg.Attributes {
			if s, ok := v.(string); ok {
				attrs[k] = s
				continue
			}
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			attrs[k] = string(raw)
		}
	}

	return types.EntityState{
		EntityID:    entityID,
		State:       state,
		LastChanged: msg.LastChanged,
		Attributes:  attrs,
	}, nil
}
