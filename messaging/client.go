package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"robolink/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher is the outbound half of a Client.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Presence describes the retained node status message. Online is published
// on every (re)connect; Offline is left with the broker as the MQTT will
// and published on a clean Close.
type Presence struct {
	Topic   string
	Online  []byte
	Offline []byte
}

// Client publishes to and subscribes on MQTT or Kafka.
//
// MQTT delivery depends on the topic: telemetry goes out at QoS 0 and
// retained, so a new subscriber immediately sees the latest frame. The
// presence topic is QoS 1 and retained. Everything else is QoS 1. Kafka
// messages are keyed by node ID, which keeps one robot's messages in order
// within a partition.
type Client struct {
	cfg      *config.MessagingConfig
	nodeID   string
	presence *Presence

	mu       sync.RWMutex
	mqttConn mqtt.Client
	kafkaW   *kafkago.Writer
	kafkaRs  []*kafkago.Reader
	subs     map[string]func([]byte)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a client for cfg.Backend. presence may be nil.
func NewClient(cfg *config.MessagingConfig, nodeID string, presence *Presence) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		nodeID:   nodeID,
		presence: presence,
		subs:     make(map[string]func([]byte)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect establishes the broker connection.
func (c *Client) Connect() error {
	switch c.cfg.Backend {
	case "mqtt":
		return c.connectMQTT()
	case "kafka":
		return c.connectKafka()
	}
	return fmt.Errorf("unknown messaging backend: %s", c.cfg.Backend)
}

func (c *Client) connectMQTT() error {
	clientID := c.cfg.MQTT.ClientID
	if clientID == "" {
		clientID = c.nodeID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", c.cfg.MQTT.Broker, c.cfg.MQTT.Port)).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(c.onMQTTConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("messaging: mqtt connection lost: %v", err)
		})
	if p := c.presence; p != nil && p.Offline != nil {
		opts.SetBinaryWill(p.Topic, p.Offline, 1, true)
	}

	client := mqtt.NewClient(opts)
	c.mu.Lock()
	c.mqttConn = client
	c.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt connect: timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// onMQTTConnect runs on the first connect and after every reconnect. A
// clean session forgets subscriptions, so they are renewed here.
func (c *Client) onMQTTConnect(client mqtt.Client) {
	c.mu.RLock()
	subs := make(map[string]func([]byte), len(c.subs))
	for topic, fn := range c.subs {
		subs[topic] = fn
	}
	c.mu.RUnlock()

	for topic, fn := range subs {
		if err := c.subscribeMQTT(client, topic, fn); err != nil {
			log.Printf("messaging: resubscribe %s: %v", topic, err)
		}
	}
	if p := c.presence; p != nil && p.Online != nil {
		client.Publish(p.Topic, 1, true, p.Online)
	}
	log.Printf("messaging: mqtt connected as %s (%d subscriptions)", c.nodeID, len(subs))
}

func (c *Client) subscribeMQTT(client mqtt.Client, topic string, fn func([]byte)) error {
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("subscribe timed out")
	}
	return token.Error()
}

func (c *Client) connectKafka() error {
	if len(c.cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(c.cfg.Kafka.Brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	c.mu.Lock()
	c.kafkaW = w
	c.mu.Unlock()
	if p := c.presence; p != nil && p.Online != nil {
		if err := c.Publish(p.Topic, p.Online); err != nil {
			log.Printf("messaging: kafka presence: %v", err)
		}
	}
	return nil
}

// delivery returns the MQTT QoS and retain flag for topic.
func (c *Client) delivery(topic string) (qos byte, retained bool) {
	switch {
	case topic == c.cfg.TelemetryTopic:
		return 0, true
	case c.presence != nil && topic == c.presence.Topic:
		return 1, true
	}
	return 1, false
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	conn, w := c.mqttConn, c.kafkaW
	c.mu.RUnlock()

	switch c.cfg.Backend {
	case "mqtt":
		if conn == nil || !conn.IsConnected() {
			return errors.New("mqtt not connected")
		}
		qos, retained := c.delivery(topic)
		token := conn.Publish(topic, qos, retained, payload)
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("mqtt publish %s: timed out", topic)
		}
		return token.Error()
	case "kafka":
		if w == nil {
			return errors.New("kafka writer not initialized")
		}
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		defer cancel()
		return w.WriteMessages(ctx, kafkago.Message{
			Topic: topic,
			Key:   []byte(c.nodeID),
			Value: payload,
		})
	}
	return fmt.Errorf("unknown messaging backend: %s", c.cfg.Backend)
}

// PublishEnvelope encodes and publishes an envelope to the given topic.
func (c *Client) PublishEnvelope(topic string, env *Envelope) error {
	return PublishEnvelope(c, topic, env)
}

// PublishEnvelope encodes env and publishes it through p.
func PublishEnvelope(p Publisher, topic string, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return p.Publish(topic, data)
}

// Subscribe registers handler for topic. MQTT subscriptions survive
// reconnects; Kafka reads through the configured consumer group.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	conn := c.mqttConn
	c.mu.Unlock()

	switch c.cfg.Backend {
	case "mqtt":
		if conn == nil {
			return errors.New("mqtt not connected")
		}
		return c.subscribeMQTT(conn, topic, handler)
	case "kafka":
		r := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:  c.cfg.Kafka.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.Kafka.GroupID,
			MaxWait:  time.Second,
			MinBytes: 1,
			MaxBytes: 1 << 20,
		})
		c.mu.Lock()
		c.kafkaRs = append(c.kafkaRs, r)
		c.mu.Unlock()
		go c.readKafka(r, topic, handler)
		return nil
	}
	return fmt.Errorf("unknown messaging backend: %s", c.cfg.Backend)
}

func (c *Client) readKafka(r *kafkago.Reader, topic string, handler func([]byte)) {
	for {
		msg, err := r.ReadMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				log.Printf("messaging: kafka read %s: %v", topic, err)
			}
			return
		}
		handler(msg.Value)
	}
}

// IsConnected reports whether Publish can currently succeed.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.cfg.Backend {
	case "mqtt":
		return c.mqttConn != nil && c.mqttConn.IsConnected()
	case "kafka":
		return c.kafkaW != nil
	}
	return false
}

// Close publishes the offline presence and shuts the connection down.
func (c *Client) Close() {
	if p := c.presence; p != nil && p.Offline != nil && c.IsConnected() {
		if err := c.Publish(p.Topic, p.Offline); err != nil {
			log.Printf("messaging: offline presence: %v", err)
		}
	}
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mqttConn != nil {
		c.mqttConn.Disconnect(1000)
		c.mqttConn = nil
	}
	if c.kafkaW != nil {
		c.kafkaW.Close()
		c.kafkaW = nil
	}
	for _, r := range c.kafkaRs {
		r.Close()
	}
	c.kafkaRs = nil
}
