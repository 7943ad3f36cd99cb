package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"assetedge/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// Backends
const (
	BackendMQTT  = "mqtt"
	BackendKafka = "kafka"
	BackendRedis = "redis"
)

// ErrNotConnected is returned by Publish and Subscribe before Connect succeeds.
var ErrNotConnected = errors.New("messaging not connected")

// Client is the unified broker client (MQTT, Kafka or Redis pub/sub).
type Client struct {
	mu       sync.RWMutex
	cfg      *config.MessagingConfig
	redisCfg *config.RedisConfig
	backend  string
	clientID string
	groupID  string

	mqttConn mqtt.Client
	kafkaW   *kafkago.Writer
	rdb      *redis.Client

	// subs cancels each topic subscription.
	subs map[string]func()
	wg   sync.WaitGroup
}

// NewClient creates a broker client from the app config.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg:      &cfg.Messaging,
		redisCfg: &cfg.Redis,
		backend:  cfg.Messaging.Backend,
		clientID: cfg.ClientID(),
		groupID:  cfg.KafkaGroupID(),
		subs:     make(map[string]func()),
	}
}

// Backend returns the configured backend name.
func (c *Client) Backend() string { return c.backend }

// Connect establishes the broker connection.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.backend {
	case BackendMQTT:
		return c.connectMQTT()
	case BackendKafka:
		return c.connectKafka()
	case BackendRedis:
		return c.connectRedis()
	default:
		return fmt.Errorf("unknown messaging backend: %q", c.backend)
	}
}

func (c *Client) connectMQTT() error {
	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.MQTT.Broker, c.cfg.MQTT.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("messaging: mqtt connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect: timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.mqttConn = client
	return nil
}

func (c *Client) connectKafka() error {
	if len(c.cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	conn, err := kafkago.Dial("tcp", c.cfg.Kafka.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka dial: %w", err)
	}
	ensureTopics(conn, c.cfg.ChangesTopic)
	conn.Close()

	c.kafkaW = &kafkago.Writer{
		Addr:         kafkago.TCP(c.cfg.Kafka.Brokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return nil
}

// ensureTopics creates Kafka topics if missing. Failures are logged only:
// brokers commonly auto-create topics.
func ensureTopics(conn *kafkago.Conn, topics ...string) {
	controller, err := conn.Controller()
	if err != nil {
		log.Printf("messaging: cannot find controller for topic creation: %v", err)
		return
	}
	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		log.Printf("messaging: cannot connect to controller: %v", err)
		return
	}
	defer controllerConn.Close()

	configs := make([]kafkago.TopicConfig, len(topics))
	for i, t := range topics {
		configs[i] = kafkago.TopicConfig{Topic: t, NumPartitions: 1, ReplicationFactor: 1}
	}
	if err := controllerConn.CreateTopics(configs...); err != nil {
		log.Printf("messaging: topic auto-create: %v", err)
	}
}

func (c *Client) connectRedis() error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.redisCfg.Address,
		Password: c.redisCfg.Password,
		DB:       c.redisCfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("redis connect: %w", err)
	}
	c.rdb = rdb
	return nil
}

// Publish sends payload to topic.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.backend {
	case BackendMQTT:
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return ErrNotConnected
		}
		token := c.mqttConn.Publish(topic, 1, false, payload)
		select {
		case <-token.Done():
			return token.Error()
		case <-ctx.Done():
			return ctx.Err()
		}
	case BackendKafka:
		if c.kafkaW == nil {
			return ErrNotConnected
		}
		return c.kafkaW.WriteMessages(ctx, kafkago.Message{Topic: topic, Value: payload})
	case BackendRedis:
		if c.rdb == nil {
			return ErrNotConnected
		}
		return c.rdb.Publish(ctx, topic, payload).Err()
	default:
		return fmt.Errorf("unknown backend: %q", c.backend)
	}
}

// Subscribe delivers every message on topic to handler until Unsubscribe or
// Close. A second subscription to the same topic replaces the first.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stop, ok := c.subs[topic]; ok {
		stop()
		delete(c.subs, topic)
	}

	switch c.backend {
	case BackendMQTT:
		if c.mqttConn == nil {
			return ErrNotConnected
		}
		token := c.mqttConn.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			return err
		}
		conn := c.mqttConn
		c.subs[topic] = func() { conn.Unsubscribe(topic).WaitTimeout(time.Second) }
		return nil

	case BackendKafka:
		if c.kafkaW == nil {
			return ErrNotConnected
		}
		r := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: c.cfg.Kafka.Brokers,
			Topic:   topic,
			GroupID: c.groupID,
		})
		ctx, cancel := context.WithCancel(context.Background())
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer r.Close()
			for {
				msg, err := r.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("messaging: kafka read %s: %v", topic, err)
					}
					return
				}
				handler(msg.Value)
			}
		}()
		c.subs[topic] = cancel
		return nil

	case BackendRedis:
		if c.rdb == nil {
			return ErrNotConnected
		}
		ctx, cancel := context.WithCancel(context.Background())
		ps := c.rdb.Subscribe(ctx, topic)
		if _, err := ps.Receive(ctx); err != nil {
			cancel()
			ps.Close()
			return fmt.Errorf("redis subscribe %s: %w", topic, err)
		}
		ch := ps.Channel()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for msg := range ch {
				handler([]byte(msg.Payload))
			}
		}()
		c.subs[topic] = func() {
			cancel()
			ps.Close()
		}
		return nil

	default:
		return fmt.Errorf("unknown backend: %q", c.backend)
	}
}

// Unsubscribe stops delivery for topic.
func (c *Client) Unsubscribe(topic string) {
	c.mu.Lock()
	stop, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if ok {
		stop()
	}
}

// IsConnected returns whether the broker connection is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.backend {
	case BackendMQTT:
		return c.mqttConn != nil && c.mqttConn.IsConnected()
	case BackendKafka:
		return c.kafkaW != nil
	case BackendRedis:
		return c.rdb != nil
	default:
		return false
	}
}

// Close shuts down subscriptions and the broker connection.
func (c *Client) Close() {
	c.mu.Lock()
	for topic, stop := range c.subs {
		stop()
		delete(c.subs, topic)
	}
	c.mu.Unlock()
	c.wg.Wait()

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
	if c.rdb != nil {
		c.rdb.Close()
		c.rdb = nil
	}
}
