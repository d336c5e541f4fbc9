// Package notify publishes engine status changes to an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/hyperengineering/outbox"
)

// StatusTopic is the topic status snapshots are published on.
const StatusTopic = "outbox/%s/status"

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	pendingLimit   = 16
)

// ErrConnectTimeout is returned when the broker does not answer in time.
var ErrConnectTimeout = errors.New("mqtt connection timeout")

// Config describes the broker connection.
type Config struct {
	Broker   string // e.g. tcp://localhost:1883
	Username string
	Password string
	SourceID string
}

// Publisher implements outbox.StatusObserver. OnStatus never blocks the
// engine; snapshots are handed to a background goroutine and the oldest
// pending one is dropped when the broker falls behind.
type Publisher struct {
	cfg      Config
	topic    string
	clientID string
	logger   *slog.Logger

	clientFactory func(opts *mqtt.ClientOptions) MQTTClient
	client        MQTTClient

	pending chan []byte
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ outbox.StatusObserver = (*Publisher)(nil)

// NewPublisher creates a publisher for the given broker.
func NewPublisher(cfg Config, logger *slog.Logger) *Publisher {
	return NewPublisherWithClient(cfg, logger, func(opts *mqtt.ClientOptions) MQTTClient {
		return &DefaultMQTTClient{client: mqtt.NewClient(opts)}
	})
}

// NewPublisherWithClient creates a publisher with a custom client factory (for testing)
func NewPublisherWithClient(cfg Config, logger *slog.Logger, clientFactory func(*mqtt.ClientOptions) MQTTClient) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:           cfg,
		topic:         fmt.Sprintf(StatusTopic, cfg.SourceID),
		clientID:      "outbox-" + uuid.NewString(),
		logger:        logger.With("component", "mqtt"),
		clientFactory: clientFactory,
		pending:       make(chan []byte, pendingLimit),
	}
}

// Topic returns the topic this publisher writes to.
func (p *Publisher) Topic() string { return p.topic }

// Start connects to the broker and begins publishing.
func (p *Publisher) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.clientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		p.logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = p.clientFactory(opts)

	p.logger.Info("connecting to mqtt broker", "broker", p.cfg.Broker, "topic", p.topic)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt: %w", err)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// OnStatus queues a status snapshot for publishing.
func (p *Publisher) OnStatus(s outbox.SyncStatus) {
	data, err := json.Marshal(s)
	if err != nil {
		p.logger.Error("encode status", "error", err)
		return
	}
	for {
		select {
		case p.pending <- data:
			return
		default:
		}
		select {
		case <-p.pending:
			p.logger.Debug("dropped stale status snapshot")
		default:
		}
	}
}

func (p *Publisher) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-p.pending:
			p.publish(data)
		}
	}
}

func (p *Publisher) publish(data []byte) {
	token := p.client.Publish(p.topic, 1, true, data)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("mqtt publish timeout", "topic", p.topic)
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("mqtt publish failed", "topic", p.topic, "error", err)
	}
}

// Stop halts publishing and disconnects from the broker.
func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.logger.Info("mqtt publisher stopped")
}
