package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/observability/metrics"
)

var (
	// ErrNotConnected is returned by Publish before Connect succeeds.
	ErrNotConnected = errors.NewStd("not connected to MQTT broker")
	// ErrConnectCooldown is returned when Connect is retried too quickly.
	ErrConnectCooldown = errors.NewStd("connection attempt too recent")
)

// client implements the Client interface on top of paho.
type client struct {
	config          Config
	metrics         *metrics.ClientMetrics
	log             logger.Logger
	newPaho         func(*paho.ClientOptions) paho.Client
	lastConnAttempt time.Time

	mu             sync.Mutex
	internalClient paho.Client
}

// NewClient creates a new MQTT client with the provided configuration. m may
// be nil.
func NewClient(cfg Config, m *metrics.ClientMetrics) Client {
	return newClient(cfg, m, paho.NewClient)
}

func newClient(cfg Config, m *metrics.ClientMetrics, factory func(*paho.ClientOptions) paho.Client) *client {
	defaults := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaults.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = defaults.DisconnectTimeout
	}
	return &client{
		config:  cfg,
		metrics: m,
		log:     logger.Global().Module("mqtt").With(logger.String("broker", cfg.Broker)),
		newPaho: factory,
	}
}

func mqttError(err error, op string) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryNetwork).
		Context("operation", op).
		Build()
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.New(ErrConnectCooldown).
			Component("mqtt").
			Category(errors.CategoryLimit).
			Context("last_attempt_ago", since.String()).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Host == "" {
		return errors.Newf("invalid broker URL %q", c.config.Broker).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryNetwork).
				Context("host", host).
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = c.newPaho(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("connection timeout").
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		return mqttError(err, "connect")
	}

	c.metrics.SetMQTTConnected(true)
	c.log.Info("connected to MQTT broker")
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnectedLocked() {
		c.metrics.RecordPublish(metrics.ResultError)
		return errors.New(ErrNotConnected).
			Component("mqtt").
			Category(errors.CategoryState).
			Build()
	}

	timeout := c.config.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	token := c.internalClient.Publish(topic, 0, c.config.Retain, payload)
	if !token.WaitTimeout(timeout) {
		c.metrics.RecordPublish(metrics.ResultError)
		c.log.Warn("publish timeout", logger.String("topic", topic))
		return errors.Newf("publish timeout").
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.RecordPublish(metrics.ResultError)
		return mqttError(err, "publish")
	}

	c.metrics.RecordPublish(metrics.ResultSuccess)
	c.log.Debug("published", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnectedLocked()
}

func (c *client) isConnectedLocked() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isConnectedLocked() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.SetMQTTConnected(false)
		c.log.Info("disconnected from MQTT broker")
	}
}

func (c *client) onConnect(paho.Client) {
	c.metrics.SetMQTTConnected(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost, paho reconnects", logger.Error(err))
	c.metrics.SetMQTTConnected(false)
}
