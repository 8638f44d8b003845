package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"climacore/internal/scenario"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
	maxReconnect      = 30 * time.Second
	scenarioQoS       = 1
)

// Errors
var (
	ErrNotConnected  = errors.New("mqtt: client not connected")
	ErrPublishFailed = errors.New("mqtt: publish failed")
)

// pahoClient is the subset of pahomqtt.Client the publisher uses.
type pahoClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher mirrors scenario updates to a retained MQTT topic so dashboards
// outside Home Assistant can follow the current scenario.
type Publisher struct {
	client pahoClient
	topic  string
	logger *zap.Logger
}

// Config configures the broker connection.
type Config struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

func buildClientOptions(cfg Config, logger *zap.Logger) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		host, _ := os.Hostname()
		clientID = "climacore-" + host
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Second)
	opts.SetMaxReconnectInterval(maxReconnect)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})
	return opts
}

// Connect dials the broker. With connect-retry enabled paho keeps retrying
// in the background, so a slow broker only delays the first publish.
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	logger = logger.Named("mqtt")
	client := pahomqtt.NewClient(buildClientOptions(cfg, logger))

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		logger.Warn("MQTT broker not reachable yet, retrying in background", zap.String("broker", cfg.Broker))
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return newPublisher(client, cfg.TopicPrefix, logger), nil
}

func newPublisher(client pahoClient, prefix string, logger *zap.Logger) *Publisher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "climacore"
	}
	return &Publisher{client: client, topic: prefix + "/scenario", logger: logger}
}

// Topic returns the scenario topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// PublishScenario publishes the update as retained JSON.
func (p *Publisher) PublishScenario(u scenario.Update) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal scenario update: %w", err)
	}

	token := p.client.Publish(p.topic, scenarioQoS, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	p.logger.Debug("Published scenario", zap.String("topic", p.topic), zap.String("scenario", u.Scenario))
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
}
