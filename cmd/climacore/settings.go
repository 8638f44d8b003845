package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Defaults for optional environment variables
const (
	defaultOptionsPath     = "./config/climacore.yaml"
	defaultAPIPort         = 8081
	defaultMQTTTopicPrefix = "climacore"
)

// settings holds the process configuration read from the environment.
type settings struct {
	HAURL          string
	HAToken        string
	ReadOnly       bool
	ActivationCode string
	GatewayURL     string
	OptionsPath    string
	APIPort        int
	Location       *time.Location
	LogLevel       string

	MQTTBroker      string
	MQTTTopicPrefix string
	MQTTUsername    string
	MQTTPassword    string
}

func loadSettings() (*settings, error) {
	s := &settings{
		HAURL:           os.Getenv("HA_URL"),
		HAToken:         os.Getenv("HA_TOKEN"),
		ReadOnly:        os.Getenv("READ_ONLY") == "true",
		ActivationCode:  os.Getenv("CLIMACORE_ACTIVATION_CODE"),
		GatewayURL:      os.Getenv("CLIMACORE_GATEWAY_URL"),
		OptionsPath:     envOr("CLIMACORE_OPTIONS", defaultOptionsPath),
		APIPort:         defaultAPIPort,
		Location:        time.Local,
		LogLevel:        strings.ToLower(os.Getenv("LOG_LEVEL")),
		MQTTBroker:      os.Getenv("MQTT_BROKER"),
		MQTTTopicPrefix: envOr("MQTT_TOPIC_PREFIX", defaultMQTTTopicPrefix),
		MQTTUsername:    os.Getenv("MQTT_USERNAME"),
		MQTTPassword:    os.Getenv("MQTT_PASSWORD"),
	}

	if port := os.Getenv("API_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid API_PORT %q", port)
		}
		s.APIPort = p
	}

	if tz := os.Getenv("TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
		}
		s.Location = loc
	}

	return s, nil
}

// requireHA checks the settings needed to talk to Home Assistant.
func (s *settings) requireHA() error {
	if s.HAURL == "" || s.HAToken == "" {
		return fmt.Errorf("HA_URL and HA_TOKEN environment variables must be set")
	}
	return nil
}

// requireBrain checks the settings needed to talk to the Brain gateway.
func (s *settings) requireBrain() error {
	if s.ActivationCode == "" {
		return fmt.Errorf("CLIMACORE_ACTIVATION_CODE environment variable must be set")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// newLogger builds a production logger, or a development one for LOG_LEVEL=debug.
func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}
