package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the process configuration, read from the environment after an
// optional .env file.
type Config struct {
	Username string
	Password string

	// FamilyID limits discovery to one family; empty means every family.
	FamilyID          string
	StorageDir        string
	DisabledDevices   []string
	DiscoveryInterval time.Duration

	APIAddr string

	MQTTBroker      string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	LogLevel string
}

func NewConfig() *Config {
	return &Config{
		Username:          getEnv("HAIER_USERNAME", ""),
		Password:          getEnv("HAIER_PASSWORD", ""),
		FamilyID:          getEnv("HAIER_FAMILY_ID", ""),
		StorageDir:        getEnv("HAIER_STORAGE_DIR", ""),
		DisabledDevices:   parseStringSlice("HAIER_DISABLED_DEVICES", nil),
		DiscoveryInterval: parseDuration("HAIER_DISCOVERY_INTERVAL", 10*time.Minute),
		APIAddr:           getEnv("HAIER_API_ADDR", ":8090"),
		MQTTBroker:        getEnv("HAIER_MQTT_BROKER", ""),
		MQTTUsername:      getEnv("HAIER_MQTT_USERNAME", ""),
		MQTTPassword:      getEnv("HAIER_MQTT_PASSWORD", ""),
		MQTTTopicPrefix:   getEnv("HAIER_MQTT_TOPIC_PREFIX", "haier"),
		LogLevel:          getEnv("HAIER_LOG_LEVEL", "info"),
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("HAIER_USERNAME and HAIER_PASSWORD are required")
	}
	if c.DiscoveryInterval < time.Minute {
		return fmt.Errorf("HAIER_DISCOVERY_INTERVAL must be at least 1 minute")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("HAIER_LOG_LEVEL: %w", err)
	}
	if c.MQTTTopicPrefix == "" || strings.ContainsAny(c.MQTTTopicPrefix, "+#") {
		return fmt.Errorf("HAIER_MQTT_TOPIC_PREFIX must be non-empty and free of wildcards")
	}
	return nil
}

func (c *Config) deviceDisabled(id string) bool {
	for _, d := range c.DisabledDevices {
		if d == id {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
