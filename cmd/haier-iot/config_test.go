package main

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("HAIER_USERNAME", "user")
	t.Setenv("HAIER_PASSWORD", "pass")
	t.Setenv("HAIER_DISABLED_DEVICES", " d1, ,d2 ")
	t.Setenv("HAIER_DISCOVERY_INTERVAL", "5m")
	t.Setenv("HAIER_LOG_LEVEL", "debug")

	cfg := NewConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.DiscoveryInterval != 5*time.Minute {
		t.Fatalf("interval = %s", cfg.DiscoveryInterval)
	}
	if len(cfg.DisabledDevices) != 2 || !cfg.deviceDisabled("d2") || cfg.deviceDisabled("d3") {
		t.Fatalf("disabled = %v", cfg.DisabledDevices)
	}
	if cfg.APIAddr != ":8090" || cfg.MQTTTopicPrefix != "haier" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Username: "u", Password: "p", DiscoveryInterval: 10 * time.Minute, LogLevel: "info", MQTTTopicPrefix: "haier"}
	}
	for name, mutate := range map[string]func(*Config){
		"no password":  func(c *Config) { c.Password = "" },
		"fast polling": func(c *Config) { c.DiscoveryInterval = time.Second },
		"bad level":    func(c *Config) { c.LogLevel = "loud" },
		"wildcard":     func(c *Config) { c.MQTTTopicPrefix = "haier/#" },
	} {
		c := base()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
