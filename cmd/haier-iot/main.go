package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	haieriot "github.com/baranwang/haier-iot"
	"github.com/baranwang/haier-iot/internal/mqtt"
	"github.com/baranwang/haier-iot/internal/server"
	"github.com/baranwang/haier-iot/runtime"
)

// haier-iot: keeps a push session to the Haier cloud, serves the local
// control API and optionally mirrors device state to MQTT.
func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("reading .env")
	}
	cfg := NewConfig()
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.StandardLogger()

	opts := haieriot.DefaultOptions()
	opts.Username = cfg.Username
	opts.Password = cfg.Password
	opts.StorageDir = cfg.StorageDir
	opts.Logger = log
	client, err := runtime.NewClient(opts)
	if err != nil {
		log.WithError(err).Fatal("create client")
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		// the discovery loop retries on its next tick
		log.WithError(err).Error("push connect failed")
	}
	if _, err := discover(ctx, client, cfg, log); err != nil {
		log.WithError(err).Error("initial discovery failed")
	}
	go discoveryLoop(ctx, client, cfg, log)

	_, errCh, err := server.StartAPIServer(ctx, server.APIConfig{ListenAddr: cfg.APIAddr, Backend: client, Logger: log})
	if err != nil {
		log.WithError(err).Fatal("start control API")
	}
	go func() {
		if err := <-errCh; err != nil {
			log.WithError(err).Error("control API stopped")
		}
	}()

	if cfg.MQTTBroker != "" {
		bridge := mqtt.NewBridge(mqtt.Config{
			BrokerURL:   cfg.MQTTBroker,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Logger:      log,
		}, client)
		if err := bridge.Connect(); err != nil {
			log.WithError(err).Error("mqtt bridge disabled")
		} else {
			defer bridge.Close()
		}
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	log.WithField("clientId", client.ClientID()).Info("running")
	<-sigCh
	log.Info("shutdown signal received")
}

func discoveryLoop(ctx context.Context, client *runtime.Client, cfg *Config, log logrus.FieldLogger) {
	ticker := time.NewTicker(cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if client.PushState() == runtime.StateDisconnected {
				if err := client.Connect(ctx); err != nil {
					log.WithError(err).Warn("push connect failed")
				}
			}
			if _, err := discover(ctx, client, cfg, log); err != nil {
				log.WithError(err).Warn("discovery failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
