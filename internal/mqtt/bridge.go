// Package mqtt mirrors device state to an MQTT broker and accepts commands
// from it.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	haieriot "github.com/baranwang/haier-iot"
	"github.com/baranwang/haier-iot/runtime"
)

// Controller is what the bridge needs from the IoT client.
type Controller interface {
	SendCommands(ctx context.Context, deviceID string, commands ...haieriot.Command) error
	OnDevDigitalModelUpdate(fn runtime.Listener) (cancel func())
}

type Config struct {
	BrokerURL   string // tcp://localhost:1883
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string // haier
	QoS         byte

	CommandTimeout time.Duration
	Logger         logrus.FieldLogger
}

// publisher is the part of paho.Client used after connect.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Bridge publishes each model update as retained JSON on
// <prefix>/<deviceId>/state and turns messages on <prefix>/<deviceId>/set
// into batch commands.
type Bridge struct {
	cfg Config
	ctl Controller
	log logrus.FieldLogger

	mu     sync.Mutex
	client paho.Client
	pub    publisher
	stop   func()
}

func NewBridge(cfg Config, ctl Controller) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "haier"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "haier-iot-" + uuid.NewString()[:8]
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Bridge{cfg: cfg, ctl: ctl, log: cfg.Logger.WithField("component", "mqtt")}
}

func (b *Bridge) statusTopic() string { return b.cfg.TopicPrefix + "/bridge/status" }

// StateTopic is where a device's values are published.
func StateTopic(prefix, deviceID string) string { return prefix + "/" + deviceID + "/state" }

// Connect dials the broker, subscribes to set topics and starts mirroring.
func (b *Bridge) Connect() error {
	opts := paho.NewClientOptions()
	opts.AddBroker(b.cfg.BrokerURL)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetWill(b.statusTopic(), "offline", b.cfg.QoS, true)
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.log.WithError(err).Warn("broker connection lost")
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", b.cfg.BrokerURL, token.Error())
	}
	b.attach(client, client)
	b.log.WithField("broker", b.cfg.BrokerURL).Info("connected")
	return nil
}

func (b *Bridge) attach(client paho.Client, pub publisher) {
	b.mu.Lock()
	b.client = client
	b.pub = pub
	b.mu.Unlock()
	cancel := b.ctl.OnDevDigitalModelUpdate(b.publishState)
	b.mu.Lock()
	b.stop = cancel
	b.mu.Unlock()
}

func (b *Bridge) onConnect(client paho.Client) {
	client.Publish(b.statusTopic(), b.cfg.QoS, true, "online")
	topic := b.cfg.TopicPrefix + "/+/set"
	if token := client.Subscribe(topic, b.cfg.QoS, b.onSet); token.Wait() && token.Error() != nil {
		b.log.WithError(token.Error()).WithField("topic", topic).Error("subscribe failed")
	}
}

func (b *Bridge) publishState(deviceID string, m *haieriot.DevDigitalModel) {
	b.mu.Lock()
	pub := b.pub
	b.mu.Unlock()
	if pub == nil {
		return
	}
	payload, err := json.Marshal(m.Values())
	if err != nil {
		b.log.WithError(err).Warn("encode state")
		return
	}
	topic := StateTopic(b.cfg.TopicPrefix, deviceID)
	token := pub.Publish(topic, b.cfg.QoS, true, payload)
	go func() {
		if token.WaitTimeout(b.cfg.CommandTimeout) && token.Error() != nil {
			b.log.WithError(token.Error()).WithField("topic", topic).Warn("publish failed")
		}
	}()
}

func (b *Bridge) onSet(_ paho.Client, msg paho.Message) {
	if err := b.HandleSet(msg.Topic(), msg.Payload()); err != nil {
		b.log.WithError(err).WithField("topic", msg.Topic()).Warn("set rejected")
	}
}

// HandleSet dispatches one set message.
func (b *Bridge) HandleSet(topic string, payload []byte) error {
	deviceID, ok := DeviceFromSetTopic(b.cfg.TopicPrefix, topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", haieriot.ErrInvalidParameter, topic)
	}
	cmds, err := ParseCommands(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CommandTimeout)
	defer cancel()
	return b.ctl.SendCommands(ctx, deviceID, cmds...)
}

// DeviceFromSetTopic extracts the device id from <prefix>/<deviceId>/set.
func DeviceFromSetTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// ParseCommands accepts a single {attr: value} object or an ordered array
// of them. Non-string values are sent in their JSON text form.
func ParseCommands(payload []byte) ([]haieriot.Command, error) {
	var raw []map[string]json.RawMessage
	trimmed := strings.TrimSpace(string(payload))
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", haieriot.ErrInvalidParameter, err)
		}
	case strings.HasPrefix(trimmed, "{"):
		var one map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, fmt.Errorf("%w: %v", haieriot.ErrInvalidParameter, err)
		}
		raw = append(raw, one)
	default:
		return nil, fmt.Errorf("%w: payload must be a JSON object or array", haieriot.ErrInvalidParameter)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no commands", haieriot.ErrInvalidParameter)
	}
	out := make([]haieriot.Command, 0, len(raw))
	for _, obj := range raw {
		cmd := make(haieriot.Command, len(obj))
		for name, v := range obj {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				s = string(v)
			}
			cmd[name] = s
		}
		out = append(out, cmd)
	}
	return out, nil
}

// Close stops mirroring and disconnects from the broker.
func (b *Bridge) Close() {
	b.mu.Lock()
	client, stop := b.client, b.stop
	b.client, b.pub, b.stop = nil, nil, nil
	b.mu.Unlock()
	if stop != nil {
		stop()
	}
	if client != nil {
		client.Publish(b.statusTopic(), b.cfg.QoS, true, "offline").WaitTimeout(time.Second)
		client.Disconnect(250)
	}
}
