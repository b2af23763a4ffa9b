package haieriot

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// AppConfig identifies the client application to the cloud.
type AppConfig struct {
	ID        string
	Key       string
	Version   string
	PhoneType string
	UserAgent string
}

// Options configures the IoT client.
type Options struct {
	Username string
	Password string

	// StorageDir is the root under which .hb-haier/ is created.
	StorageDir string

	BaseURL    string // account + family API, e.g. https://zj.haier.net
	UWSBaseURL string // shadow, command and websocket assignment API

	App      AppConfig
	Language string
	Timezone string

	RequestTimeout time.Duration

	Push PushConfig

	Logger logrus.FieldLogger
	Clock  clock.Clock
}

type PushConfig struct {
	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// IdleTimeout bounds the gap between inbound frames before the socket is
	// treated as dead. Zero means twice the heartbeat interval.
	IdleTimeout time.Duration
	// ReconnectJitter is the backoff randomization factor (0 disables jitter).
	ReconnectJitter float64
}

// DefaultOptions gives the values the vendor mobile app uses.
func DefaultOptions() Options {
	opts := Options{
		BaseURL:        "https://zj.haier.net",
		UWSBaseURL:     "https://uws.haier.net",
		Language:       "zh-cn",
		Timezone:       "8",
		RequestTimeout: 15 * time.Second,
	}
	opts.App = AppConfig{
		ID:        "MB-UZHSH-0001",
		Key:       "5dfca8714eb26e3a776e58a8273c8752",
		Version:   "7.19.2",
		PhoneType: "iPhone16,2",
	}
	opts.App.UserAgent = "Uplus/" + opts.App.Version + " (iPhone; iOS 17.0.2; Scale/2.00)"
	opts.Push = PushConfig{
		HeartbeatInterval: 60 * time.Second,
		ConnectTimeout:    10 * time.Second,
		ReconnectDelay:    5 * time.Second,
		MaxReconnectDelay: 5 * time.Minute,
		ReconnectJitter:   0.2,
	}
	return opts
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.BaseURL == "" {
		o.BaseURL = d.BaseURL
	}
	if o.UWSBaseURL == "" {
		o.UWSBaseURL = d.UWSBaseURL
	}
	if o.App.ID == "" {
		o.App = d.App
	}
	if o.Language == "" {
		o.Language = d.Language
	}
	if o.Timezone == "" {
		o.Timezone = d.Timezone
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.Push.HeartbeatInterval <= 0 {
		o.Push.HeartbeatInterval = d.Push.HeartbeatInterval
	}
	if o.Push.ConnectTimeout <= 0 {
		o.Push.ConnectTimeout = d.Push.ConnectTimeout
	}
	if o.Push.ReconnectDelay <= 0 {
		o.Push.ReconnectDelay = d.Push.ReconnectDelay
	}
	if o.Push.MaxReconnectDelay <= 0 {
		o.Push.MaxReconnectDelay = d.Push.MaxReconnectDelay
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}
