package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	haieriot "github.com/baranwang/haier-iot"
	"github.com/baranwang/haier-iot/store"
)

// Client is the public entry point. It owns the token manager, the REST
// client, the model cache, the push channel and the command dispatcher.
type Client struct {
	clientID string
	log      logrus.FieldLogger

	tokens     *TokenManager
	rest       *RESTClient
	cache      *ModelCache
	push       *PushChannel
	dispatcher *Dispatcher
}

// NewClient wires a client from opts. A persisted token is reused only when
// the installation client id already existed.
func NewClient(opts haieriot.Options) (*Client, error) {
	opts = opts.WithDefaults()
	if opts.Username == "" || opts.Password == "" {
		return nil, haieriot.ErrMissingCredentials
	}
	if opts.StorageDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("storage dir: %w", err)
		}
		opts.StorageDir = home
	}
	log := opts.Logger

	st := store.New(opts.StorageDir, opts.Clock)
	clientID, created, err := st.LoadOrCreateClientID()
	if err != nil {
		return nil, err
	}

	tm := NewTokenManager(TokenOptions{
		Username: opts.Username,
		Store:    st,
		Clock:    opts.Clock,
		Logger:   log,
	})
	if created {
		log.WithField("clientId", clientID).Info("new client id, discarding cached token")
		tm.Invalidate()
	} else if tm.Load() {
		log.Debug("restored token from disk")
	}

	rest, err := NewRESTClient(RESTOptions{
		BaseURL:        opts.BaseURL,
		UWSBaseURL:     opts.UWSBaseURL,
		App:            opts.App,
		Language:       opts.Language,
		Timezone:       opts.Timezone,
		ClientID:       clientID,
		Username:       opts.Username,
		Password:       opts.Password,
		RequestTimeout: opts.RequestTimeout,
		Tokens:         tm,
		Clock:          opts.Clock,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	tm.SetLogin(rest.Login)

	cache := NewModelCache(opts.Clock, log)
	push := NewPushChannel(PushOptions{
		Assigner: rest,
		ClientID: clientID,
		Config:   opts.Push,
		OnDigitalModel: func(deviceID string, model *haieriot.DevDigitalModel) {
			cache.Set(deviceID, model, haieriot.SourcePush)
		},
		Clock:  opts.Clock,
		Logger: log,
	})

	return &Client{
		clientID:   clientID,
		log:        log,
		tokens:     tm,
		rest:       rest,
		cache:      cache,
		push:       push,
		dispatcher: NewDispatcher(push, rest, cache, opts.Clock, log),
	}, nil
}

func (c *Client) ClientID() string { return c.clientID }

// AccessToken returns a valid access token, logging in at most once across
// concurrent callers.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.tokens.AccessToken(ctx)
}

// Login forces a fresh login regardless of the cached token.
func (c *Client) Login(ctx context.Context) error {
	c.tokens.Invalidate()
	_, err := c.tokens.AccessToken(ctx)
	return err
}

func (c *Client) GetFamilyList(ctx context.Context) ([]haieriot.FamilyInfo, error) {
	return c.rest.GetFamilyList(ctx)
}

func (c *Client) GetDevicesByFamilyID(ctx context.Context, familyID string) ([]haieriot.DeviceInfo, error) {
	return c.rest.GetDevicesByFamilyID(ctx, familyID)
}

// GetDevDigitalModel returns the cached model, fetching and caching it on a
// miss.
func (c *Client) GetDevDigitalModel(ctx context.Context, deviceID string) (*haieriot.DevDigitalModel, error) {
	if m, ok := c.cache.Get(deviceID); ok {
		return m, nil
	}
	return c.RefreshDevDigitalModel(ctx, deviceID)
}

// RefreshDevDigitalModel always fetches over REST and replaces the cache entry.
func (c *Client) RefreshDevDigitalModel(ctx context.Context, deviceID string) (*haieriot.DevDigitalModel, error) {
	m, err := c.rest.GetDevDigitalModel(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	c.cache.Set(deviceID, m, haieriot.SourceREST)
	return m.Clone(), nil
}

// CachedModel returns the cache entry without any network access.
func (c *Client) CachedModel(deviceID string) (CacheEntry, bool) {
	return c.cache.Entry(deviceID)
}

func (c *Client) SendCommands(ctx context.Context, deviceID string, commands ...haieriot.Command) error {
	return c.dispatcher.SendCommands(ctx, deviceID, commands...)
}

// Connect opens the push channel and announces any remembered subscription.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.push.Connect(ctx); err != nil {
		return err
	}
	if subs := c.push.Subscriptions(); len(subs) > 0 {
		return c.push.Subscribe(subs)
	}
	return nil
}

// Subscribe replaces the set of devices whose updates are pushed. The set
// survives reconnects.
func (c *Client) Subscribe(deviceIDs []string) error {
	err := c.push.Subscribe(deviceIDs)
	if errors.Is(err, haieriot.ErrNotConnected) {
		// remembered; sent on the next connect
		return nil
	}
	return err
}

// OnDevDigitalModelUpdate registers a synchronous listener.
func (c *Client) OnDevDigitalModelUpdate(fn Listener) (cancel func()) {
	return c.cache.OnUpdate(fn)
}

// SubscribeEvents returns a buffered event channel. Events are dropped when
// the buffer is full.
func (c *Client) SubscribeEvents(buffer int) haieriot.EventSubscription {
	return c.cache.Subscribe(buffer)
}

func (c *Client) Device(deviceID string) *Device {
	return &Device{id: deviceID, client: c}
}

func (c *Client) PushState() PushState { return c.push.State() }

// Close shuts the push channel down for good.
func (c *Client) Close() error {
	return c.push.Close()
}
