package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	haieriot "github.com/baranwang/haier-iot"
	"github.com/baranwang/haier-iot/signing"
)

// PushState is the push channel's connection state.
type PushState int

const (
	StateDisconnected PushState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s PushState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	}
	return fmt.Sprintf("PushState(%d)", int(s))
}

// URLAssigner resolves a signed websocket URL for the current session.
type URLAssigner interface {
	AssignPushURL(ctx context.Context) (string, error)
}

// PushOptions configures a PushChannel.
type PushOptions struct {
	Assigner URLAssigner
	ClientID string
	Config   haieriot.PushConfig

	// OnDigitalModel receives every decoded DigitalModel push.
	OnDigitalModel func(deviceID string, model *haieriot.DevDigitalModel)

	Dialer *websocket.Dialer
	Clock  clock.Clock
	Logger logrus.FieldLogger
}

// PushChannel keeps one websocket to the gateway alive. It heartbeats while
// connected and, when the socket drops, reconnects with backoff and restores
// the last device subscription. Outbound messages are never queued.
type PushChannel struct {
	assigner URLAssigner
	clientID string
	cfg      haieriot.PushConfig
	onModel  func(string, *haieriot.DevDigitalModel)
	dialer   *websocket.Dialer
	clock    clock.Clock
	log      logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        PushState
	conn         *pushConn
	subs         []string
	reconnecting bool
	closed       bool
	backoff      *backoff.ExponentialBackOff

	writeMu sync.Mutex
}

type pushConn struct {
	ws   *websocket.Conn
	stop chan struct{}
	once sync.Once
}

func (c *pushConn) close() {
	c.once.Do(func() {
		close(c.stop)
		_ = c.ws.Close()
	})
}

func NewPushChannel(o PushOptions) *PushChannel {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Config.HeartbeatInterval <= 0 {
		o.Config.HeartbeatInterval = 60 * time.Second
	}
	if o.Config.IdleTimeout <= 0 {
		o.Config.IdleTimeout = 2 * o.Config.HeartbeatInterval
	}
	if o.Config.ConnectTimeout <= 0 {
		o.Config.ConnectTimeout = 10 * time.Second
	}
	if o.Config.ReconnectDelay <= 0 {
		o.Config.ReconnectDelay = 5 * time.Second
	}
	if o.Config.MaxReconnectDelay < o.Config.ReconnectDelay {
		o.Config.MaxReconnectDelay = o.Config.ReconnectDelay
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: o.Config.ConnectTimeout}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.Config.ReconnectDelay
	b.MaxInterval = o.Config.MaxReconnectDelay
	b.RandomizationFactor = o.Config.ReconnectJitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Clock = o.Clock
	b.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	return &PushChannel{
		assigner: o.Assigner,
		clientID: o.ClientID,
		cfg:      o.Config,
		onModel:  o.OnDigitalModel,
		dialer:   o.Dialer,
		clock:    o.Clock,
		log:      o.Logger.WithField("component", "push"),
		ctx:      ctx,
		cancel:   cancel,
		backoff:  b,
	}
}

// State returns the current connection state.
func (p *PushChannel) State() PushState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsConnected reports whether a socket is open.
func (p *PushChannel) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Subscriptions returns the remembered device subscription.
func (p *PushChannel) Subscriptions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subs...)
}

// Connect resolves a URL, dials it and starts the heartbeat and read loop.
// A failure to resolve the URL leaves the state untouched.
func (p *PushChannel) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return haieriot.ErrClosed
	}
	p.mu.Unlock()

	if p.assigner == nil {
		return errors.New("push: no url assigner")
	}
	u, err := p.assigner.AssignPushURL(ctx)
	if err != nil {
		return fmt.Errorf("assign push url: %w", err)
	}

	p.setState(StateConnecting)
	dctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()
	ws, _, err := p.dialer.DialContext(dctx, u, nil)
	if err != nil {
		p.failConnecting()
		if ctx.Err() == nil && (dctx.Err() != nil || isTimeout(err)) {
			return fmt.Errorf("%w after %s: %v", haieriot.ErrConnectTimeout, p.cfg.ConnectTimeout, err)
		}
		return fmt.Errorf("push dial: %w", err)
	}

	pc := &pushConn{ws: ws, stop: make(chan struct{})}
	ticker := p.clock.Ticker(p.cfg.HeartbeatInterval)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		ticker.Stop()
		_ = ws.Close()
		return haieriot.ErrClosed
	}
	old := p.conn
	p.conn = pc
	p.state = StateConnected
	p.backoff.Reset()
	p.mu.Unlock()

	if old != nil {
		old.close()
	}
	p.log.Info("connected")
	go p.heartbeat(pc, ticker)
	go p.readLoop(pc)
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (p *PushChannel) setState(s PushState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *PushChannel) failConnecting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.conn != nil:
		p.state = StateConnected
	case p.reconnecting:
		p.state = StateReconnecting
	default:
		p.state = StateDisconnected
	}
}

// Send wraps content in a frame and writes it. It returns ErrNotConnected
// without queueing when no socket is open.
func (p *PushChannel) Send(topic string, content interface{}) error {
	p.mu.Lock()
	pc := p.conn
	p.mu.Unlock()
	if pc == nil {
		p.log.WithField("topic", topic).Warn("socket not open, message dropped")
		return haieriot.ErrNotConnected
	}
	return p.write(pc, topic, content)
}

func (p *PushChannel) write(pc *pushConn, topic string, content interface{}) error {
	payload, err := json.Marshal(outboundFrame{AgClientID: p.clientID, Topic: topic, Content: content})
	if err != nil {
		return err
	}
	p.log.WithField("topic", topic).Debug("send")
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = pc.ws.SetWriteDeadline(time.Now().Add(p.cfg.ConnectTimeout))
	return pc.ws.WriteMessage(websocket.TextMessage, payload)
}

// Subscribe replaces the subscription set and announces it with BoundDevs.
// The set is remembered even when the socket is down.
func (p *PushChannel) Subscribe(deviceIDs []string) error {
	p.mu.Lock()
	p.subs = append([]string(nil), deviceIDs...)
	p.mu.Unlock()
	return p.Send(topicBoundDevs, boundDevs{Devs: append([]string{}, deviceIDs...)})
}

// Close stops the channel for good; no reconnect follows.
func (p *PushChannel) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pc := p.conn
	p.conn = nil
	p.state = StateDisconnected
	p.mu.Unlock()

	p.cancel()
	if pc != nil {
		pc.close()
	}
	return nil
}

func (p *PushChannel) heartbeat(pc *pushConn, ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-pc.stop:
			return
		case <-ticker.C:
			hb := heartBeat{SN: signing.SequenceID(p.clock.Now()), Duration: 0}
			if err := p.write(pc, topicHeartBeat, hb); err != nil {
				p.log.WithError(err).Warn("heartbeat failed")
				p.connectionLost(pc, err)
				return
			}
		}
	}
}

// readLoop extends the read deadline on every frame, so a half-open socket
// that stops answering heartbeats fails after IdleTimeout.
func (p *PushChannel) readLoop(pc *pushConn) {
	for {
		_ = pc.ws.SetReadDeadline(time.Now().Add(p.cfg.IdleTimeout))
		_, data, err := pc.ws.ReadMessage()
		if err != nil {
			p.connectionLost(pc, err)
			return
		}
		p.handleFrame(data)
	}
}

func (p *PushChannel) handleFrame(data []byte) {
	frame, err := decodeFrame(data)
	if err != nil {
		p.log.WithError(err).Warn("dropping frame")
		return
	}
	switch frame.Topic {
	case topicHeartBeatAck:
		p.log.Debug("heartbeat ack")
	case topicGenMsgDown:
		var msg genMsgDown
		if err := json.Unmarshal(frame.Content, &msg); err != nil {
			p.log.WithError(err).Warn("dropping GenMsgDown")
			return
		}
		if msg.BusinType != businTypeDigitalModel {
			p.log.WithField("businType", msg.BusinType).Debug("GenMsgDown ignored")
			return
		}
		deviceID, model, err := decodeDigitalModel(msg.Data)
		if err != nil {
			p.log.WithError(err).Warn("dropping DigitalModel")
			return
		}
		p.log.WithField("device", deviceID).Debug("DigitalModel")
		if p.onModel != nil {
			p.onModel(deviceID, model)
		}
	default:
		p.log.WithField("topic", frame.Topic).Debug("unhandled message")
	}
}

// connectionLost retires pc and starts a reconnect, unless pc was already
// replaced or the channel is closed.
func (p *PushChannel) connectionLost(pc *pushConn, cause error) {
	p.mu.Lock()
	if p.conn != pc {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	closed := p.closed
	if !closed {
		p.state = StateReconnecting
	}
	p.mu.Unlock()

	pc.close()
	if closed {
		return
	}
	p.log.WithError(cause).Error("connection lost")
	p.scheduleReconnect()
}

// scheduleReconnect starts the reconnect loop unless one is running.
func (p *PushChannel) scheduleReconnect() {
	p.mu.Lock()
	if p.closed || p.reconnecting {
		p.mu.Unlock()
		return
	}
	p.reconnecting = true
	p.state = StateReconnecting
	p.mu.Unlock()
	go p.reconnectLoop()
}

func (p *PushChannel) reconnectLoop() {
	for {
		p.mu.Lock()
		delay := p.backoff.NextBackOff()
		p.mu.Unlock()

		p.log.WithField("delay", delay).Info("reconnecting")
		select {
		case <-p.ctx.Done():
			p.finishReconnect()
			return
		case <-p.clock.After(delay):
		}

		if err := p.Connect(p.ctx); err != nil {
			if errors.Is(err, haieriot.ErrClosed) {
				p.finishReconnect()
				return
			}
			p.log.WithError(err).Error("reconnect failed")
			continue
		}

		if subs := p.Subscriptions(); len(subs) > 0 {
			p.log.WithField("devices", subs).Info("re-subscribing")
			if err := p.Send(topicBoundDevs, boundDevs{Devs: subs}); err != nil {
				p.log.WithError(err).Warn("re-subscribe failed")
			}
		}

		p.mu.Lock()
		lost := p.conn == nil && !p.closed
		if !lost {
			p.reconnecting = false
		}
		p.mu.Unlock()
		if !lost {
			return
		}
	}
}

func (p *PushChannel) finishReconnect() {
	p.mu.Lock()
	p.reconnecting = false
	p.mu.Unlock()
}
