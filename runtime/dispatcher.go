package runtime

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	haieriot "github.com/baranwang/haier-iot"
	"github.com/baranwang/haier-iot/signing"
	"github.com/baranwang/haier-iot/translate"
)

// PushSender is the live channel used for low-latency commands.
type PushSender interface {
	IsConnected() bool
	Send(topic string, content interface{}) error
}

// BatchSender is the HTTP fallback for commands.
type BatchSender interface {
	SendBatchCommand(ctx context.Context, deviceID string, batch *translate.HTTPBatch) error
}

// Dispatcher turns attribute writes into one batch request, sends it over
// the push channel when open and over HTTP otherwise, then patches the
// cache without waiting for the device to confirm.
type Dispatcher struct {
	push  PushSender
	rest  BatchSender
	cache *ModelCache
	clock clock.Clock
	log   logrus.FieldLogger
}

func NewDispatcher(push PushSender, rest BatchSender, cache *ModelCache, clk clock.Clock, log logrus.FieldLogger) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{push: push, rest: rest, cache: cache, clock: clk, log: log.WithField("component", "dispatcher")}
}

// SendCommands dispatches commands as a single ordered batch.
func (d *Dispatcher) SendCommands(ctx context.Context, deviceID string, commands ...haieriot.Command) error {
	sn := signing.SequenceID(d.clock.Now())
	if _, err := translate.BuildCmdMsgs(sn, deviceID, commands); err != nil {
		return err
	}
	d.describe(deviceID, commands)

	sent := false
	if d.push != nil && d.push.IsConnected() {
		batch, err := translate.BuildPushBatch(sn, signing.SequenceID(d.clock.Now()), deviceID, commands)
		if err != nil {
			return err
		}
		if err := d.push.Send(topicBatchCmdReq, batch); err != nil {
			d.log.WithError(err).WithField("device", deviceID).Warn("push send failed, falling back to http")
		} else {
			sent = true
		}
	}
	if !sent {
		if d.rest == nil {
			return haieriot.ErrNotConnected
		}
		batch, err := translate.BuildHTTPBatch(sn, deviceID, commands)
		if err != nil {
			return err
		}
		if err := d.rest.SendBatchCommand(ctx, deviceID, batch); err != nil {
			return err
		}
	}

	if d.cache != nil {
		d.cache.Patch(deviceID, commands)
	}
	return nil
}

func (d *Dispatcher) describe(deviceID string, commands []haieriot.Command) {
	var model *haieriot.DevDigitalModel
	if d.cache != nil {
		model, _ = d.cache.Get(deviceID)
	}
	for _, cmd := range commands {
		for name, value := range cmd {
			fields := logrus.Fields{"device": deviceID, "attribute": name, "value": value}
			if p, ok := model.Property(name); ok {
				fields["desc"] = p.Desc
				fields["value"] = p.DescribeValue(value)
			}
			d.log.WithFields(fields).Info("set")
		}
	}
}
