package runtime

import (
	"context"
	"fmt"

	haieriot "github.com/baranwang/haier-iot"
)

// Device is a typed accessor over one device's digital model. Reads come
// from the cache; writes dispatch a command.
type Device struct {
	id     string
	client *Client
}

func (d *Device) ID() string { return d.id }

// Model returns the current model, fetching it when not cached.
func (d *Device) Model(ctx context.Context) (*haieriot.DevDigitalModel, error) {
	return d.client.GetDevDigitalModel(ctx, d.id)
}

// GetAttribute returns the cached value of name. It never touches the network.
func (d *Device) GetAttribute(name string) (string, bool) {
	m, ok := d.client.cache.Get(d.id)
	if !ok {
		return "", false
	}
	p, ok := m.Property(name)
	if !ok {
		return "", false
	}
	return p.Value, true
}

// SetAttribute sends {name: value} when the attribute exists, is writable and
// value lies within its range.
func (d *Device) SetAttribute(ctx context.Context, name, value string) error {
	m, err := d.Model(ctx)
	if err != nil {
		return err
	}
	p, ok := m.Property(name)
	if !ok {
		return fmt.Errorf("%s.%s: %w", d.id, name, haieriot.ErrAttributeNotFound)
	}
	if !p.Writable {
		return fmt.Errorf("%s.%s: %w", d.id, name, haieriot.ErrNotWritable)
	}
	if !p.Accepts(value) {
		return fmt.Errorf("%s.%s=%q: %w", d.id, name, value, haieriot.ErrInvalidParameter)
	}
	return d.client.SendCommands(ctx, d.id, haieriot.Command{name: value})
}

// SetAttribute is Device(deviceID).SetAttribute.
func (c *Client) SetAttribute(ctx context.Context, deviceID, name, value string) error {
	return c.Device(deviceID).SetAttribute(ctx, name, value)
}
