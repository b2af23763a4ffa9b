package runtime

import (
	"context"
	"errors"
	"testing"

	haieriot "github.com/baranwang/haier-iot"
)

func newDeviceTestClient(rest *fakeBatch) *Client {
	cache := NewModelCache(nil, testLogger())
	cache.Set("dev1", sampleModel(), haieriot.SourceREST)
	cache.Set("dev2", &haieriot.DevDigitalModel{Attributes: []haieriot.Property{{Name: "alarm", Value: "0", Readable: true}}}, haieriot.SourcePush)
	return &Client{
		log:        testLogger(),
		cache:      cache,
		dispatcher: NewDispatcher(&fakePush{}, rest, cache, nil, testLogger()),
	}
}

func TestDeviceGetAttribute(t *testing.T) {
	c := newDeviceTestClient(&fakeBatch{})
	d := c.Device("dev1")
	if v, ok := d.GetAttribute("targetTemp"); !ok || v != "24" {
		t.Fatalf("targetTemp = %q, %v", v, ok)
	}
	if _, ok := d.GetAttribute("missing"); ok {
		t.Fatalf("missing attribute reported present")
	}
	if _, ok := c.Device("unknown").GetAttribute("targetTemp"); ok {
		t.Fatalf("unknown device reported a value")
	}
}

func TestDeviceSetAttribute(t *testing.T) {
	rest := &fakeBatch{}
	c := newDeviceTestClient(rest)
	ctx := context.Background()

	if err := c.Device("dev1").SetAttribute(ctx, "targetTemp", "26"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(rest.batches) != 1 || rest.batches[0].CmdMsgList[0].CmdArgs["targetTemp"] != "26" {
		t.Fatalf("unexpected dispatch %+v", rest.batches)
	}
	if v, _ := c.Device("dev1").GetAttribute("targetTemp"); v != "26" {
		t.Fatalf("optimistic value = %s", v)
	}

	cases := []struct {
		dev, name, value string
		want             error
	}{
		{"dev1", "nope", "1", haieriot.ErrAttributeNotFound},
		{"dev2", "alarm", "1", haieriot.ErrNotWritable},
		{"dev1", "targetTemp", "99", haieriot.ErrInvalidParameter},
		{"dev1", "targetTemp", "warm", haieriot.ErrInvalidParameter},
		{"dev1", "operationMode", "7", haieriot.ErrInvalidParameter},
	}
	for _, tc := range cases {
		err := c.Device(tc.dev).SetAttribute(ctx, tc.name, tc.value)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s.%s=%s: expected %v, got %v", tc.dev, tc.name, tc.value, tc.want, err)
		}
	}
	if len(rest.batches) != 1 {
		t.Fatalf("rejected writes must not dispatch, got %d batches", len(rest.batches))
	}
}
