package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	haieriot "github.com/baranwang/haier-iot"
)

type fakeBackend struct {
	err      error
	sent     []haieriot.Command
	sentTo   string
	setName  string
	setValue string
}

func (f *fakeBackend) GetFamilyList(context.Context) ([]haieriot.FamilyInfo, error) {
	return []haieriot.FamilyInfo{{FamilyID: "f1", FamilyName: "Home"}}, f.err
}

func (f *fakeBackend) GetDevicesByFamilyID(_ context.Context, familyID string) ([]haieriot.DeviceInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	bind := "wifi"
	d := haieriot.DeviceInfo{}
	d.BaseInfo.DeviceID = "dev1"
	d.BaseInfo.DeviceName = "AC"
	d.BaseInfo.FamilyID = familyID
	d.BaseInfo.IsOnline = true
	d.BaseInfo.Permission.Auth.Control = true
	d.ExtendedInfo.Room = "Living"
	d.ExtendedInfo.CategoryGrouping = "空调"
	d.ExtendedInfo.BindType = &bind
	return []haieriot.DeviceInfo{d}, nil
}

func (f *fakeBackend) GetDevDigitalModel(_ context.Context, deviceID string) (*haieriot.DevDigitalModel, error) {
	if f.err != nil {
		return nil, f.err
	}
	if deviceID != "dev1" {
		return nil, haieriot.ErrDeviceNotFound
	}
	return &haieriot.DevDigitalModel{Attributes: []haieriot.Property{{
		Name: "operationMode", Value: "1", Desc: "mode", Writable: true,
		ValueRange: haieriot.ValueRange{Type: haieriot.ValueRangeList, DataList: []haieriot.ListItem{{Data: "1", Desc: "cool"}}},
	}}}, nil
}

func (f *fakeBackend) SendCommands(_ context.Context, deviceID string, commands ...haieriot.Command) error {
	if f.err != nil {
		return f.err
	}
	f.sentTo = deviceID
	f.sent = commands
	return nil
}

func (f *fakeBackend) SetAttribute(_ context.Context, deviceID, name, value string) error {
	if f.err != nil {
		return f.err
	}
	f.sentTo, f.setName, f.setValue = deviceID, name, value
	return nil
}

func newRouter(b Backend) http.Handler {
	l := logrus.New()
	l.SetOutput(io.Discard)
	r := chi.NewRouter()
	NewAPI(b, l).Register(r)
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	h.ServeHTTP(rr, httptest.NewRequest(method, path, rd))
	return rr
}

func TestHealth(t *testing.T) {
	rr := serve(newRouter(&fakeBackend{}), "GET", "/healthz", "")
	if rr.Code != 200 {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestFamilyDevices(t *testing.T) {
	rr := serve(newRouter(&fakeBackend{}), "GET", "/api/families/f1/devices", "")
	if rr.Code != 200 {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var out struct {
		Devices []DeviceSummary `json:"devices"`
		Count   int             `json:"count"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 1 || out.Devices[0].Name != "Living - AC" || !out.Devices[0].Controllable {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestAttribute(t *testing.T) {
	h := newRouter(&fakeBackend{})
	rr := serve(h, "GET", "/api/devices/dev1/attributes/operationMode", "")
	if rr.Code != 200 {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var out map[string]interface{}
	_ = json.NewDecoder(rr.Body).Decode(&out)
	if out["value"] != "1" || out["display"] != "cool" {
		t.Fatalf("unexpected body %v", out)
	}

	if rr := serve(h, "GET", "/api/devices/dev1/attributes/nope", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing attribute: expected 404 got %d", rr.Code)
	}
	if rr := serve(h, "GET", "/api/devices/other/model", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing device: expected 404 got %d", rr.Code)
	}
}

func TestCommandsKeepOrder(t *testing.T) {
	b := &fakeBackend{}
	rr := serve(newRouter(b), "POST", "/api/devices/dev1/commands", `[{"onOffStatus":"true"},{"targetTemp":"25"}]`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
	if b.sentTo != "dev1" || len(b.sent) != 2 || b.sent[0]["onOffStatus"] != "true" || b.sent[1]["targetTemp"] != "25" {
		t.Fatalf("unexpected dispatch %s %v", b.sentTo, b.sent)
	}
	if rr := serve(newRouter(b), "POST", "/api/devices/dev1/commands", `{"x":`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad payload: expected 400 got %d", rr.Code)
	}
}

func TestSetAttribute(t *testing.T) {
	b := &fakeBackend{}
	h := newRouter(b)
	if rr := serve(h, "PUT", "/api/devices/dev1/attributes/targetTemp", `{"value":"22"}`); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rr.Code)
	}
	if b.setName != "targetTemp" || b.setValue != "22" {
		t.Fatalf("unexpected set %s=%s", b.setName, b.setValue)
	}
	if rr := serve(h, "PUT", "/api/devices/dev1/attributes/targetTemp", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing value: expected 400 got %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	apiErr := &haieriot.APIError{Endpoint: "/x", RetCode: "1", RetInfo: "bad"}
	cases := []struct {
		err  error
		want int
	}{
		{haieriot.ErrDeviceNotFound, http.StatusNotFound},
		{haieriot.ErrAttributeNotFound, http.StatusNotFound},
		{haieriot.ErrNotWritable, http.StatusBadRequest},
		{haieriot.ErrInvalidParameter, http.StatusBadRequest},
		{apiErr, http.StatusBadGateway},
		{&haieriot.AuthError{Err: apiErr}, http.StatusUnauthorized},
		{&haieriot.TransportError{Endpoint: "/x", Err: errors.New("refused")}, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.want, got)
		}
	}

	rr := serve(newRouter(&fakeBackend{err: apiErr}), "GET", "/api/families", "")
	if rr.Code != http.StatusBadGateway || !strings.Contains(rr.Body.String(), "bad") {
		t.Fatalf("expected 502 with retInfo, got %d %s", rr.Code, rr.Body.String())
	}
}
