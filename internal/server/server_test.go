package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	haieriot "github.com/baranwang/haier-iot"
)

type panicBackend struct{}

func (panicBackend) GetFamilyList(context.Context) ([]haieriot.FamilyInfo, error) {
	panic("boom")
}

func (panicBackend) GetDevicesByFamilyID(context.Context, string) ([]haieriot.DeviceInfo, error) {
	return nil, nil
}

func (panicBackend) GetDevDigitalModel(context.Context, string) (*haieriot.DevDigitalModel, error) {
	return nil, haieriot.ErrDeviceNotFound
}

func (panicBackend) SendCommands(context.Context, string, ...haieriot.Command) error { return nil }

func (panicBackend) SetAttribute(context.Context, string, string, string) error { return nil }

func TestStartAPIServerRequiresBackend(t *testing.T) {
	if _, _, err := StartAPIServer(context.Background(), APIConfig{}); !errors.Is(err, ErrNilBackend) {
		t.Fatalf("expected ErrNilBackend, got %v", err)
	}
}

func TestRouterRecoversPanics(t *testing.T) {
	h := NewRouter(APIConfig{Backend: panicBackend{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/families", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestStartAPIServerServesAndStops(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, errCh, err := StartAPIServer(ctx, APIConfig{ListenAddr: addr, Backend: panicBackend{}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get("http://" + addr + "/healthz"); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("server error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
