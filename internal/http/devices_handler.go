package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	haieriot "github.com/baranwang/haier-iot"
)

// Backend is the slice of the IoT client the local API needs.
type Backend interface {
	GetFamilyList(ctx context.Context) ([]haieriot.FamilyInfo, error)
	GetDevicesByFamilyID(ctx context.Context, familyID string) ([]haieriot.DeviceInfo, error)
	GetDevDigitalModel(ctx context.Context, deviceID string) (*haieriot.DevDigitalModel, error)
	SendCommands(ctx context.Context, deviceID string, commands ...haieriot.Command) error
	SetAttribute(ctx context.Context, deviceID, name, value string) error
}

// API serves family, device and model queries plus command writes.
type API struct {
	Backend Backend
	Log     logrus.FieldLogger
}

func NewAPI(b Backend, log logrus.FieldLogger) *API {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &API{Backend: b, Log: log.WithField("component", "api")}
}

// Register mounts the API routes on r.
func (a *API) Register(r chi.Router) {
	r.Get("/healthz", a.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/families", a.Families)
		r.Get("/families/{familyId}/devices", a.FamilyDevices)
		r.Route("/devices/{deviceId}", func(r chi.Router) {
			r.Get("/model", a.Model)
			r.Post("/commands", a.Commands)
			r.Get("/attributes/{name}", a.Attribute)
			r.Put("/attributes/{name}", a.SetAttribute)
		})
	})
}

// DeviceSummary is one entry of the device listing.
type DeviceSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Room         string `json:"room"`
	Category     string `json:"category"`
	Online       bool   `json:"online"`
	Controllable bool   `json:"controllable"`
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// Families handles GET /api/families.
func (a *API) Families(w http.ResponseWriter, r *http.Request) {
	fams, err := a.Backend.GetFamilyList(r.Context())
	if err != nil {
		a.fail(w, "list families", err)
		return
	}
	writeJSON(w, http.StatusOK, fams)
}

// FamilyDevices handles GET /api/families/{familyId}/devices.
func (a *API) FamilyDevices(w http.ResponseWriter, r *http.Request) {
	familyID := chi.URLParam(r, "familyId")
	devs, err := a.Backend.GetDevicesByFamilyID(r.Context(), familyID)
	if err != nil {
		a.fail(w, "list devices", err)
		return
	}
	out := struct {
		Devices []DeviceSummary `json:"devices"`
		Count   int             `json:"count"`
	}{Devices: make([]DeviceSummary, 0, len(devs))}
	for _, d := range devs {
		out.Devices = append(out.Devices, DeviceSummary{
			ID:           d.BaseInfo.DeviceID,
			Name:         d.DisplayName(),
			Room:         d.ExtendedInfo.Room,
			Category:     d.ExtendedInfo.CategoryGrouping,
			Online:       d.BaseInfo.IsOnline,
			Controllable: d.Controllable(),
		})
	}
	out.Count = len(out.Devices)
	writeJSON(w, http.StatusOK, out)
}

// Model handles GET /api/devices/{deviceId}/model.
func (a *API) Model(w http.ResponseWriter, r *http.Request) {
	m, err := a.Backend.GetDevDigitalModel(r.Context(), chi.URLParam(r, "deviceId"))
	if err != nil {
		a.fail(w, "get model", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Attribute handles GET /api/devices/{deviceId}/attributes/{name}.
func (a *API) Attribute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m, err := a.Backend.GetDevDigitalModel(r.Context(), chi.URLParam(r, "deviceId"))
	if err != nil {
		a.fail(w, "get attribute", err)
		return
	}
	p, ok := m.Property(name)
	if !ok {
		a.fail(w, "get attribute", haieriot.ErrAttributeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":     p.Name,
		"value":    p.Value,
		"desc":     p.Desc,
		"display":  p.DescribeValue(p.Value),
		"writable": p.Writable,
	})
}

// Commands handles POST /api/devices/{deviceId}/commands with a JSON array
// of {attribute: value} objects applied in order.
func (a *API) Commands(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	var cmds []haieriot.Command
	if err := json.NewDecoder(r.Body).Decode(&cmds); err != nil {
		http.Error(w, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.Backend.SendCommands(r.Context(), deviceID, cmds...); err != nil {
		a.fail(w, "send commands", err)
		return
	}
	a.Log.WithFields(logrus.Fields{"device": deviceID, "commands": len(cmds)}).Info("commands sent")
	w.WriteHeader(http.StatusAccepted)
}

// SetAttribute handles PUT /api/devices/{deviceId}/attributes/{name} with
// body {"value": "..."}.
func (a *API) SetAttribute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value *string `json:"value"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		http.Error(w, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.Value == nil {
		http.Error(w, "Missing required field: value", http.StatusBadRequest)
		return
	}
	deviceID, name := chi.URLParam(r, "deviceId"), chi.URLParam(r, "name")
	if err := a.Backend.SetAttribute(r.Context(), deviceID, name, *body.Value); err != nil {
		a.fail(w, "set attribute", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) fail(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	entry := a.Log.WithError(err).WithField("op", op)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	http.Error(w, err.Error(), status)
}

// StatusFor maps client errors onto HTTP status codes.
func StatusFor(err error) int {
	var (
		authErr *haieriot.AuthError
		apiErr  *haieriot.APIError
	)
	switch {
	case errors.Is(err, haieriot.ErrDeviceNotFound), errors.Is(err, haieriot.ErrAttributeNotFound):
		return http.StatusNotFound
	case errors.Is(err, haieriot.ErrNotWritable), errors.Is(err, haieriot.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	writeCORS(w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}
