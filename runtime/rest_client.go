package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	haieriot "github.com/baranwang/haier-iot"
	"github.com/baranwang/haier-iot/signing"
	"github.com/baranwang/haier-iot/translate"
)

const (
	successCode = "00000"

	loginPath        = "/oauthserver/account/v1/login"
	familyListPath   = "/api-gw/wisdomfamily/family/v4/family/list"
	familyDevicePath = "/api-gw/wisdomdevice/applent/device/v2/family/devices"
	digitalModelPath = "/shadow/v1/devdigitalmodels"
	batchCmdPath     = "/stdudse/v1/sendbatchCmd/"
	assignPath       = "/gmsWS/wsag/assign"
)

// AccessTokenSource yields a valid access token, logging in when needed.
type AccessTokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// RESTClient signs every request and unwraps the {retCode, retInfo, data}
// envelope. Account and family calls go to BaseURL; shadow, command and
// websocket assignment calls go to UWSBaseURL.
type RESTClient struct {
	client     *http.Client
	baseURL    string
	uwsBaseURL string
	app        haieriot.AppConfig
	language   string
	timezone   string
	clientID   string
	username   string
	password   string

	tokens AccessTokenSource
	clock  clock.Clock
	log    logrus.FieldLogger
}

// RESTOptions configures a new client.
type RESTOptions struct {
	BaseURL    string
	UWSBaseURL string
	App        haieriot.AppConfig
	Language   string
	Timezone   string
	ClientID   string
	Username   string
	Password   string

	Client         *http.Client
	RequestTimeout time.Duration
	Tokens         AccessTokenSource
	Clock          clock.Clock
	Logger         logrus.FieldLogger
}

// NewRESTClient builds a RESTClient.
func NewRESTClient(o RESTOptions) (*RESTClient, error) {
	if o.BaseURL == "" {
		return nil, errors.New("BaseURL required")
	}
	if o.UWSBaseURL == "" {
		return nil, errors.New("UWSBaseURL required")
	}
	if o.ClientID == "" {
		return nil, errors.New("ClientID required")
	}
	c := o.Client
	if c == nil {
		c = &http.Client{Timeout: func() time.Duration {
			if o.RequestTimeout > 0 {
				return o.RequestTimeout
			}
			return 15 * time.Second
		}()}
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return &RESTClient{
		client:     c,
		baseURL:    strings.TrimRight(o.BaseURL, "/"),
		uwsBaseURL: strings.TrimRight(o.UWSBaseURL, "/"),
		app:        o.App,
		language:   o.Language,
		timezone:   o.Timezone,
		clientID:   o.ClientID,
		username:   o.Username,
		password:   o.Password,
		tokens:     o.Tokens,
		clock:      o.Clock,
		log:        o.Logger.WithField("component", "rest"),
	}, nil
}

// SetTokenSource wires the token provider used for every call except login.
func (a *RESTClient) SetTokenSource(ts AccessTokenSource) { a.tokens = ts }

type envelope struct {
	RetCode string          `json:"retCode"`
	RetInfo string          `json:"retInfo"`
	Data    json.RawMessage `json:"data"`
}

// do issues a signed request. It returns the raw response body after the
// envelope check plus the timestamp the request was signed with.
func (a *RESTClient) do(ctx context.Context, method, endpoint string, body interface{}, anonymous bool) ([]byte, int64, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, 0, err
	}
	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return nil, 0, err
		}
	}

	var accessToken string
	if !anonymous {
		if a.tokens == nil {
			return nil, 0, &haieriot.AuthError{Err: errors.New("no token source")}
		}
		if accessToken, err = a.tokens.AccessToken(ctx); err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	now := a.clock.Now()
	timestamp := now.UnixMilli()
	pathAndQuery := u.EscapedPath()
	if u.RawQuery != "" {
		pathAndQuery += "?" + u.RawQuery
	}

	h := req.Header
	h.Set("Accept", "*/*")
	h.Set("appId", a.app.ID)
	h.Set("appKey", a.app.Key)
	h.Set("appVersion", a.app.Version)
	h.Set("clientId", a.clientID)
	h.Set("language", a.language)
	h.Set("timezone", a.timezone)
	h.Set("User-Agent", a.app.UserAgent)
	if body != nil {
		h.Set("Content-Type", "application/json")
	}
	if !anonymous {
		h.Set("accessToken", accessToken)
	}
	h.Set("timestamp", strconv.FormatInt(timestamp, 10))
	h.Set("sequenceId", signing.SequenceID(now))
	h.Set("sign", signing.Sign(pathAndQuery, string(payload), a.app.ID, a.app.Key, timestamp))

	a.log.WithFields(logrus.Fields{"method": method, "url": u.String()}).Debug("request")

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.WithError(err).WithField("endpoint", u.Path).Error("response error")
		return nil, 0, &haieriot.TransportError{Endpoint: u.Path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &haieriot.TransportError{Endpoint: u.Path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, &haieriot.TransportError{Endpoint: u.Path, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, fmt.Errorf("%s: %w: %v", u.Path, haieriot.ErrDecode, err)
	}
	if env.RetCode != successCode {
		a.log.WithFields(logrus.Fields{"endpoint": u.Path, "retCode": env.RetCode, "retInfo": env.RetInfo}).Error("response")
		return nil, 0, &haieriot.APIError{Endpoint: u.Path, RetCode: env.RetCode, RetInfo: env.RetInfo}
	}
	return raw, timestamp, nil
}

// data decodes the envelope's data field into out.
func data(endpoint string, raw []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: %w: %v", endpoint, haieriot.ErrDecode, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: %w: %v", endpoint, haieriot.ErrDecode, err)
	}
	return nil
}

// Login exchanges the configured credentials for a token. ExpiresAt is the
// signing timestamp plus ExpiresIn seconds.
func (a *RESTClient) Login(ctx context.Context) (*haieriot.TokenInfo, error) {
	if a.username == "" || a.password == "" {
		return nil, haieriot.ErrMissingCredentials
	}
	body := map[string]string{
		"username":  a.username,
		"password":  a.password,
		"phoneType": a.app.PhoneType,
	}
	raw, ts, err := a.do(ctx, http.MethodPost, a.baseURL+loginPath, body, true)
	if err != nil {
		return nil, err
	}
	var out struct {
		TokenInfo *haieriot.TokenInfo `json:"tokenInfo"`
	}
	if err := data(loginPath, raw, &out); err != nil {
		return nil, err
	}
	if out.TokenInfo == nil || out.TokenInfo.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w: missing tokenInfo", loginPath, haieriot.ErrDecode)
	}
	out.TokenInfo.ExpiresAt = ts + out.TokenInfo.ExpiresIn*1000
	return out.TokenInfo, nil
}

// GetFamilyList returns created families followed by joined ones.
func (a *RESTClient) GetFamilyList(ctx context.Context) ([]haieriot.FamilyInfo, error) {
	raw, _, err := a.do(ctx, http.MethodPost, a.baseURL+familyListPath, struct{}{}, false)
	if err != nil {
		return nil, err
	}
	var out struct {
		Created []haieriot.FamilyInfo `json:"createfamilies"`
		Joined  []haieriot.FamilyInfo `json:"joinfamilies"`
	}
	if err := data(familyListPath, raw, &out); err != nil {
		return nil, err
	}
	families := make([]haieriot.FamilyInfo, 0, len(out.Created)+len(out.Joined))
	families = append(families, out.Created...)
	return append(families, out.Joined...), nil
}

func (a *RESTClient) GetDevicesByFamilyID(ctx context.Context, familyID string) ([]haieriot.DeviceInfo, error) {
	if familyID == "" {
		return nil, haieriot.ErrInvalidParameter
	}
	q := url.Values{}
	q.Set("familyId", familyID)
	raw, _, err := a.do(ctx, http.MethodGet, a.baseURL+familyDevicePath+"?"+q.Encode(), nil, false)
	if err != nil {
		return nil, err
	}
	var out struct {
		DeviceInfos []haieriot.DeviceInfo `json:"deviceinfos"`
	}
	if err := data(familyDevicePath, raw, &out); err != nil {
		return nil, err
	}
	if out.DeviceInfos == nil {
		out.DeviceInfos = []haieriot.DeviceInfo{}
	}
	return out.DeviceInfos, nil
}

// GetDevDigitalModel fetches the live model. The shadow service returns each
// model as a JSON string keyed by device id.
func (a *RESTClient) GetDevDigitalModel(ctx context.Context, deviceID string) (*haieriot.DevDigitalModel, error) {
	if deviceID == "" {
		return nil, haieriot.ErrInvalidParameter
	}
	body := map[string]interface{}{
		"deviceInfoList": []map[string]string{{"deviceId": deviceID}},
	}
	raw, _, err := a.do(ctx, http.MethodPost, a.uwsBaseURL+digitalModelPath, body, false)
	if err != nil {
		return nil, err
	}
	var out struct {
		DetailInfo map[string]string `json:"detailInfo"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", digitalModelPath, haieriot.ErrDecode, err)
	}
	detail, ok := out.DetailInfo[deviceID]
	if !ok || detail == "" {
		return nil, fmt.Errorf("%s: %w", deviceID, haieriot.ErrDeviceNotFound)
	}
	var model *haieriot.DevDigitalModel
	if err := json.Unmarshal([]byte(detail), &model); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", digitalModelPath, haieriot.ErrDecode, err)
	}
	if model == nil {
		return nil, fmt.Errorf("%s: %w: empty model for %s", digitalModelPath, haieriot.ErrDecode, deviceID)
	}
	return model, nil
}

// SendBatchCommand posts a batch over HTTP; used when the push channel is down.
func (a *RESTClient) SendBatchCommand(ctx context.Context, deviceID string, batch *translate.HTTPBatch) error {
	if deviceID == "" || batch == nil {
		return haieriot.ErrInvalidParameter
	}
	_, _, err := a.do(ctx, http.MethodPost, a.uwsBaseURL+batchCmdPath+url.PathEscape(deviceID), batch, false)
	return err
}

// AssignPushURL asks the gateway for a websocket address bound to the
// current token and client id.
func (a *RESTClient) AssignPushURL(ctx context.Context) (string, error) {
	if a.tokens == nil {
		return "", &haieriot.AuthError{Err: errors.New("no token source")}
	}
	accessToken, err := a.tokens.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	raw, _, err := a.do(ctx, http.MethodPost, a.uwsBaseURL+assignPath, struct{}{}, false)
	if err != nil {
		return "", err
	}
	var out struct {
		AgAddr string `json:"agAddr"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%s: %w: %v", assignPath, haieriot.ErrDecode, err)
	}
	if out.AgAddr == "" {
		return "", fmt.Errorf("%s: %w: empty agAddr", assignPath, haieriot.ErrDecode)
	}
	return pushURL(out.AgAddr, accessToken, a.clientID)
}

func pushURL(agAddr, accessToken, clientID string) (string, error) {
	if !strings.Contains(agAddr, "://") {
		agAddr = "wss://" + agAddr
	}
	u, err := url.Parse(agAddr)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path = "/userag"
	q := u.Query()
	q.Set("token", accessToken)
	q.Set("agClientId", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
