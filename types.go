package haieriot

import (
	"encoding/json"
	"strconv"
	"time"
)

// TokenInfo is the session returned by the login endpoint. ExpiresAt is derived
// locally (request timestamp + ExpiresIn seconds) and is in epoch milliseconds.
type TokenInfo struct {
	AccountToken string `json:"accountToken"`
	AccessToken  string `json:"uhomeAccessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	UhomeUserID  string `json:"uhomeUserId"`
	UocUserID    string `json:"uocUserId"`
	ExpiresIn    int64  `json:"expiresIn"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// Valid reports whether the token can still be used at now.
func (t *TokenInfo) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.UnixMilli() < t.ExpiresAt
}

type FamilyInfo struct {
	FamilyID   string `json:"familyId"`
	FamilyName string `json:"familyName"`
}

type DeviceInfo struct {
	BaseInfo     DeviceBaseInfo     `json:"baseInfo"`
	ExtendedInfo DeviceExtendedInfo `json:"extendedInfo"`
}

type DeviceBaseInfo struct {
	DeviceID       string           `json:"deviceId"`
	DeviceName     string           `json:"deviceName"`
	DevName        string           `json:"devName,omitempty"`
	BindTime       string           `json:"bindTime,omitempty"`
	DeviceType     string           `json:"deviceType,omitempty"`
	FamilyID       string           `json:"familyId,omitempty"`
	OwnerID        string           `json:"ownerId,omitempty"`
	Permission     DevicePermission `json:"permission"`
	IsOnline       bool             `json:"isOnline"`
	DeviceNetType  string           `json:"deviceNetType,omitempty"`
	SubDeviceIDs   *string          `json:"subDeviceIds,omitempty"`
	ParentDeviceID *string          `json:"parentsDeviceId,omitempty"`
}

type DevicePermission struct {
	Auth struct {
		Control bool `json:"control"`
		Set     bool `json:"set"`
		View    bool `json:"view"`
	} `json:"auth"`
	AuthType string `json:"authType,omitempty"`
}

type DeviceExtendedInfo struct {
	Brand            string  `json:"brand"`
	Model            string  `json:"model"`
	ProdNo           string  `json:"prodNo,omitempty"`
	Room             string  `json:"room"`
	RoomID           string  `json:"roomId,omitempty"`
	ApptypeCode      string  `json:"apptypeCode,omitempty"`
	ApptypeName      string  `json:"apptypeName,omitempty"`
	CategoryGrouping string  `json:"categoryGrouping"`
	BindType         *string `json:"bindType"`
	ConfigType       string  `json:"configType,omitempty"`
	ImageAddr1       string  `json:"imageAddr1,omitempty"`
}

// DisplayName is "<room> - <deviceName>".
func (d DeviceInfo) DisplayName() string {
	return d.ExtendedInfo.Room + " - " + d.BaseInfo.DeviceName
}

// Controllable reports whether the account may control the device and the
// device supports cloud control.
func (d DeviceInfo) Controllable() bool {
	if !d.BaseInfo.Permission.Auth.Control {
		return false
	}
	return d.ExtendedInfo.BindType != nil && *d.ExtendedInfo.BindType != ""
}

// DevDigitalModel is the server-side snapshot of a device's attributes.
type DevDigitalModel struct {
	Attributes []Property        `json:"attributes"`
	Alarms     []json.RawMessage `json:"alarms"`
}

// Property returns the attribute with the given name.
func (m *DevDigitalModel) Property(name string) (*Property, bool) {
	if m == nil {
		return nil, false
	}
	for i := range m.Attributes {
		if m.Attributes[i].Name == name {
			return &m.Attributes[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so callers never share attribute slices with the cache.
func (m *DevDigitalModel) Clone() *DevDigitalModel {
	if m == nil {
		return nil
	}
	out := &DevDigitalModel{
		Attributes: make([]Property, len(m.Attributes)),
		Alarms:     append([]json.RawMessage(nil), m.Alarms...),
	}
	for i, p := range m.Attributes {
		p.ValueRange.DataList = append([]ListItem(nil), p.ValueRange.DataList...)
		if p.ValueRange.DataStep != nil {
			step := *p.ValueRange.DataStep
			p.ValueRange.DataStep = &step
		}
		out.Attributes[i] = p
	}
	return out
}

// Values flattens the model into name -> value.
func (m *DevDigitalModel) Values() map[string]string {
	out := make(map[string]string, len(m.Attributes))
	for _, p := range m.Attributes {
		out[p.Name] = p.Value
	}
	return out
}

type Property struct {
	Name          string     `json:"name"`
	Value         string     `json:"value"`
	DefaultValue  string     `json:"defaultValue,omitempty"`
	Desc          string     `json:"desc"`
	Readable      bool       `json:"readable"`
	Writable      bool       `json:"writable"`
	Invisible     bool       `json:"invisible,omitempty"`
	OperationType string     `json:"operationType,omitempty"`
	ValueRange    ValueRange `json:"valueRange"`
}

type ValueRangeType string

const (
	ValueRangeStep ValueRangeType = "STEP"
	ValueRangeList ValueRangeType = "LIST"
)

// ValueRange is tagged by Type: STEP uses DataStep, LIST uses DataList.
type ValueRange struct {
	Type     ValueRangeType `json:"type"`
	DataStep *DataStep      `json:"dataStep,omitempty"`
	DataList []ListItem     `json:"dataList,omitempty"`
}

type DataStep struct {
	DataType string `json:"dataType,omitempty"`
	MinValue string `json:"minValue"`
	MaxValue string `json:"maxValue"`
	Step     string `json:"step"`
}

type ListItem struct {
	Data string `json:"data"`
	Desc string `json:"desc"`
}

// DescribeValue returns the LIST description for v, or v itself.
func (p Property) DescribeValue(v string) string {
	if p.ValueRange.Type != ValueRangeList {
		return v
	}
	for _, item := range p.ValueRange.DataList {
		if item.Data == v && item.Desc != "" {
			return item.Desc
		}
	}
	return v
}

// Accepts reports whether v lies within the property's value range. Unknown
// or unparsable ranges accept everything.
func (p Property) Accepts(v string) bool {
	switch p.ValueRange.Type {
	case ValueRangeList:
		if len(p.ValueRange.DataList) == 0 {
			return true
		}
		for _, item := range p.ValueRange.DataList {
			if item.Data == v {
				return true
			}
		}
		return false
	case ValueRangeStep:
		s := p.ValueRange.DataStep
		if s == nil {
			return true
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return false
		}
		if lo, err := strconv.ParseFloat(s.MinValue, 64); err == nil && n < lo {
			return false
		}
		if hi, err := strconv.ParseFloat(s.MaxValue, 64); err == nil && n > hi {
			return false
		}
		return true
	}
	return true
}

// Command is one ordered set of attribute writes inside a batch.
type Command map[string]string

type EventKind string

const (
	EventDevDigitalModelUpdate EventKind = "devDigitalModelUpdate"
)

type UpdateSource string

const (
	SourceREST       UpdateSource = "rest"
	SourcePush       UpdateSource = "push"
	SourceOptimistic UpdateSource = "optimistic"
)

type Event struct {
	Kind       EventKind
	DeviceID   string
	OccurredAt time.Time
	Source     UpdateSource
	Model      *DevDigitalModel
}

type EventSubscription interface {
	C() <-chan Event
	Close() error
}
