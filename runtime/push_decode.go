package runtime

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	haieriot "github.com/baranwang/haier-iot"
)

const (
	topicHeartBeat    = "HeartBeat"
	topicHeartBeatAck = "HeartBeatAck"
	topicGenMsgDown   = "GenMsgDown"
	topicBatchCmdReq  = "BatchCmdReq"
	topicBoundDevs    = "BoundDevs"

	businTypeDigitalModel = "DigitalModel"
)

type inboundFrame struct {
	Topic   string          `json:"topic"`
	Content json.RawMessage `json:"content"`
}

type outboundFrame struct {
	AgClientID string      `json:"agClientId"`
	Topic      string      `json:"topic"`
	Content    interface{} `json:"content"`
}

type genMsgDown struct {
	BusinType string `json:"businType"`
	Data      string `json:"data"`
}

type digitalModelEnvelope struct {
	Dev  string `json:"dev"`
	Args string `json:"args"`
}

type heartBeat struct {
	SN       string `json:"sn"`
	Duration int    `json:"duration"`
}

type boundDevs struct {
	Devs []string `json:"devs"`
}

func decodeFrame(b []byte) (*inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: frame: %v", haieriot.ErrDecode, err)
	}
	return &f, nil
}

// decodeDigitalModel unpacks base64(JSON{dev, args: base64(gzip(JSON model))}).
func decodeDigitalModel(data string) (string, *haieriot.DevDigitalModel, error) {
	outer, err := decodeBase64(data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: data base64: %v", haieriot.ErrDecode, err)
	}
	var env digitalModelEnvelope
	if err := json.Unmarshal(outer, &env); err != nil {
		return "", nil, fmt.Errorf("%w: data json: %v", haieriot.ErrDecode, err)
	}
	if env.Dev == "" {
		return "", nil, fmt.Errorf("%w: missing dev", haieriot.ErrDecode)
	}
	compressed, err := decodeBase64(env.Args)
	if err != nil {
		return "", nil, fmt.Errorf("%w: args base64: %v", haieriot.ErrDecode, err)
	}
	plain, err := inflate(compressed)
	if err != nil {
		return "", nil, fmt.Errorf("%w: args inflate: %v", haieriot.ErrDecode, err)
	}
	var model *haieriot.DevDigitalModel
	if err := json.Unmarshal(plain, &model); err != nil {
		return "", nil, fmt.Errorf("%w: model json: %v", haieriot.ErrDecode, err)
	}
	if model == nil {
		return "", nil, fmt.Errorf("%w: empty model for %s", haieriot.ErrDecode, env.Dev)
	}
	return env.Dev, model, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// inflate accepts gzip and, for older gateways, zlib streams.
func inflate(b []byte) ([]byte, error) {
	var r io.ReadCloser
	var err error
	if len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b {
		r, err = gzip.NewReader(bytes.NewReader(b))
	} else {
		r, err = zlib.NewReader(bytes.NewReader(b))
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
