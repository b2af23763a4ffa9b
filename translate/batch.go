package translate

import (
	"fmt"
	"strconv"
	"strings"

	haieriot "github.com/baranwang/haier-iot"
)

var (
	errEmptyCommands = fmt.Errorf("%w: batch has no commands", haieriot.ErrInvalidParameter)
	errMissingDevice = fmt.Errorf("%w: batch missing device id", haieriot.ErrInvalidParameter)
	errMissingSN     = fmt.Errorf("%w: batch missing sn", haieriot.ErrInvalidParameter)
)

// CmdMsg is one ordered entry of a batch command.
type CmdMsg struct {
	SN           string           `json:"sn"`
	DeviceID     string           `json:"deviceId"`
	Index        int              `json:"index"`
	DelaySeconds int              `json:"delaySeconds"`
	CmdArgs      haieriot.Command `json:"cmdArgs"`
	SubSN        string           `json:"subSn"`
}

// HTTPBatch is the body of POST /stdudse/v1/sendbatchCmd/{deviceId}.
type HTTPBatch struct {
	SN         string   `json:"sn"`
	CmdMsgList []CmdMsg `json:"cmdMsgList"`
}

// PushBatch is the content of a BatchCmdReq push message.
type PushBatch struct {
	SN    string   `json:"sn"`
	Trace string   `json:"trace"`
	Data  []CmdMsg `json:"data"`
}

// BuildCmdMsgs tags each command with its position; the server applies them
// in index order.
func BuildCmdMsgs(sn, deviceID string, commands []haieriot.Command) ([]CmdMsg, error) {
	if strings.TrimSpace(sn) == "" {
		return nil, errMissingSN
	}
	if strings.TrimSpace(deviceID) == "" {
		return nil, errMissingDevice
	}
	if len(commands) == 0 {
		return nil, errEmptyCommands
	}
	out := make([]CmdMsg, 0, len(commands))
	for i, cmd := range commands {
		if len(cmd) == 0 {
			return nil, haieriot.ErrInvalidParameter
		}
		for name := range cmd {
			if name == "" {
				return nil, haieriot.ErrInvalidParameter
			}
		}
		out = append(out, CmdMsg{
			SN:       sn,
			DeviceID: deviceID,
			Index:    i,
			CmdArgs:  cmd,
			SubSN:    sn + ":" + strconv.Itoa(i),
		})
	}
	return out, nil
}

func BuildHTTPBatch(sn, deviceID string, commands []haieriot.Command) (*HTTPBatch, error) {
	msgs, err := BuildCmdMsgs(sn, deviceID, commands)
	if err != nil {
		return nil, err
	}
	return &HTTPBatch{SN: sn, CmdMsgList: msgs}, nil
}

func BuildPushBatch(sn, trace, deviceID string, commands []haieriot.Command) (*PushBatch, error) {
	msgs, err := BuildCmdMsgs(sn, deviceID, commands)
	if err != nil {
		return nil, err
	}
	return &PushBatch{SN: sn, Trace: trace, Data: msgs}, nil
}
