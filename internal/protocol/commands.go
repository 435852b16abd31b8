package protocol

import (
	"sync/atomic"
	"time"
)

// Command codes. These are the relay's fixed numbering and must not change.
const (
	CmdHello       = 0
	CmdLogin       = 2
	CmdHandshake   = 6
	CmdControl     = 15
	CmdHeartbeat   = 32
	CmdStateUpdate = 42
)

// Client identification sent with hello.
const (
	ClientSource          = "ZhiJia365"
	ClientSoftwareVersion = "4.5.0.300"
	ClientSysVersion      = "Android"
	ClientHardwareVersion = "go"
	ClientLanguage        = "chinese"
)

// loginTypeUser selects password login for an account.
const loginTypeUser = 4

var serialCounter atomic.Uint32

func init() {
	serialCounter.Store(uint32(time.Now().Unix()))
}

// NextSerial returns a process-unique request serial.
func NextSerial() uint32 {
	return serialCounter.Add(1)
}

// CommandName returns a human-readable name for a command code
func CommandName(cmd int) string {
	switch cmd {
	case CmdHello:
		return "hello"
	case CmdLogin:
		return "login"
	case CmdHandshake:
		return "handshake"
	case CmdControl:
		return "control"
	case CmdHeartbeat:
		return "heartbeat"
	case CmdStateUpdate:
		return "state_update"
	default:
		return "unknown"
	}
}

// HelloRequest asks the relay for a session id and key.
type HelloRequest struct {
	Cmd             int    `json:"cmd"`
	Serial          uint32 `json:"serial"`
	Source          string `json:"source"`
	SoftwareVersion string `json:"softwareVersion"`
	SysVersion      string `json:"sysVersion"`
	HardwareVersion string `json:"hardwareVersion"`
	Language        string `json:"language"`
	ClientType      int    `json:"clientType"`
}

// LoginRequest authenticates the session. Password is the MD5 hex digest.
type LoginRequest struct {
	Cmd      int    `json:"cmd"`
	Serial   uint32 `json:"serial"`
	UserName string `json:"userName"`
	Password string `json:"password"`
	FamilyID string `json:"familyId"`
	Type     int    `json:"type"`
}

// ControlRequest sets device values through the control command.
type ControlRequest struct {
	Cmd              int    `json:"cmd"`
	Serial           uint32 `json:"serial"`
	UserName         string `json:"userName"`
	UID              string `json:"uid"`
	DeviceID         string `json:"deviceId"`
	Order            string `json:"order"`
	Value1           int    `json:"value1"`
	Value2           int    `json:"value2"`
	Value3           int    `json:"value3"`
	Value4           int    `json:"value4"`
	DelayTime        int    `json:"delayTime"`
	QualityOfService int    `json:"qualityOfService"`
	DefaultResponse  int    `json:"defaultResponse"`
}

// StateUpdateRequest reports device values through the state update command.
// Ventilation units only carry value1.
type StateUpdateRequest struct {
	Cmd       int    `json:"cmd"`
	Serial    uint32 `json:"serial"`
	UserName  string `json:"userName"`
	UID       string `json:"uid"`
	DeviceID  string `json:"deviceId"`
	StateType int    `json:"statusType"`
	Value1    int    `json:"value1"`
	Value2    *int   `json:"value2,omitempty"`
	Value3    *int   `json:"value3,omitempty"`
	Value4    *int   `json:"value4,omitempty"`
}

// HeartbeatRequest keeps the session alive.
type HeartbeatRequest struct {
	Cmd    int    `json:"cmd"`
	Serial uint32 `json:"serial"`
	UTC    int64  `json:"utc"`
}

// BuildHello constructs the anonymous hello request.
func BuildHello() *HelloRequest {
	return &HelloRequest{
		Cmd:             CmdHello,
		Serial:          NextSerial(),
		Source:          ClientSource,
		SoftwareVersion: ClientSoftwareVersion,
		SysVersion:      ClientSysVersion,
		HardwareVersion: ClientHardwareVersion,
		Language:        ClientLanguage,
		ClientType:      1,
	}
}

// BuildLogin constructs the login request sent under the session key.
func BuildLogin(username, passwordMD5, familyID string) *LoginRequest {
	return &LoginRequest{
		Cmd:      CmdLogin,
		Serial:   NextSerial(),
		UserName: username,
		Password: passwordMD5,
		FamilyID: familyID,
		Type:     loginTypeUser,
	}
}

// BuildControl constructs a control request. state is value1; 0 means on
// for switches and air conditioners.
func BuildControl(username, deviceID, uid string, state, value2, value3, value4 int) *ControlRequest {
	order := "on"
	if state == 1 {
		order = "off"
	}
	return &ControlRequest{
		Cmd:              CmdControl,
		Serial:           NextSerial(),
		UserName:         username,
		UID:              uid,
		DeviceID:         deviceID,
		Order:            order,
		Value1:           state,
		Value2:           value2,
		Value3:           value3,
		Value4:           value4,
		QualityOfService: 1,
		DefaultResponse:  1,
	}
}

// BuildAirConditionerStateUpdate constructs a full four-value state update.
func BuildAirConditionerStateUpdate(username, deviceID, uid string, value1, value2, value3, value4 int) *StateUpdateRequest {
	return &StateUpdateRequest{
		Cmd:      CmdStateUpdate,
		Serial:   NextSerial(),
		UserName: username,
		UID:      uid,
		DeviceID: deviceID,
		Value1:   value1,
		Value2:   &value2,
		Value3:   &value3,
		Value4:   &value4,
	}
}

// BuildVentilationStateUpdate constructs a value1-only state update.
func BuildVentilationStateUpdate(username, deviceID, uid string, value1 int) *StateUpdateRequest {
	return &StateUpdateRequest{
		Cmd:      CmdStateUpdate,
		Serial:   NextSerial(),
		UserName: username,
		UID:      uid,
		DeviceID: deviceID,
		Value1:   value1,
	}
}

// BuildHeartbeat constructs a heartbeat stamped with the current time.
func BuildHeartbeat() *HeartbeatRequest {
	return &HeartbeatRequest{
		Cmd:    CmdHeartbeat,
		Serial: NextSerial(),
		UTC:    time.Now().Unix(),
	}
}
