package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Message is an inbound relay payload. Only the fields the client acts on
// are decoded; Raw keeps the full object for logging.
type Message struct {
	Cmd       int      `json:"cmd"`
	Serial    uint32   `json:"serial"`
	Status    int      `json:"status"`
	Key       string   `json:"key"`
	UserID    FlexText `json:"userId"`
	Msg       string   `json:"msg"`
	DeviceID  string   `json:"deviceId"`
	UID       string   `json:"uid"`
	RespByAcc FlexBool `json:"respByAcc"`
	Value1    *int     `json:"value1"`
	Value2    *int     `json:"value2"`
	Value3    *int     `json:"value3"`
	Value4    *int     `json:"value4"`

	Raw map[string]any `json:"-"`
}

// ParseMessage decodes a decrypted JSON payload. A payload without a cmd
// field is a protocol error.
func ParseMessage(data []byte) (*Message, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON payload: %v", ErrProtocol, err)
	}
	if _, ok := raw["cmd"]; !ok {
		return nil, fmt.Errorf("%w: payload has no cmd field", ErrProtocol)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid payload fields: %v", ErrProtocol, err)
	}
	msg.Raw = raw
	return &msg, nil
}

// Has reports whether the payload carried the named field.
func (m *Message) Has(field string) bool {
	_, ok := m.Raw[field]
	return ok
}

// Values returns value1..value4 with the relay's defaults for absent fields
// (value1 defaults to 1, meaning off; the rest to 0).
func (m *Message) Values() (v1, v2, v3, v4 int) {
	return intOr(m.Value1, 1), intOr(m.Value2, 0), intOr(m.Value3, 0), intOr(m.Value4, 0)
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// FlexBool accepts JSON booleans as well as 0/1 numbers and "true"/"1" strings.
type FlexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true", "1", `"true"`, `"1"`:
		*b = true
	case "false", "0", `"false"`, `"0"`, "null", `""`:
		*b = false
	default:
		return fmt.Errorf("cannot decode %s as bool", data)
	}
	return nil
}

// FlexText accepts JSON strings and numbers.
type FlexText string

// UnmarshalJSON implements json.Unmarshaler.
func (t *FlexText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = FlexText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("cannot decode %s as text", data)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*t = FlexText(n.String())
	return nil
}

// String returns a debug representation of the message
func (m *Message) String() string {
	return fmt.Sprintf("Message{cmd=%d(%s), serial=%d, status=%d, device=%q, uid=%q}",
		m.Cmd, CommandName(m.Cmd), m.Serial, m.Status, m.DeviceID, m.UID)
}
