// Package devstate translates the relay's raw device values into semantic
// device state and back.
//
// Every device reports up to four integers. value1 is the power flag for
// switches and air conditioners (0 means on) and the combined power/speed
// preset for ventilation units. Air conditioners add the mode in value2, the
// fan speed in value3 and both temperatures packed into value4.
//
// The functions in this package are pure and safe for concurrent use.
package devstate

import (
	"fmt"
	"math"
)

// Raw is the value tuple carried by state updates and control commands.
type Raw struct {
	Value1 int `json:"value1"`
	Value2 int `json:"value2"`
	Value3 int `json:"value3"`
	Value4 int `json:"value4"`
}

// Status distinguishes a translated state from a device nothing is known about.
type Status int

const (
	// Unknown is the zero value: no state has been received for the device.
	Unknown Status = iota
	Known
)

func (s Status) String() string {
	if s == Known {
		return "known"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is the semantic state of one device. Fields that do not apply to the
// device type keep their zero ("none") values. Callers must check Status
// before trusting On: an Unknown state is not an off state.
type State struct {
	Status Status `json:"status"`
	Type   Type   `json:"type"`
	On     bool   `json:"on"`

	Mode  Mode  `json:"mode,omitempty"`
	Fan   Fan   `json:"fan,omitempty"`
	Speed Speed `json:"speed,omitempty"`

	// Temperatures in degrees Celsius, valid when HasTemperature is set.
	Target         float64 `json:"target,omitempty"`
	Current        float64 `json:"current,omitempty"`
	HasTemperature bool    `json:"has_temperature,omitempty"`

	Raw Raw `json:"raw"`
}

// Known reports whether the state was translated from real device values.
func (s State) Known() bool {
	return s.Status == Known
}

func (s State) String() string {
	if !s.Known() {
		return "unknown"
	}
	power := "off"
	if s.On {
		power = "on"
	}
	switch s.Type {
	case TypeAirConditioner:
		if s.HasTemperature {
			return fmt.Sprintf("%s mode=%s fan=%s target=%g current=%g", power, s.Mode, s.Fan, s.Target, s.Current)
		}
		return fmt.Sprintf("%s mode=%s fan=%s", power, s.Mode, s.Fan)
	case TypeVentilation:
		return fmt.Sprintf("%s speed=%s", power, s.Speed)
	default:
		return power
	}
}

// Raw value constants.
const (
	PowerOn  = 0
	PowerOff = 1

	VentSlow = 0
	VentStop = 50
	VentFast = 100
)

var acModes = map[int]Mode{
	2: ModeDry,
	3: ModeCool,
	4: ModeHeat,
	7: ModeFanOnly,
}

var acFans = map[int]Fan{
	1: FanLow,
	2: FanMedium,
	3: FanHigh,
}

// Translate maps raw values to a known semantic state for the device type.
func Translate(t Type, r Raw) State {
	st := State{Status: Known, Type: t, Raw: r}

	switch t {
	case TypeAirConditioner:
		st.On = r.Value1 == PowerOn
		switch mode, ok := acModes[r.Value2]; {
		case !st.On:
			st.Mode = ModeOff
		case ok:
			st.Mode = mode
		default:
			st.Mode = ModeUnknown
		}
		if fan, ok := acFans[r.Value3]; ok {
			st.Fan = fan
		} else {
			st.Fan = FanUnknown
		}
		if r.Value4 > 0 {
			st.Target, st.Current = DecodeTemperature(r.Value4)
			st.HasTemperature = true
		}

	case TypeVentilation:
		switch r.Value1 {
		case VentSlow:
			st.On, st.Speed = true, SpeedSlow
		case VentStop:
			st.On, st.Speed = false, SpeedStop
		case VentFast:
			st.On, st.Speed = true, SpeedFast
		default:
			// Unverified vendor behaviour: anything but the stop preset is
			// reported as running.
			st.On, st.Speed = r.Value1 != VentStop, SpeedUnknown
		}

	default:
		st.On = r.Value1 == PowerOn
	}

	return st
}

// DecodeTemperature unpacks value4: the high 16 bits are target×100, the low
// 16 bits are current×100.
func DecodeTemperature(value4 int) (target, current float64) {
	v := uint32(value4)
	return float64(v>>16) / 100, float64(v&0xFFFF) / 100
}

// EncodeTemperature packs target and current temperatures into value4.
// It is the exact inverse of DecodeTemperature for values with at most two
// decimal places.
func EncodeTemperature(target, current float64) int {
	t := uint32(math.Round(target*100)) & 0xFFFF
	c := uint32(math.Round(current*100)) & 0xFFFF
	return int(t<<16 | c)
}

// ModeValue returns the value2 code for an air conditioner mode. ModeOff has
// no code of its own: the unit is switched off through value1.
func ModeValue(m Mode) (int, bool) {
	for v, mode := range acModes {
		if mode == m {
			return v, true
		}
	}
	return 0, false
}

// FanValue returns the value3 code for a fan speed.
func FanValue(f Fan) (int, bool) {
	for v, fan := range acFans {
		if fan == f {
			return v, true
		}
	}
	return 0, false
}

// PresetValue returns the value1 code for a ventilation preset.
func PresetValue(s Speed) (int, bool) {
	switch s {
	case SpeedSlow:
		return VentSlow, true
	case SpeedStop:
		return VentStop, true
	case SpeedFast:
		return VentFast, true
	default:
		return 0, false
	}
}
