package devstate

import (
	"fmt"
	"strings"
)

// Type is the device family. It selects how raw values are interpreted.
type Type int

const (
	TypeSwitch Type = iota
	TypeAirConditioner
	TypeVentilation
)

func (t Type) String() string {
	switch t {
	case TypeSwitch:
		return "switch"
	case TypeAirConditioner:
		return "air_conditioner"
	case TypeVentilation:
		return "ventilation"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType parses a device type name. An empty name is a switch.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "switch":
		return TypeSwitch, nil
	case "air_conditioner", "air-conditioner", "airconditioner", "ac", "climate":
		return TypeAirConditioner, nil
	case "ventilation", "vent", "fan":
		return TypeVentilation, nil
	default:
		return TypeSwitch, fmt.Errorf("unknown device type %q", s)
	}
}

// TypeFromModel looks a vendor model id up in models. Unlisted models are
// treated as switches, the most common device family.
func TypeFromModel(models map[string]Type, model string) Type {
	if t, ok := models[model]; ok {
		return t
	}
	return TypeSwitch
}

// Mode is the air conditioner operating mode.
type Mode int

const (
	ModeNone Mode = iota // not an air conditioner
	ModeOff
	ModeDry
	ModeCool
	ModeHeat
	ModeFanOnly
	ModeUnknown
)

var modeNames = map[Mode]string{
	ModeNone:    "",
	ModeOff:     "off",
	ModeDry:     "dry",
	ModeCool:    "cool",
	ModeHeat:    "heat",
	ModeFanOnly: "fan_only",
	ModeUnknown: "unknown",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode parses a mode name as printed by String.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "fan" || s == "fan-only" {
		return ModeFanOnly, nil
	}
	for m, name := range modeNames {
		if name != "" && name == s && m != ModeUnknown {
			return m, nil
		}
	}
	return ModeNone, fmt.Errorf("unknown mode %q (want off, dry, cool, heat or fan_only)", s)
}

// Fan is the air conditioner fan speed.
type Fan int

const (
	FanNone Fan = iota
	FanLow
	FanMedium
	FanHigh
	FanUnknown
)

func (f Fan) String() string {
	switch f {
	case FanNone:
		return ""
	case FanLow:
		return "low"
	case FanMedium:
		return "medium"
	case FanHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Fan) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// ParseFan parses a fan speed name.
func ParseFan(s string) (Fan, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return FanLow, nil
	case "medium", "mid":
		return FanMedium, nil
	case "high":
		return FanHigh, nil
	default:
		return FanNone, fmt.Errorf("unknown fan speed %q (want low, medium or high)", s)
	}
}

// Speed is the ventilation preset. Ventilation units encode power and speed
// in value1 alone.
type Speed int

const (
	SpeedNone Speed = iota
	SpeedSlow
	SpeedStop
	SpeedFast
	SpeedUnknown
)

func (s Speed) String() string {
	switch s {
	case SpeedNone:
		return ""
	case SpeedSlow:
		return "slow"
	case SpeedStop:
		return "stop"
	case SpeedFast:
		return "fast"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Speed) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSpeed parses a ventilation preset name.
func ParseSpeed(s string) (Speed, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "slow":
		return SpeedSlow, nil
	case "stop":
		return SpeedStop, nil
	case "fast":
		return SpeedFast, nil
	default:
		return SpeedNone, fmt.Errorf("unknown preset %q (want slow, stop or fast)", s)
	}
}
