package devstate

import (
	"encoding/json"
	"testing"
)

func TestTranslateSwitch(t *testing.T) {
	tests := []struct {
		name   string
		value1 int
		wantOn bool
	}{
		{"on", 0, true},
		{"off", 1, false},
		{"other", 7, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Translate(TypeSwitch, Raw{Value1: tt.value1})
			if !st.Known() {
				t.Fatal("state should be known")
			}
			if st.On != tt.wantOn {
				t.Errorf("On = %v, want %v", st.On, tt.wantOn)
			}
			if st.Mode != ModeNone || st.Speed != SpeedNone {
				t.Errorf("switch should not carry mode/speed, got %s/%s", st.Mode, st.Speed)
			}
		})
	}
}

func TestTranslateAirConditioner(t *testing.T) {
	tests := []struct {
		name     string
		raw      Raw
		wantOn   bool
		wantMode Mode
		wantFan  Fan
	}{
		{"dry", Raw{0, 2, 1, 0}, true, ModeDry, FanLow},
		{"cool", Raw{0, 3, 2, 0}, true, ModeCool, FanMedium},
		{"heat", Raw{0, 4, 3, 0}, true, ModeHeat, FanHigh},
		{"fan only", Raw{0, 7, 1, 0}, true, ModeFanOnly, FanLow},
		{"off overrides cool", Raw{1, 3, 1, 0}, false, ModeOff, FanLow},
		{"off overrides heat", Raw{1, 4, 2, 0}, false, ModeOff, FanMedium},
		{"off with unmapped mode", Raw{1, 9, 1, 0}, false, ModeOff, FanLow},
		{"on with unmapped mode", Raw{0, 9, 1, 0}, true, ModeUnknown, FanLow},
		{"unmapped fan", Raw{0, 3, 0, 0}, true, ModeCool, FanUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Translate(TypeAirConditioner, tt.raw)
			if st.On != tt.wantOn {
				t.Errorf("On = %v, want %v", st.On, tt.wantOn)
			}
			if st.Mode != tt.wantMode {
				t.Errorf("Mode = %s, want %s", st.Mode, tt.wantMode)
			}
			if st.Fan != tt.wantFan {
				t.Errorf("Fan = %s, want %s", st.Fan, tt.wantFan)
			}
			if st.HasTemperature {
				t.Error("value4 = 0 should not report temperatures")
			}
		})
	}
}

func TestTranslateAirConditionerTemperatures(t *testing.T) {
	// target 24, current 25
	st := Translate(TypeAirConditioner, Raw{Value1: 0, Value2: 3, Value3: 1, Value4: 157288900})

	if !st.On || st.Mode != ModeCool {
		t.Fatalf("state = %s, want on cool", st)
	}
	if !st.HasTemperature {
		t.Fatal("HasTemperature = false")
	}
	if st.Target != 24 || st.Current != 25 {
		t.Errorf("temperatures = (%g, %g), want (24, 25)", st.Target, st.Current)
	}
}

func TestTranslateVentilation(t *testing.T) {
	tests := []struct {
		value1    int
		wantOn    bool
		wantSpeed Speed
	}{
		{0, true, SpeedSlow},
		{50, false, SpeedStop},
		{100, true, SpeedFast},
		{1, true, SpeedUnknown},
		{25, true, SpeedUnknown},
		{75, true, SpeedUnknown},
		{-1, true, SpeedUnknown},
	}

	for _, tt := range tests {
		st := Translate(TypeVentilation, Raw{Value1: tt.value1})
		if st.On != tt.wantOn || st.Speed != tt.wantSpeed {
			t.Errorf("Translate(ventilation, %d) = (%v, %s), want (%v, %s)",
				tt.value1, st.On, st.Speed, tt.wantOn, tt.wantSpeed)
		}
	}

	for v := -200; v <= 300; v++ {
		st := Translate(TypeVentilation, Raw{Value1: v})
		if v == 0 || v == 50 || v == 100 {
			continue
		}
		if st.Speed != SpeedUnknown || st.On != (v != 50) {
			t.Fatalf("Translate(ventilation, %d) = (%v, %s)", v, st.On, st.Speed)
		}
	}
}

func TestTemperatureRoundTrip(t *testing.T) {
	for target := 16; target <= 30; target++ {
		for current := 0; current <= 50; current++ {
			v4 := EncodeTemperature(float64(target), float64(current))
			gotT, gotC := DecodeTemperature(v4)
			if gotT != float64(target) || gotC != float64(current) {
				t.Fatalf("DecodeTemperature(EncodeTemperature(%d, %d)) = (%g, %g)", target, current, gotT, gotC)
			}
		}
	}
}

func TestEncodeTemperature(t *testing.T) {
	tests := []struct {
		target, current float64
		want            int
	}{
		{24, 25, 157288900},
		{16, 0, 1600 << 16},
		{30, 50, 3000<<16 | 5000},
		{25.5, 21.25, 2550<<16 | 2125},
	}

	for _, tt := range tests {
		if got := EncodeTemperature(tt.target, tt.current); got != tt.want {
			t.Errorf("EncodeTemperature(%g, %g) = %d, want %d", tt.target, tt.current, got, tt.want)
		}
	}
}

func TestEncodingValues(t *testing.T) {
	modes := map[Mode]int{ModeDry: 2, ModeCool: 3, ModeHeat: 4, ModeFanOnly: 7}
	for m, want := range modes {
		got, ok := ModeValue(m)
		if !ok || got != want {
			t.Errorf("ModeValue(%s) = %d, %v; want %d", m, got, ok, want)
		}
		if st := Translate(TypeAirConditioner, Raw{Value1: PowerOn, Value2: got, Value3: 1}); st.Mode != m {
			t.Errorf("Translate(ModeValue(%s)) mode = %s", m, st.Mode)
		}
	}
	for _, m := range []Mode{ModeOff, ModeNone, ModeUnknown} {
		if _, ok := ModeValue(m); ok {
			t.Errorf("ModeValue(%s) should have no code", m)
		}
	}

	fans := map[Fan]int{FanLow: 1, FanMedium: 2, FanHigh: 3}
	for f, want := range fans {
		if got, ok := FanValue(f); !ok || got != want {
			t.Errorf("FanValue(%s) = %d, %v; want %d", f, got, ok, want)
		}
	}

	presets := map[Speed]int{SpeedSlow: 0, SpeedStop: 50, SpeedFast: 100}
	for s, want := range presets {
		got, ok := PresetValue(s)
		if !ok || got != want {
			t.Errorf("PresetValue(%s) = %d, %v; want %d", s, got, ok, want)
		}
		if st := Translate(TypeVentilation, Raw{Value1: got}); st.Speed != s {
			t.Errorf("Translate(PresetValue(%s)) speed = %s", s, st.Speed)
		}
	}
	if _, ok := PresetValue(SpeedUnknown); ok {
		t.Error("PresetValue(unknown) should have no code")
	}
}

func TestZeroStateIsUnknown(t *testing.T) {
	var st State
	if st.Known() {
		t.Error("zero State should be unknown")
	}
	if st.String() != "unknown" {
		t.Errorf("String() = %q, want unknown", st.String())
	}
}

func TestParsers(t *testing.T) {
	typeTests := map[string]Type{
		"":                TypeSwitch,
		"switch":          TypeSwitch,
		"air_conditioner": TypeAirConditioner,
		"AC":              TypeAirConditioner,
		"ventilation":     TypeVentilation,
	}
	for in, want := range typeTests {
		got, err := ParseType(in)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseType("toaster"); err == nil {
		t.Error("ParseType(toaster) should fail")
	}

	for _, in := range []string{"off", "dry", "cool", "heat", "fan_only"} {
		m, err := ParseMode(in)
		if err != nil || m.String() != in {
			t.Errorf("ParseMode(%q) = %s, %v", in, m, err)
		}
	}
	if _, err := ParseMode("unknown"); err == nil {
		t.Error("ParseMode(unknown) should fail")
	}

	if f, err := ParseFan("medium"); err != nil || f != FanMedium {
		t.Errorf("ParseFan(medium) = %s, %v", f, err)
	}
	if s, err := ParseSpeed("fast"); err != nil || s != SpeedFast {
		t.Errorf("ParseSpeed(fast) = %s, %v", s, err)
	}
}

func TestTypeFromModel(t *testing.T) {
	models := map[string]Type{"ac-model": TypeAirConditioner, "vent-model": TypeVentilation}

	if got := TypeFromModel(models, "ac-model"); got != TypeAirConditioner {
		t.Errorf("TypeFromModel(ac-model) = %s", got)
	}
	if got := TypeFromModel(models, "vent-model"); got != TypeVentilation {
		t.Errorf("TypeFromModel(vent-model) = %s", got)
	}
	if got := TypeFromModel(models, "other"); got != TypeSwitch {
		t.Errorf("TypeFromModel(other) = %s, want switch", got)
	}
}

func TestStateJSON(t *testing.T) {
	st := Translate(TypeAirConditioner, Raw{Value1: 0, Value2: 4, Value3: 3, Value4: 157288900})
	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	want := map[string]any{
		"status": "known",
		"type":   "air_conditioner",
		"on":     true,
		"mode":   "heat",
		"fan":    "high",
		"target": 24.0,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}
