// Package coordinator keeps the latest state of every catalogued device and
// maps abstract controls (HVAC mode, target temperature, fan, preset, power)
// onto the relay's value1..value4 commands.
//
// Updates arrive from the relay's push channel through Run. Commands that the
// relay accepted are applied locally right away, so callers see the new state
// before the relay echoes it back.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/muurk/orvibo-relay/internal/catalog"
	"github.com/muurk/orvibo-relay/internal/devstate"
	"github.com/muurk/orvibo-relay/internal/logging"
	"github.com/muurk/orvibo-relay/internal/relay"
	"go.uber.org/zap"
)

// Target temperature range accepted by air conditioners.
const (
	MinTemperature = 16.0
	MaxTemperature = 30.0
)

// Fallback values used when an air conditioner has not reported yet.
const (
	defaultMode = 3 // cool
	defaultFan  = 1 // low
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrWrongType     = errors.New("operation not supported by device type")
	ErrInvalidValue  = errors.New("invalid value")
	ErrStateUnknown  = errors.New("device state unknown")
	ErrNotSent       = errors.New("command not sent")
)

// Relay is the part of the relay client the coordinator drives.
type Relay interface {
	Updates() <-chan relay.StatusUpdate
	TurnOn(ctx context.Context, deviceID string) bool
	TurnOff(ctx context.Context, deviceID string) bool
	SendStateUpdateAirConditioner(ctx context.Context, deviceID string, value1, value2, value3, value4 int) bool
	SendStateUpdateVentilation(ctx context.Context, deviceID string, value1 int) bool
}

// Source tells where a state change came from.
type Source string

const (
	SourceSeed     Source = "seed"
	SourcePush     Source = "push"
	SourceCommand  Source = "command"
	SourceSnapshot Source = "snapshot"
)

// Event describes one state change.
type Event struct {
	DeviceID string         `json:"deviceId"`
	Name     string         `json:"name,omitempty"`
	Type     devstate.Type  `json:"type"`
	Source   Source         `json:"source"`
	State    devstate.State `json:"state"`
	Time     time.Time      `json:"time"`
}

type entry struct {
	raw   devstate.Raw
	state devstate.State
}

// Coordinator owns the per-device state table.
type Coordinator struct {
	relay   Relay
	catalog *catalog.Catalog

	mu      sync.RWMutex
	devices map[string]entry

	lmu       sync.Mutex
	listeners []func(Event)
}

// New returns a coordinator for the devices in cat.
func New(r Relay, cat *catalog.Catalog) *Coordinator {
	return &Coordinator{
		relay:   r,
		catalog: cat,
		devices: make(map[string]entry),
	}
}

// OnChange registers fn to be called after every state change. Listeners run
// on the goroutine that applied the change and must not block.
func (c *Coordinator) OnChange(fn func(Event)) {
	c.lmu.Lock()
	c.listeners = append(c.listeners, fn)
	c.lmu.Unlock()
}

// Seed sets the initial raw state of a device, e.g. from a device list
// download. Unknown devices are ignored.
func (c *Coordinator) Seed(deviceID string, raw devstate.Raw) {
	if !c.catalog.IsKnownDeviceID(deviceID) {
		logging.Debug("Ignoring seed for unknown device", zap.String("device_id", deviceID))
		return
	}
	c.apply(deviceID, raw, SourceSeed)
}

// Run applies relay push updates until ctx is done or the update channel is
// closed. A closed channel ends Run with a nil error.
func (c *Coordinator) Run(ctx context.Context) error {
	updates := c.relay.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if !c.catalog.IsKnownDeviceID(upd.DeviceID) {
				continue
			}
			c.apply(upd.DeviceID, upd.Raw, SourcePush)
		}
	}
}

// State returns the latest state of a device. Devices that never reported
// come back with Status Unknown.
func (c *Coordinator) State(deviceID string) devstate.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.devices[deviceID]
	if !ok {
		return devstate.State{Status: devstate.Unknown, Type: c.catalog.TypeOf(deviceID)}
	}
	return e.state
}

// Raw returns the last raw values seen for a device.
func (c *Coordinator) Raw(deviceID string) (devstate.Raw, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.devices[deviceID]
	return e.raw, ok
}

// States returns a snapshot of every device with a known state.
func (c *Coordinator) States() map[string]devstate.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]devstate.State, len(c.devices))
	for id, e := range c.devices {
		out[id] = e.state
	}
	return out
}

// SetHVACMode changes an air conditioner's mode. ModeOff powers the unit down
// and keeps its last mode so that turning it on again resumes it.
func (c *Coordinator) SetHVACMode(ctx context.Context, deviceID string, mode devstate.Mode) error {
	if err := c.expect(deviceID, devstate.TypeAirConditioner); err != nil {
		return err
	}
	cur := c.acValues(deviceID)

	next := cur
	if mode == devstate.ModeOff {
		next.Value1 = devstate.PowerOff
	} else {
		v2, ok := devstate.ModeValue(mode)
		if !ok {
			return fmt.Errorf("%w: hvac mode %q", ErrInvalidValue, mode)
		}
		next.Value1 = devstate.PowerOn
		next.Value2 = v2
	}
	return c.sendAirConditioner(ctx, deviceID, next)
}

// SetTargetTemperature sets the target temperature and turns the unit on. The
// indoor temperature in value4 is kept as last reported.
func (c *Coordinator) SetTargetTemperature(ctx context.Context, deviceID string, target float64) error {
	if err := c.expect(deviceID, devstate.TypeAirConditioner); err != nil {
		return err
	}
	if target < MinTemperature || target > MaxTemperature {
		return fmt.Errorf("%w: target temperature %.1f outside %.0f-%.0f",
			ErrInvalidValue, target, MinTemperature, MaxTemperature)
	}
	cur := c.acValues(deviceID)
	_, current := devstate.DecodeTemperature(cur.Value4)

	next := cur
	next.Value1 = devstate.PowerOn
	next.Value4 = devstate.EncodeTemperature(target, current)
	return c.sendAirConditioner(ctx, deviceID, next)
}

// SetFanMode changes an air conditioner's fan speed.
func (c *Coordinator) SetFanMode(ctx context.Context, deviceID string, fan devstate.Fan) error {
	if err := c.expect(deviceID, devstate.TypeAirConditioner); err != nil {
		return err
	}
	v3, ok := devstate.FanValue(fan)
	if !ok {
		return fmt.Errorf("%w: fan mode %q", ErrInvalidValue, fan)
	}
	next := c.acValues(deviceID)
	next.Value3 = v3
	return c.sendAirConditioner(ctx, deviceID, next)
}

// SetPreset changes a ventilation unit's speed preset.
func (c *Coordinator) SetPreset(ctx context.Context, deviceID string, speed devstate.Speed) error {
	if err := c.expect(deviceID, devstate.TypeVentilation); err != nil {
		return err
	}
	v1, ok := devstate.PresetValue(speed)
	if !ok {
		return fmt.Errorf("%w: preset %q", ErrInvalidValue, speed)
	}
	if !c.relay.SendStateUpdateVentilation(ctx, deviceID, v1) {
		return fmt.Errorf("%w: preset %s for %s", ErrNotSent, speed, deviceID)
	}
	c.apply(deviceID, devstate.Raw{Value1: v1}, SourceCommand)
	return nil
}

// TurnOn powers a device on. Air conditioners resume their last mode,
// ventilation units start at the slow preset.
func (c *Coordinator) TurnOn(ctx context.Context, deviceID string) error {
	if !c.catalog.IsKnownDeviceID(deviceID) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	switch c.catalog.TypeOf(deviceID) {
	case devstate.TypeAirConditioner:
		next := c.acValues(deviceID)
		next.Value1 = devstate.PowerOn
		return c.sendAirConditioner(ctx, deviceID, next)
	case devstate.TypeVentilation:
		return c.SetPreset(ctx, deviceID, devstate.SpeedSlow)
	default:
		return c.sendSwitch(ctx, deviceID, devstate.PowerOn)
	}
}

// TurnOff powers a device off.
func (c *Coordinator) TurnOff(ctx context.Context, deviceID string) error {
	if !c.catalog.IsKnownDeviceID(deviceID) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	switch c.catalog.TypeOf(deviceID) {
	case devstate.TypeAirConditioner:
		return c.SetHVACMode(ctx, deviceID, devstate.ModeOff)
	case devstate.TypeVentilation:
		return c.SetPreset(ctx, deviceID, devstate.SpeedStop)
	default:
		return c.sendSwitch(ctx, deviceID, devstate.PowerOff)
	}
}

// Toggle flips a device's power. A device whose state is still unknown is
// not toggled.
func (c *Coordinator) Toggle(ctx context.Context, deviceID string) error {
	if !c.catalog.IsKnownDeviceID(deviceID) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	st := c.State(deviceID)
	if !st.Known() {
		return fmt.Errorf("%w: %s", ErrStateUnknown, deviceID)
	}
	if st.On {
		return c.TurnOff(ctx, deviceID)
	}
	return c.TurnOn(ctx, deviceID)
}

func (c *Coordinator) expect(deviceID string, t devstate.Type) error {
	if !c.catalog.IsKnownDeviceID(deviceID) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if got := c.catalog.TypeOf(deviceID); got != t {
		return fmt.Errorf("%w: %s is a %s, not a %s", ErrWrongType, deviceID, got, t)
	}
	return nil
}

// acValues returns the last raw values of an air conditioner, filling in
// defaults for a unit that has not reported.
func (c *Coordinator) acValues(deviceID string) devstate.Raw {
	raw, ok := c.Raw(deviceID)
	if !ok {
		return devstate.Raw{Value1: devstate.PowerOff, Value2: defaultMode, Value3: defaultFan}
	}
	return raw
}

func (c *Coordinator) sendAirConditioner(ctx context.Context, deviceID string, r devstate.Raw) error {
	if !c.relay.SendStateUpdateAirConditioner(ctx, deviceID, r.Value1, r.Value2, r.Value3, r.Value4) {
		return fmt.Errorf("%w: air conditioner update for %s", ErrNotSent, deviceID)
	}
	c.apply(deviceID, r, SourceCommand)
	return nil
}

func (c *Coordinator) sendSwitch(ctx context.Context, deviceID string, value1 int) error {
	var ok bool
	if value1 == devstate.PowerOn {
		ok = c.relay.TurnOn(ctx, deviceID)
	} else {
		ok = c.relay.TurnOff(ctx, deviceID)
	}
	if !ok {
		return fmt.Errorf("%w: switch %s", ErrNotSent, deviceID)
	}
	c.apply(deviceID, devstate.Raw{Value1: value1}, SourceCommand)
	return nil
}

func (c *Coordinator) apply(deviceID string, raw devstate.Raw, src Source) {
	t := c.catalog.TypeOf(deviceID)
	st := devstate.Translate(t, raw)

	c.mu.Lock()
	prev, had := c.devices[deviceID]
	// Air conditioners report value4 = 0 when they have no reading; keep the
	// last temperatures instead of dropping them.
	if t == devstate.TypeAirConditioner && !st.HasTemperature && had && prev.state.HasTemperature {
		st.Target = prev.state.Target
		st.Current = prev.state.Current
		st.HasTemperature = true
		raw.Value4 = prev.raw.Value4
		st.Raw = raw
	}
	c.devices[deviceID] = entry{raw: raw, state: st}
	c.mu.Unlock()

	logging.Debug("Device state updated",
		zap.String("device_id", deviceID),
		zap.String("source", string(src)),
		zap.Stringer("state", st),
	)

	ev := Event{
		DeviceID: deviceID,
		Name:     c.catalog.NameByDeviceID(deviceID),
		Type:     t,
		Source:   src,
		State:    st,
		Time:     time.Now(),
	}
	c.lmu.Lock()
	listeners := append(([]func(Event))(nil), c.listeners...)
	c.lmu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// Snapshot returns one event per device with a known state, in catalog order.
func (c *Coordinator) Snapshot() []Event {
	now := time.Now()
	var out []Event
	for _, d := range c.catalog.Devices() {
		st := c.State(d.ID)
		if !st.Known() {
			continue
		}
		out = append(out, Event{
			DeviceID: d.ID,
			Name:     d.Name,
			Type:     st.Type,
			Source:   SourceSnapshot,
			State:    st,
			Time:     now,
		})
	}
	return out
}
