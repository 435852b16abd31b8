// Package catalog resolves device ids, UIDs and names for the relay client.
package catalog

import (
	"sort"
	"strings"

	"github.com/muurk/orvibo-relay/internal/devstate"
)

// Device is one entry of the account's device list.
type Device struct {
	ID      string        `yaml:"id" json:"deviceId"`
	UID     string        `yaml:"uid" json:"uid"`
	Name    string        `yaml:"name" json:"deviceName"`
	Model   string        `yaml:"model,omitempty" json:"model,omitempty"`
	RoomID  string        `yaml:"room,omitempty" json:"roomId,omitempty"`
	Type    devstate.Type `yaml:"type" json:"type"`
	Deleted bool          `yaml:"deleted,omitempty" json:"delFlag,omitempty"`
}

// Catalog is an immutable index over a device list.
type Catalog struct {
	byID  map[string]Device
	byUID map[string]string
	order []string
}

// New indexes devices. Entries sharing a device id are collapsed, preferring
// one that is not flagged deleted; ids whose only entries are deleted are
// left out. Entries without an id are ignored.
func New(devices []Device) *Catalog {
	c := &Catalog{
		byID:  make(map[string]Device),
		byUID: make(map[string]string),
	}

	for _, d := range devices {
		if d.ID == "" {
			continue
		}
		existing, seen := c.byID[d.ID]
		if !seen {
			c.order = append(c.order, d.ID)
			c.byID[d.ID] = d
			continue
		}
		if existing.Deleted && !d.Deleted {
			c.byID[d.ID] = d
		}
	}

	kept := c.order[:0]
	for _, id := range c.order {
		d := c.byID[id]
		if d.Deleted {
			delete(c.byID, id)
			continue
		}
		kept = append(kept, id)
		if uid := normalizeUID(d.UID); uid != "" {
			if _, dup := c.byUID[uid]; !dup {
				c.byUID[uid] = id
			}
		}
	}
	c.order = kept

	return c
}

// UIDByDeviceID returns the device's UID, or "" when the device or its UID
// is unknown.
func (c *Catalog) UIDByDeviceID(id string) string {
	if c == nil {
		return ""
	}
	return c.byID[id].UID
}

// DeviceIDByUID returns the id of the device with the given UID, or "".
// UIDs compare case-insensitively and ignore ':' and '-' separators.
func (c *Catalog) DeviceIDByUID(uid string) string {
	if c == nil {
		return ""
	}
	return c.byUID[normalizeUID(uid)]
}

// NameByDeviceID returns the display name of a device, or "".
func (c *Catalog) NameByDeviceID(id string) string {
	if c == nil {
		return ""
	}
	return c.byID[id].Name
}

// IsKnownDeviceID reports whether id is in the catalog.
func (c *Catalog) IsKnownDeviceID(id string) bool {
	if c == nil {
		return false
	}
	_, ok := c.byID[id]
	return ok
}

// Device returns the catalog entry for id.
func (c *Catalog) Device(id string) (Device, bool) {
	if c == nil {
		return Device{}, false
	}
	d, ok := c.byID[id]
	return d, ok
}

// TypeOf returns the device type, defaulting to switch for unknown ids.
func (c *Catalog) TypeOf(id string) devstate.Type {
	if c == nil {
		return devstate.TypeSwitch
	}
	return c.byID[id].Type
}

// Devices returns the catalog entries in their original order.
func (c *Catalog) Devices() []Device {
	if c == nil {
		return nil
	}
	out := make([]Device, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Rooms returns the distinct room ids, sorted.
func (c *Catalog) Rooms() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	var rooms []string
	for _, d := range c.byID {
		if d.RoomID != "" && !seen[d.RoomID] {
			seen[d.RoomID] = true
			rooms = append(rooms, d.RoomID)
		}
	}
	sort.Strings(rooms)
	return rooms
}

// Len returns the number of devices.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

func normalizeUID(uid string) string {
	uid = strings.ToLower(strings.TrimSpace(uid))
	return strings.NewReplacer(":", "", "-", "").Replace(uid)
}
