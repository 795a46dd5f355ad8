/*
bt-battery-monitor - Tracks battery levels of Bluetooth peripherals
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package gatt

import (
	"fmt"
	"path"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/device"
)

type EventKind int

const (
	Update EventKind = iota
	Connect
	Disconnect
)

func (k EventKind) String() string {
	switch k {
	case Update:
		return "update"
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// NoLevel marks an event that carries no battery reading.
const NoLevel = -1

// Event is one lifecycle or battery notification for a GATT session.
type Event struct {
	Kind      EventKind
	SessionID string
	// Address is the normalized hardware address of the session, if known.
	Address string
	Name    string
	Level   int
}

func (e Event) HasLevel() bool {
	return e.Level != NoLevel
}

// Record builds the device record for an event that carries a level.
func (e Event) Record() device.Record {
	name := e.Name
	if name == "" {
		name = device.DefaultBLEName
	}
	return device.Record{
		ID:           e.SessionID,
		Name:         name,
		BatteryLevel: device.ClampLevel(e.Level),
		Kind:         device.DetectKind(name),
		Address:      e.Address,
	}
}

const sessionPrefix = "ble-"

// SessionID returns the session identifier for a BlueZ device object path.
func SessionID(p dbus.ObjectPath) string {
	return sessionPrefix + path.Base(string(p))
}

// addressFromPath turns ".../dev_AA_BB_CC_DD_EE_FF" into "aa-bb-cc-dd-ee-ff".
func addressFromPath(p dbus.ObjectPath) string {
	base := path.Base(string(p))
	if !strings.HasPrefix(base, "dev_") {
		return ""
	}
	addr := strings.TrimPrefix(base, "dev_")
	if !device.IsAddress(addr) {
		return ""
	}
	return device.NormalizeAddress(addr)
}

func isDevicePath(p dbus.ObjectPath) bool {
	return strings.HasPrefix(string(p), "/org/bluez/") && addressFromPath(p) != ""
}
