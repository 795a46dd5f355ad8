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
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/device"
)

const (
	bluezService     = "org.bluez"
	deviceInterface  = "org.bluez.Device1"
	batteryInterface = "org.bluez.Battery1"

	propertiesChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"
	interfacesAdded   = "org.freedesktop.DBus.ObjectManager.InterfacesAdded"
	interfacesRemoved = "org.freedesktop.DBus.ObjectManager.InterfacesRemoved"
	getManagedObjects = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

type session struct {
	name      string
	level     int
	connected bool
}

// translator keeps what has been learnt about each device object so that
// signals carrying partial property sets can still produce complete events.
type translator struct {
	mu       sync.Mutex
	sessions map[dbus.ObjectPath]*session
}

func newTranslator() *translator {
	return &translator{sessions: map[dbus.ObjectPath]*session{}}
}

func (t *translator) get(p dbus.ObjectPath) *session {
	s, ok := t.sessions[p]
	if !ok {
		s = &session{level: NoLevel}
		t.sessions[p] = s
	}
	return s
}

func (t *translator) event(kind EventKind, p dbus.ObjectPath, s *session) Event {
	return Event{
		Kind:      kind,
		SessionID: SessionID(p),
		Address:   addressFromPath(p),
		Name:      s.name,
		Level:     s.level,
	}
}

// signalEvents translates a BlueZ signal into zero or more events.
func (t *translator) signalEvents(sig *dbus.Signal) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch sig.Name {
	case propertiesChanged:
		if !isDevicePath(sig.Path) || len(sig.Body) < 2 {
			return nil
		}
		iface, ok := sig.Body[0].(string)
		if !ok {
			return nil
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return nil
		}
		return t.propertiesChanged(sig.Path, iface, changed)

	case interfacesAdded:
		if len(sig.Body) < 2 {
			return nil
		}
		p, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok || !isDevicePath(p) {
			return nil
		}
		ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok {
			return nil
		}
		return t.interfacesAdded(p, ifaces)

	case interfacesRemoved:
		if len(sig.Body) < 2 {
			return nil
		}
		p, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok || !isDevicePath(p) {
			return nil
		}
		removed, ok := sig.Body[1].([]string)
		if !ok {
			return nil
		}
		return t.interfacesRemoved(p, removed)
	}
	return nil
}

func (t *translator) propertiesChanged(p dbus.ObjectPath, iface string, changed map[string]dbus.Variant) []Event {
	s := t.get(p)
	switch iface {
	case deviceInterface:
		if name := deviceName(changed); name != "" {
			s.name = name
		}
		v, ok := changed["Connected"]
		if !ok {
			return nil
		}
		connected, ok := v.Value().(bool)
		if !ok || connected == s.connected {
			return nil
		}
		s.connected = connected
		if connected {
			return []Event{t.event(Connect, p, s)}
		}
		return []Event{t.event(Disconnect, p, s)}

	case batteryInterface:
		level, ok := percentage(changed)
		if !ok {
			return nil
		}
		s.level = level
		s.connected = true
		return []Event{t.event(Update, p, s)}
	}
	return nil
}

func (t *translator) interfacesAdded(p dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) []Event {
	s := t.get(p)
	if props, ok := ifaces[deviceInterface]; ok {
		if name := deviceName(props); name != "" {
			s.name = name
		}
		if v, ok := props["Connected"]; ok {
			if connected, ok := v.Value().(bool); ok {
				s.connected = connected
			}
		}
	}
	props, ok := ifaces[batteryInterface]
	if !ok {
		return nil
	}
	level, ok := percentage(props)
	if !ok {
		return nil
	}
	s.level = level
	s.connected = true
	return []Event{t.event(Update, p, s)}
}

func (t *translator) interfacesRemoved(p dbus.ObjectPath, removed []string) []Event {
	s, ok := t.sessions[p]
	if !ok {
		return nil
	}
	var deviceGone, batteryGone bool
	for _, iface := range removed {
		switch iface {
		case deviceInterface:
			deviceGone = true
		case batteryInterface:
			batteryGone = true
		}
	}
	if !deviceGone && !batteryGone {
		return nil
	}
	// The device object keeps its name while it stays paired, only the
	// battery reading goes.
	if deviceGone {
		delete(t.sessions, p)
	} else {
		s.level = NoLevel
	}
	if !s.connected {
		return nil
	}
	s.connected = false
	return []Event{t.event(Disconnect, p, s)}
}

// snapshotEvents turns a full object listing into an update for every
// connected device with a battery, and a disconnect for every previously
// connected device that is now gone or disconnected.
func (t *translator) snapshotEvents(objs managedObjects) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	events := []Event{}
	present := map[dbus.ObjectPath]bool{}
	for p, ifaces := range objs {
		if !isDevicePath(p) {
			continue
		}
		batt, ok := ifaces[batteryInterface]
		if !ok {
			continue
		}
		level, ok := percentage(batt)
		if !ok {
			continue
		}
		dev := ifaces[deviceInterface]
		if v, ok := dev["Connected"]; ok {
			if connected, ok := v.Value().(bool); ok && !connected {
				continue
			}
		}
		s := t.get(p)
		if name := deviceName(dev); name != "" {
			s.name = name
		}
		s.level = level
		s.connected = true
		present[p] = true
		events = append(events, t.event(Update, p, s))
	}
	for p, s := range t.sessions {
		if present[p] || !s.connected {
			continue
		}
		s.connected = false
		events = append(events, t.event(Disconnect, p, s))
	}
	return events
}

// deviceName prefers the user-set alias over the advertised name.
func deviceName(props map[string]dbus.Variant) string {
	for _, key := range []string{"Alias", "Name"} {
		if v, ok := props[key]; ok {
			if s, ok := v.Value().(string); ok {
				if name := device.Sanitize(s); name != "" {
					return name
				}
			}
		}
	}
	return ""
}

func percentage(props map[string]dbus.Variant) (int, bool) {
	v, ok := props["Percentage"]
	if !ok {
		return 0, false
	}
	var level int
	switch n := v.Value().(type) {
	case byte:
		level = int(n)
	case int16:
		level = int(n)
	case uint16:
		level = int(n)
	case int32:
		level = int(n)
	case uint32:
		level = int(n)
	case int64:
		level = int(n)
	case int:
		level = n
	default:
		return 0, false
	}
	return device.ClampLevel(level), true
}
