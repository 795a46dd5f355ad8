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
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
)

const eventBufferSize = 32

// BlueZ reports battery levels of connected GATT peripherals using the BlueZ
// Battery1 interface on the system bus.
type BlueZ struct {
	conn   *dbus.Conn
	events chan Event
	t      *translator
	log    *logging.Logger
	ctx    context.Context
}

func NewBlueZ(log *logging.Logger) *BlueZ {
	if log == nil {
		log = logging.NewLogger("info")
	}
	return &BlueZ{
		events: make(chan Event, eventBufferSize),
		t:      newTranslator(),
		log:    log,
	}
}

// Events delivers session events until the context given to Start is done.
func (b *BlueZ) Events() <-chan Event {
	return b.events
}

// Start subscribes to BlueZ signals and requests an initial scan.
func (b *BlueZ) Start(ctx context.Context) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	b.conn = conn
	b.ctx = ctx

	rules := []string{
		"type='signal',sender='org.bluez',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged'",
		"type='signal',sender='org.bluez',interface='org.freedesktop.DBus.ObjectManager'",
	}
	for _, rule := range rules {
		call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule)
		if call.Err != nil {
			return fmt.Errorf("failed to add match rule %q: %w", rule, call.Err)
		}
	}

	signals := make(chan *dbus.Signal, eventBufferSize)
	conn.Signal(signals)

	go func() {
		defer conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				for _, ev := range b.t.signalEvents(sig) {
					b.send(ev)
				}
			}
		}
	}()

	b.Rescan()
	return nil
}

// Rescan lists all BlueZ objects in the background and emits events for what
// changed since the last time. It is a no-op before Start.
func (b *BlueZ) Rescan() {
	if b.conn == nil {
		return
	}
	go func() {
		var objs managedObjects
		obj := b.conn.Object(bluezService, "/")
		if err := obj.CallWithContext(b.ctx, getManagedObjects, 0).Store(&objs); err != nil {
			b.log.Debugf("failed to list BlueZ objects: %v", err)
			return
		}
		for _, ev := range b.t.snapshotEvents(objs) {
			b.send(ev)
		}
	}()
}

func (b *BlueZ) send(ev Event) {
	b.log.Debugf("GATT %s %s (%s) level %d", ev.Kind, ev.SessionID, ev.Name, ev.Level)
	select {
	case b.events <- ev:
	case <-b.ctx.Done():
	}
}
