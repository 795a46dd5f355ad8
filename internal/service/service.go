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

package service

import (
	"encoding/json"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/device"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/history"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
)

const (
	dbusName = "org.cacophony.BluetoothBattery"
	dbusPath = "/org/cacophony/BluetoothBattery"

	devicesChangedSignal = dbusName + ".DevicesChanged"
)

// Monitor is what the service exposes over D-Bus.
type Monitor interface {
	Devices() []device.Record
	Estimate(id string) history.Estimate
	Refresh()
	SetRefreshInterval(time.Duration) error
}

type Service struct {
	monitor Monitor
	conn    *dbus.Conn
	log     *logging.Logger
}

func New(m Monitor, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewLogger("info")
	}
	return &Service{monitor: m, log: log}
}

// Start claims the bus name and exports the service.
func (s *Service) Start() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s.conn = conn
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

// DeviceJSON is a device as shown to D-Bus clients.
type DeviceJSON struct {
	device.Record
	ComponentText string `json:"componentText,omitempty"`
	Estimate      string `json:"estimate,omitempty"`
}

func (s *Service) devicesJSON(devices []device.Record) (string, error) {
	out := make([]DeviceJSON, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceJSON{
			Record:        d,
			ComponentText: d.Components.String(),
			Estimate:      s.monitor.Estimate(d.ID).String(),
		})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Devices returns the current device list as a JSON array.
func (s *Service) Devices() (string, *dbus.Error) {
	j, err := s.devicesJSON(s.monitor.Devices())
	if err != nil {
		return "", dbusErr(err)
	}
	return j, nil
}

// Estimate returns the remaining time text of a device and whether it is a
// time estimate. The text is empty for a device with too little history and
// "Insufficient data" when no drain has been seen.
func (s *Service) Estimate(id string) (string, bool, *dbus.Error) {
	est := s.monitor.Estimate(id)
	return est.String(), est.Valid(), nil
}

// Refresh requests an immediate refresh of every source.
func (s *Service) Refresh() *dbus.Error {
	s.log.Info("Refresh requested over D-Bus.")
	s.monitor.Refresh()
	return nil
}

// SetRefreshInterval changes the refresh interval until the next restart.
func (s *Service) SetRefreshInterval(seconds int32) *dbus.Error {
	if err := s.monitor.SetRefreshInterval(time.Duration(seconds) * time.Second); err != nil {
		return dbusErr(err)
	}
	return nil
}

// DevicesChanged emits the new device list as a signal.
func (s *Service) DevicesChanged(devices []device.Record) {
	if s.conn == nil {
		return
	}
	j, err := s.devicesJSON(devices)
	if err != nil {
		s.log.Errorf("failed to encode devices: %v", err)
		return
	}
	if err := s.conn.Emit(dbusPath, devicesChangedSignal, j); err != nil {
		s.log.Errorf("failed to emit %s: %v", devicesChangedSignal, err)
	}
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
			Signals: []introspect.Signal{{
				Name: "DevicesChanged",
				Args: []introspect.Arg{{Name: "devices", Type: "s"}},
			}},
		}},
	}
	return introspect.NewIntrospectable(node)
}

func dbusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: dbusName + "." + getCallerName(),
		Body: []interface{}{err.Error()},
	}
}

func getCallerName() string {
	fpcs := make([]uintptr, 1)
	n := runtime.Callers(3, fpcs)
	if n == 0 {
		return ""
	}
	caller := runtime.FuncForPC(fpcs[0] - 1)
	if caller == nil {
		return ""
	}
	funcNames := strings.Split(caller.Name(), ".")
	return funcNames[len(funcNames)-1]
}
