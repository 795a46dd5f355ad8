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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
)

const (
	DefaultConfigDir = goconfig.DefaultConfigDir
	ConfigFileName   = goconfig.ConfigFileName

	MonitorKey = "bluetooth-battery"
	HistoryKey = "bluetooth-battery-history"
	AlertKey   = "bluetooth-battery-alert"
)

type ConfigArgs struct {
	ConfigDir string `arg:"-c,--config" help:"path to configuration directory" default:"/etc/cacophony"`
}

// open reads the shared device config. A device without a config file gives
// nil so every section keeps its defaults.
func open(dir string) (*goconfig.Config, error) {
	conf, err := goconfig.New(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return conf, nil
}

func unmarshal(conf *goconfig.Config, key string, raw interface{}) error {
	if conf == nil {
		return nil
	}
	if err := conf.Unmarshal(key, raw); err != nil {
		return fmt.Errorf("failed to parse [%s]: %w", key, err)
	}
	return nil
}

type Monitor struct {
	RefreshInterval time.Duration `mapstructure:"refresh-interval"`
	RemovalGrace    time.Duration `mapstructure:"removal-grace"`
	RescanDelay     time.Duration `mapstructure:"rescan-delay"`
	ReportCommand   []string      `mapstructure:"report-command"`
	ReportTimeout   time.Duration `mapstructure:"report-timeout"`
	SysfsRoot       string        `mapstructure:"sysfs-root"`
	DBusService     bool          `mapstructure:"dbus-service"`
}

// MinRefreshInterval is the shortest refresh interval accepted.
const MinRefreshInterval = 5 * time.Second

func DefaultMonitor() Monitor {
	return Monitor{
		RefreshInterval: 30 * time.Second,
		RemovalGrace:    15 * time.Second,
		RescanDelay:     2 * time.Second,
		ReportCommand:   []string{"system_profiler", "SPBluetoothDataType"},
		ReportTimeout:   15 * time.Second,
		SysfsRoot:       "/sys",
		DBusService:     true,
	}
}

type History struct {
	StateDir    string        `mapstructure:"state-dir"`
	Debounce    time.Duration `mapstructure:"debounce"`
	MinSpan     time.Duration `mapstructure:"min-span"`
	MaxReadings int           `mapstructure:"max-readings"`
}

func DefaultHistory() History {
	return History{
		StateDir:    "/var/lib/bt-battery",
		Debounce:    4 * time.Minute,
		MinSpan:     2 * time.Minute,
		MaxReadings: 2016,
	}
}

type Alert struct {
	// LowBatteryThreshold is the level at or below which an event is raised.
	// Zero disables alerts.
	LowBatteryThreshold int `mapstructure:"low-battery-threshold"`
}

func DefaultAlert() Alert {
	return Alert{LowBatteryThreshold: 20}
}

// Settings is the whole configuration of the monitor.
type Settings struct {
	Monitor Monitor
	History History
	Alert   Alert
}

func Load(dir string) (*Settings, error) {
	conf, err := open(dir)
	if err != nil {
		return nil, err
	}
	s := &Settings{
		Monitor: DefaultMonitor(),
		History: DefaultHistory(),
		Alert:   DefaultAlert(),
	}
	// A configured command replaces the default rather than merging into it.
	if conf != nil && conf.Get(MonitorKey+".report-command") != nil {
		s.Monitor.ReportCommand = nil
	}
	if err := unmarshal(conf, MonitorKey, &s.Monitor); err != nil {
		return nil, err
	}
	if err := unmarshal(conf, HistoryKey, &s.History); err != nil {
		return nil, err
	}
	if err := unmarshal(conf, AlertKey, &s.Alert); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.Monitor.RefreshInterval < MinRefreshInterval {
		return fmt.Errorf("refresh-interval %s is below the minimum of %s", s.Monitor.RefreshInterval, MinRefreshInterval)
	}
	if len(s.Monitor.ReportCommand) == 0 {
		return errors.New("report-command can not be empty")
	}
	if s.Alert.LowBatteryThreshold < 0 || s.Alert.LowBatteryThreshold > 100 {
		return fmt.Errorf("low-battery-threshold %d is not a percentage", s.Alert.LowBatteryThreshold)
	}
	if s.History.MaxReadings < 2 {
		return fmt.Errorf("max-readings %d must be at least 2", s.History.MaxReadings)
	}
	return nil
}
