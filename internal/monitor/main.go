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

package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/google/go-cmp/cmp"
	"github.com/rjeczalik/notify"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/alert"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/config"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/gatt"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/history"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/kernel"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/reconcile"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/report"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/service"
)

var (
	version = "<not set>"
	log     = logging.NewLogger("info")
)

type Args struct {
	NoGatt bool `arg:"--no-gatt" help:"Don't listen for BlueZ battery notifications."`
	config.ConfigArgs
	logging.LogArgs
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)

	log.Printf("Running version: %s", version)

	settings, err := config.Load(args.ConfigDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := build(ctx, settings, !args.NoGatt)
	if err != nil {
		return err
	}

	go checkConfigChanges(settings, args.ConfigDir, m)

	return m.Run(ctx)
}

func build(ctx context.Context, settings *config.Settings, useGatt bool) (*Monitor, error) {
	mc := settings.Monitor

	hist := history.New(history.Options{
		Debounce:    settings.History.Debounce,
		MinSpan:     settings.History.MinSpan,
		MaxReadings: settings.History.MaxReadings,
	}, history.NewFileStore(settings.History.StateDir), log)

	var gattSource GattSource
	if useGatt {
		bluez := gatt.NewBlueZ(log)
		if err := bluez.Start(ctx); err != nil {
			log.Warnf("GATT battery notifications unavailable: %v", err)
		} else {
			gattSource = bluez
		}
	}

	m := New(
		Options{RefreshInterval: mc.RefreshInterval, RescanDelay: mc.RescanDelay},
		kernel.NewSource(kernel.SysfsEnumerator{Root: mc.SysfsRoot}, log),
		report.NewCollector(mc.ReportCommand, mc.ReportTimeout, log),
		gattSource,
		reconcile.New(mc.RemovalGrace),
		hist,
		log,
	)
	m.AddSink(logSink{log: log})
	m.AddSink(alert.New(settings.Alert.LowBatteryThreshold, m, log))

	if mc.DBusService {
		svc := service.New(m, log)
		if err := svc.Start(); err != nil {
			return nil, fmt.Errorf("failed to start D-Bus service: %w", err)
		}
		m.AddSink(svc)
	}
	return m, nil
}

// checkConfigChanges reloads the config each time the file is written. A
// changed refresh interval is applied straight away. Any other change exits
// so systemd restarts the service with the new config.
func checkConfigChanges(conf *config.Settings, configDir string, m *Monitor) {
	configFilePath := filepath.Join(configDir, config.ConfigFileName)
	fsEvents := make(chan notify.EventInfo, 1)
	if err := notify.Watch(configFilePath, fsEvents, notify.InCloseWrite, notify.InMovedTo); err != nil {
		log.Warnf("Not watching config file for changes: %v", err)
		return
	}
	defer notify.Stop(fsEvents)

	for {
		<-fsEvents
		newConfig, err := config.Load(configDir)
		if err != nil {
			log.Error("error reloading config:", err)
			continue
		}
		diff, intervalOnly := configChange(conf, newConfig)
		log.Debug("Config diff:", diff)
		switch {
		case diff == "":
			log.Info("No relevant changes detected in config file.")
		case intervalOnly:
			if err := m.SetRefreshInterval(newConfig.Monitor.RefreshInterval); err != nil {
				log.Error(err)
				continue
			}
			conf = newConfig
		default:
			log.Info("Config changed. Exiting to allow systemctl to restart service.")
			os.Exit(0)
		}
	}
}

// configChange diffs two configs and reports whether the refresh interval
// is the only difference.
func configChange(old, updated *config.Settings) (string, bool) {
	diff := cmp.Diff(old, updated)
	if diff == "" {
		return "", false
	}
	withInterval := *old
	withInterval.Monitor.RefreshInterval = updated.Monitor.RefreshInterval
	return diff, cmp.Equal(&withInterval, updated)
}
