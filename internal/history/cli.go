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

package history

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/config"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
)

var version = "<not set>"

type Args struct {
	Device   string `arg:"-d,--device" help:"Only show this device id."`
	Readings bool   `arg:"-r,--readings" help:"Print every stored reading."`
	config.ConfigArgs
	logging.LogArgs
}

func (Args) Version() string {
	return version
}

func procArgs(input []string) (Args, error) {
	args := Args{}
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

// Run prints the stored history and current estimate of each device.
func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log := logging.NewLogger(args.LogLevel)

	settings, err := config.Load(args.ConfigDir)
	if err != nil {
		return err
	}
	hc := settings.History
	e := New(Options{
		Debounce:    hc.Debounce,
		MinSpan:     hc.MinSpan,
		MaxReadings: hc.MaxReadings,
	}, NewFileStore(hc.StateDir), log)

	ids := e.Devices()
	if args.Device != "" {
		ids = []string{args.Device}
	}
	sort.Strings(ids)
	printHistory(os.Stdout, e, ids, args.Readings, time.Now())
	return nil
}

func printHistory(w io.Writer, e *Engine, ids []string, withReadings bool, now time.Time) {
	if len(ids) == 0 {
		fmt.Fprintln(w, "No battery history.")
		return
	}
	for _, id := range ids {
		readings := e.Readings(id)
		fmt.Fprintf(w, "%s: %d reading(s)", id, len(readings))
		if n := len(readings); n > 0 {
			last := readings[n-1]
			fmt.Fprintf(w, ", %d%% at %s", last.Level, last.Timestamp.Local().Format(time.DateTime))
		}
		fmt.Fprintln(w)
		if rate, ok := e.DrainModel(id); ok {
			fmt.Fprintf(w, "  drain: %.2f hours per percent\n", rate)
		}
		if est := e.EstimateRemaining(id, now); est.Kind != NoEstimate {
			fmt.Fprintf(w, "  estimate: %s\n", est)
		}
		if withReadings {
			for _, r := range readings {
				fmt.Fprintf(w, "  %s  %3d%%\n", r.Timestamp.Local().Format(time.DateTime), r.Level)
			}
		}
	}
}
