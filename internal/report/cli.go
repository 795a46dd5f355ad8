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

package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/alexflint/go-arg"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/config"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
)

var version = "<not set>"

type Args struct {
	File string `arg:"-f,--file" help:"Parse this file instead of running the report command."`
	JSON bool   `arg:"--json" help:"Print entries as JSON."`
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

// Run prints what the diagnostic report says about each device.
func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log := logging.NewLogger(args.LogLevel)

	var text string
	if args.File != "" {
		b, err := os.ReadFile(args.File)
		if err != nil {
			return err
		}
		text = string(b)
	} else {
		settings, err := config.Load(args.ConfigDir)
		if err != nil {
			return err
		}
		c := NewCollector(settings.Monitor.ReportCommand, settings.Monitor.ReportTimeout, log)
		text = c.Collect(context.Background())
		if text == "" {
			log.Warnf("'%s' gave no output", strings.Join(c.Command, " "))
		}
	}

	entries := Parse(text)
	if args.JSON {
		return printJSON(os.Stdout, entries)
	}
	printEntries(os.Stdout, entries)
	return nil
}

func sortedEntries(entries map[string]Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func printEntries(w io.Writer, entries map[string]Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No devices found.")
		return
	}
	for _, e := range sortedEntries(entries) {
		line := fmt.Sprintf("%s  %s", e.Address, e.Name)
		if level, ok := e.Level(); ok {
			line += fmt.Sprintf("  %d%%", level)
		}
		if c := e.Components(); c != nil {
			line += "  " + c.String()
		}
		if e.MinorType != "" {
			line += "  [" + e.MinorType + "]"
		}
		fmt.Fprintln(w, line)
	}
}

type entryJSON struct {
	Address   string `json:"address"`
	Name      string `json:"name"`
	Battery   *int   `json:"battery,omitempty"`
	Left      *int   `json:"left,omitempty"`
	Right     *int   `json:"right,omitempty"`
	Case      *int   `json:"case,omitempty"`
	MinorType string `json:"minorType,omitempty"`
}

func printJSON(w io.Writer, entries map[string]Entry) error {
	out := []entryJSON{}
	for _, e := range sortedEntries(entries) {
		out = append(out, entryJSON{
			Address:   e.Address,
			Name:      e.Name,
			Battery:   e.Main,
			Left:      e.Left,
			Right:     e.Right,
			Case:      e.Case,
			MinorType: e.MinorType,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
