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
	"bufio"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/device"
)

// ReservedLabels are field labels that can end in a colon but never name a
// device.
var ReservedLabels = map[string]bool{
	"Address":             true,
	"Battery Level":       true,
	"Left Battery Level":  true,
	"Right Battery Level": true,
	"Case Battery Level":  true,
	"Minor Type":          true,
	"Connected":           true,
	"Not Connected":       true,
	"Services":            true,
	"Vendor ID":           true,
	"Product ID":          true,
	"Firmware Version":    true,
	"Paired":              true,
	"Favourite":           true,
	"Major Type":          true,
	"Transport":           true,
}

// SectionLabels open a list of devices. Older tool versions use a single
// "Devices" section, newer ones split connected and not connected devices.
var SectionLabels = map[string]bool{
	"Connected":                          true,
	"Not Connected":                      true,
	"Paired Devices":                     true,
	"Devices (Paired, Configured, etc.)": true,
}

// Names this short are stray colon-terminated noise, not devices.
const minNameLength = 3

// Entry is what the diagnostic report says about one device.
type Entry struct {
	Address   string
	Name      string
	Main      *int
	Left      *int
	Right     *int
	Case      *int
	MinorType string
}

func (e Entry) HasBattery() bool {
	return e.Main != nil || e.Left != nil || e.Right != nil || e.Case != nil
}

// Components returns the sub-battery readings, or nil if there are none.
func (e Entry) Components() *device.Components {
	c := &device.Components{Left: e.Left, Right: e.Right, Case: e.Case}
	if c.Empty() {
		return nil
	}
	return c
}

// Level is the main reading if there is one, otherwise the integer mean of
// the component readings. ok is false when there is no battery data at all.
func (e Entry) Level() (int, bool) {
	if e.Main != nil {
		return *e.Main, true
	}
	levels := e.Components().Levels()
	if len(levels) == 0 {
		return 0, false
	}
	sum := 0
	for _, l := range levels {
		sum += l
	}
	return sum / len(levels), true
}

// merge fills the unset fields of e from o. Fields already set are kept.
func (e *Entry) merge(o Entry) {
	if e.Name == "" {
		e.Name = o.Name
	}
	if e.Main == nil {
		e.Main = o.Main
	}
	if e.Left == nil {
		e.Left = o.Left
	}
	if e.Right == nil {
		e.Right = o.Right
	}
	if e.Case == nil {
		e.Case = o.Case
	}
	if e.MinorType == "" {
		e.MinorType = o.MinorType
	}
}

type parserState int

const (
	outside parserState = iota
	inSection
	inDevice
)

type parser struct {
	state        parserState
	sectionDepth int
	deviceDepth  int
	pending      *Entry
	entries      map[string]Entry
}

// Parse extracts per device entries, keyed by normalized address, from an
// indentation structured Bluetooth report. Entries without an address are
// dropped and malformed fields are treated as absent.
func Parse(text string) map[string]Entry {
	p := &parser{
		state:   outside,
		entries: map[string]Entry{},
	}
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.line(scanner.Text())
	}
	p.flush()
	return p.entries
}

func (p *parser) line(raw string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return
	}
	depth := indentation(raw)
	label, value, header := splitLine(trimmed)

	if header && SectionLabels[label] {
		p.flush()
		p.state = inSection
		p.sectionDepth = depth
		p.deviceDepth = -1
		return
	}

	if p.state == outside {
		return
	}

	if depth <= p.sectionDepth {
		p.flush()
		p.state = outside
		return
	}

	if header && p.isDeviceHeader(label, depth) {
		p.flush()
		p.deviceDepth = depth
		p.pending = &Entry{Name: label}
		p.state = inDevice
		return
	}

	if p.state == inDevice && depth > p.deviceDepth {
		p.field(label, value)
	}
}

func (p *parser) isDeviceHeader(label string, depth int) bool {
	if ReservedLabels[label] || utf8.RuneCountInString(label) < minNameLength {
		return false
	}
	if p.deviceDepth < 0 {
		return depth > p.sectionDepth
	}
	return depth == p.deviceDepth
}

func (p *parser) field(label, value string) {
	switch label {
	case "Address":
		if device.IsAddress(value) {
			p.pending.Address = device.NormalizeAddress(value)
		}
	case "Battery Level":
		p.pending.Main = parseLevel(value)
	case "Left Battery Level":
		p.pending.Left = parseLevel(value)
	case "Right Battery Level":
		p.pending.Right = parseLevel(value)
	case "Case Battery Level":
		p.pending.Case = parseLevel(value)
	case "Minor Type":
		p.pending.MinorType = value
	}
}

func (p *parser) flush() {
	if p.pending == nil {
		return
	}
	e := *p.pending
	p.pending = nil
	if p.state == inDevice {
		p.state = inSection
	}
	if e.Address == "" {
		return
	}
	if existing, ok := p.entries[e.Address]; ok {
		existing.merge(e)
		p.entries[e.Address] = existing
		return
	}
	p.entries[e.Address] = e
}

// splitLine splits "Label: value". A line ending in a colon is a header and
// its whole text, minus the colon, is the label.
func splitLine(trimmed string) (label, value string, header bool) {
	if strings.HasSuffix(trimmed, ":") {
		return strings.TrimSpace(strings.TrimSuffix(trimmed, ":")), "", true
	}
	label, value, found := strings.Cut(trimmed, ":")
	if !found {
		return trimmed, "", false
	}
	return strings.TrimSpace(label), strings.TrimSpace(value), false
}

// parseLevel reads values like "75%" or "75". Anything non-numeric is absent.
func parseLevel(value string) *int {
	value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "%"))
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return device.IntPtr(device.ClampLevel(n))
}

func indentation(line string) int {
	n := 0
	for _, r := range line {
		if !unicode.IsSpace(r) {
			break
		}
		n++
	}
	return n
}
