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

package kernel

import (
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/device"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/report"
)

// Entry is one raw battery registration from the kernel.
type Entry struct {
	Address string
	Product string
	// Percent is nil when the driver has not reported a capacity yet.
	Percent    *int
	Bluetooth  bool
	WakeReason string
}

type Enumerator interface {
	Enumerate() ([]Entry, error)
}

// Source turns kernel battery registrations into device records.
type Source struct {
	enum Enumerator
	log  *logging.Logger
}

func NewSource(enum Enumerator, log *logging.Logger) *Source {
	if log == nil {
		log = logging.NewLogger("info")
	}
	return &Source{enum: enum, log: log}
}

// Poll enumerates the registry once. Names missing from the registry are
// filled in from diag, which is keyed by normalized address. Enumeration
// failures give an empty list.
func (s *Source) Poll(diag map[string]report.Entry) []device.Record {
	entries, err := s.enum.Enumerate()
	if err != nil {
		s.log.Debugf("kernel battery registry unavailable: %v", err)
		return []device.Record{}
	}

	records := []device.Record{}
	seen := map[string]bool{}
	for _, e := range entries {
		if !e.Bluetooth || e.Percent == nil {
			continue
		}
		id := device.NormalizeAddress(e.Address)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		d, hasDiag := diag[id]
		r := device.Record{
			ID:           id,
			Name:         name(e, d),
			BatteryLevel: device.ClampLevel(*e.Percent),
			Address:      id,
		}
		r.Kind = device.DetectKind(r.Name)
		if hasDiag {
			r.Components = d.Components()
			if r.Kind == device.Unknown {
				r.Kind = device.KindFromHint(d.MinorType)
			}
		}
		records = append(records, r)
	}
	return records
}

func name(e Entry, d report.Entry) string {
	if n := device.Sanitize(e.Product); n != "" {
		return n
	}
	if n := device.Sanitize(d.Name); n != "" {
		return n
	}
	return device.KindFromWakeReason(e.WakeReason)
}
