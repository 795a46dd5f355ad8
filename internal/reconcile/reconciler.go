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

package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/device"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/gatt"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/report"
)

const DefaultGrace = 15 * time.Second

// Reconciler merges the kernel, GATT and diagnostic views of the connected
// peripherals into one list. It is safe for concurrent use.
type Reconciler struct {
	mu    sync.Mutex
	grace time.Duration
	// gatt holds the last known record per GATT session.
	gatt map[string]device.Record
	// removals holds the removal deadline of each disconnected session.
	removals map[string]time.Time
	last     []device.Record
}

func New(grace time.Duration) *Reconciler {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Reconciler{
		grace:    grace,
		gatt:     map[string]device.Record{},
		removals: map[string]time.Time{},
	}
}

// ApplyGatt updates the GATT state from one event. A disconnect keeps the
// last known record until the grace period has passed, a connect or update
// within that time cancels the removal.
func (r *Reconciler) ApplyGatt(ev gatt.Event, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case gatt.Update, gatt.Connect:
		delete(r.removals, ev.SessionID)
		if ev.HasLevel() {
			r.gatt[ev.SessionID] = ev.Record()
		}
	case gatt.Disconnect:
		if _, ok := r.gatt[ev.SessionID]; !ok {
			return
		}
		if _, pending := r.removals[ev.SessionID]; !pending {
			r.removals[ev.SessionID] = now.Add(r.grace)
		}
	}
}

// Expire purges every session whose grace period has elapsed and returns
// their ids.
func (r *Reconciler) Expire(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expire(now)
}

func (r *Reconciler) expire(now time.Time) []string {
	expired := []string{}
	for id, deadline := range r.removals {
		if !now.Before(deadline) {
			delete(r.removals, id)
			delete(r.gatt, id)
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// NextDeadline returns the earliest pending removal deadline.
func (r *Reconciler) NextDeadline() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var next time.Time
	found := false
	for _, deadline := range r.removals {
		if !found || deadline.Before(next) {
			next = deadline
			found = true
		}
	}
	return next, found
}

// PendingRemoval reports whether a session is waiting out its grace period.
func (r *Reconciler) PendingRemoval(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.removals[sessionID]
	return ok
}

// Reconcile builds the merged list from the kernel records, the stored GATT
// records and the diagnostic entries. changed is false when the list is equal
// to the one returned by the previous call.
//
// Kernel records are taken as they are. GATT records follow unless their id
// or address is already listed. Diagnostic entries are only added when
// neither their address nor their name is already listed, and they carry
// some battery reading.
func (r *Reconciler) Reconcile(kernel []device.Record, diag map[string]report.Entry, now time.Time) ([]device.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expire(now)

	merged := make([]device.Record, 0, len(kernel)+len(r.gatt)+len(diag))
	covered := map[string]bool{}
	names := map[string]bool{}
	add := func(rec device.Record) {
		merged = append(merged, rec)
		covered[rec.ID] = true
		if rec.Address != "" {
			covered[rec.Address] = true
		}
		names[rec.Name] = true
	}

	for _, rec := range kernel {
		if covered[rec.ID] {
			continue
		}
		add(rec.Clone())
	}

	sessions := make([]string, 0, len(r.gatt))
	for id := range r.gatt {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	for _, id := range sessions {
		rec := r.gatt[id]
		if covered[rec.ID] || (rec.Address != "" && covered[rec.Address]) {
			continue
		}
		add(rec.Clone())
	}

	addrs := make([]string, 0, len(diag))
	for addr := range diag {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		entry := diag[addr]
		id := device.NormalizeAddress(addr)
		if covered[id] {
			continue
		}
		rec, ok := fromDiagnostic(id, entry)
		if !ok || names[rec.Name] {
			continue
		}
		add(rec)
	}

	sortRecords(merged)

	changed := !device.EqualLists(merged, r.last)
	if changed {
		r.last = device.CloneList(merged)
	}
	return merged, changed
}

// Devices returns a copy of the most recently merged list.
func (r *Reconciler) Devices() []device.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := device.CloneList(r.last)
	if out == nil {
		out = []device.Record{}
	}
	return out
}

func fromDiagnostic(id string, e report.Entry) (device.Record, bool) {
	level, ok := e.Level()
	if !ok {
		return device.Record{}, false
	}
	name := device.Sanitize(e.Name)
	if name == "" {
		name = device.DefaultName
	}
	kind := device.DetectKind(name)
	if kind == device.Unknown {
		kind = device.KindFromHint(e.MinorType)
	}
	return device.Record{
		ID:           id,
		Name:         name,
		BatteryLevel: device.ClampLevel(level),
		Kind:         kind,
		Components:   e.Components(),
		Address:      id,
	}, true
}

// sortRecords orders by name, byte-wise, then by id.
func sortRecords(records []device.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].ID < records[j].ID
	})
}
