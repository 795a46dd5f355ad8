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
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/config"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/device"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/gatt"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/history"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/reconcile"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/report"
)

// Sink receives the merged device list each time it changes.
type Sink interface {
	DevicesChanged([]device.Record)
}

type KernelSource interface {
	Poll(diag map[string]report.Entry) []device.Record
}

type DiagnosticSource interface {
	CollectEntries(ctx context.Context) map[string]report.Entry
}

type GattSource interface {
	Events() <-chan gatt.Event
	Rescan()
}

type Options struct {
	RefreshInterval time.Duration
	// RescanDelay is how long after a GATT disconnect all sources are
	// refreshed again.
	RescanDelay time.Duration
}

// Monitor runs the refresh loop. All source data and reconciliation passes
// are handled by the goroutine running Run, other methods only post
// requests to it.
type Monitor struct {
	kernel  KernelSource
	diag    DiagnosticSource
	gatt    GattSource
	rec     *reconcile.Reconciler
	history *history.Engine
	sinks   []Sink
	log     *logging.Logger
	now     func() time.Time

	rescanDelay time.Duration
	minInterval time.Duration

	mu              sync.Mutex
	interval        time.Duration
	intervalChanged chan struct{}
	refresh         chan struct{}

	// Owned by the loop.
	kernelCache    []device.Record
	diagCache      map[string]report.Entry
	collecting     bool
	refreshPending bool
	rescanAt       time.Time
}

// New returns a monitor. gatt may be nil when no GATT source is available.
func New(opts Options, kernel KernelSource, diag DiagnosticSource, gattSource GattSource,
	rec *reconcile.Reconciler, hist *history.Engine, log *logging.Logger) *Monitor {
	if log == nil {
		log = logging.NewLogger("info")
	}
	if opts.RefreshInterval < config.MinRefreshInterval {
		opts.RefreshInterval = config.DefaultMonitor().RefreshInterval
	}
	if opts.RescanDelay <= 0 {
		opts.RescanDelay = config.DefaultMonitor().RescanDelay
	}
	return &Monitor{
		kernel:          kernel,
		diag:            diag,
		gatt:            gattSource,
		rec:             rec,
		history:         hist,
		log:             log,
		now:             time.Now,
		rescanDelay:     opts.RescanDelay,
		minInterval:     config.MinRefreshInterval,
		interval:        opts.RefreshInterval,
		intervalChanged: make(chan struct{}, 1),
		refresh:         make(chan struct{}, 1),
		diagCache:       map[string]report.Entry{},
	}
}

func (m *Monitor) AddSink(s Sink) {
	m.sinks = append(m.sinks, s)
}

// Devices returns the most recently merged device list.
func (m *Monitor) Devices() []device.Record {
	return m.rec.Devices()
}

func (m *Monitor) Estimate(id string) history.Estimate {
	return m.history.EstimateRemaining(id, m.now())
}

// EstimateText returns the remaining battery time of a device, "" if there
// is no estimate.
func (m *Monitor) EstimateText(id string) string {
	return m.Estimate(id).String()
}

// Refresh asks the loop to re-collect from every source.
func (m *Monitor) Refresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

func (m *Monitor) RefreshInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// SetRefreshInterval restarts the refresh timer with a new interval.
func (m *Monitor) SetRefreshInterval(d time.Duration) error {
	if d < m.minInterval {
		return fmt.Errorf("refresh interval %s is below the minimum of %s", d, m.minInterval)
	}
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
	select {
	case m.intervalChanged <- struct{}{}:
	default:
	}
	return nil
}

// Run refreshes every source straight away and then on each tick, until ctx
// is done.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.RefreshInterval()
	ticker := time.NewTicker(interval)
	defer func() { ticker.Stop() }()

	wake := time.NewTimer(time.Hour)
	stopTimer(wake)
	defer wake.Stop()

	var gattEvents <-chan gatt.Event
	if m.gatt != nil {
		gattEvents = m.gatt.Events()
	}
	diagResults := make(chan map[string]report.Entry, 1)

	m.log.Infof("Refreshing every %s", interval)
	m.startRefresh(ctx, diagResults)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			m.startRefresh(ctx, diagResults)

		case <-m.refresh:
			m.startRefresh(ctx, diagResults)

		case <-m.intervalChanged:
			ticker.Stop()
			interval = m.RefreshInterval()
			ticker = time.NewTicker(interval)
			m.log.Infof("Refresh interval changed to %s", interval)

		case entries := <-diagResults:
			m.collecting = false
			m.diagCache = entries
			m.kernelCache = m.kernel.Poll(entries)
			if m.gatt != nil {
				m.gatt.Rescan()
			}
			m.reconcile()
			if m.refreshPending {
				m.refreshPending = false
				m.startRefresh(ctx, diagResults)
			}

		case ev, ok := <-gattEvents:
			if !ok {
				gattEvents = nil
				continue
			}
			now := m.now()
			m.rec.ApplyGatt(ev, now)
			if ev.Kind == gatt.Disconnect {
				m.rescanAt = now.Add(m.rescanDelay)
			}
			m.reconcile()

		case <-wake.C:
			now := m.now()
			if expired := m.rec.Expire(now); len(expired) > 0 {
				m.log.Infof("Removed disconnected devices %v", expired)
				m.reconcile()
			}
			if !m.rescanAt.IsZero() && !now.Before(m.rescanAt) {
				m.rescanAt = time.Time{}
				m.startRefresh(ctx, diagResults)
			}
		}
		m.armWake(wake)
	}
}

// startRefresh collects the diagnostic report in the background. The result
// is handled by the loop. A refresh requested while one is running is
// started once it is done.
func (m *Monitor) startRefresh(ctx context.Context, results chan<- map[string]report.Entry) {
	if m.collecting {
		m.refreshPending = true
		return
	}
	m.collecting = true
	go func() {
		entries := m.diag.CollectEntries(ctx)
		select {
		case results <- entries:
		case <-ctx.Done():
		}
	}()
}

func (m *Monitor) reconcile() {
	now := m.now()
	merged, changed := m.rec.Reconcile(m.kernelCache, m.diagCache, now)
	for _, d := range merged {
		m.history.Record(d.ID, d.BatteryLevel, now)
	}
	if !changed {
		return
	}
	for _, s := range m.sinks {
		s.DevicesChanged(device.CloneList(merged))
	}
}

// armWake sets the timer for the earliest pending removal or rescan.
func (m *Monitor) armWake(wake *time.Timer) {
	next, ok := m.rec.NextDeadline()
	if !m.rescanAt.IsZero() && (!ok || m.rescanAt.Before(next)) {
		next, ok = m.rescanAt, true
	}
	stopTimer(wake)
	if !ok {
		return
	}
	d := next.Sub(m.now())
	if d < 0 {
		d = 0
	}
	wake.Reset(d)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// logSink logs the device list on every change.
type logSink struct {
	log *logging.Logger
}

func (s logSink) DevicesChanged(devices []device.Record) {
	s.log.Infof("%d device(s)", len(devices))
	for _, d := range devices {
		if d.Components.Empty() {
			s.log.Infof("  %s: %d%%", d.Name, d.BatteryLevel)
		} else {
			s.log.Infof("  %s: %d%% (%s)", d.Name, d.BatteryLevel, d.Components.String())
		}
	}
}
