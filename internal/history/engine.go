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
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
)

const (
	DefaultDebounce    = 4 * time.Minute
	DefaultMinSpan     = 2 * time.Minute
	DefaultMaxReadings = 2016

	insufficientData = "Insufficient data"
)

// Fallback windows tried, in order, when no drain model has been learned.
// Zero means the whole history.
var estimateWindows = []time.Duration{time.Hour, 24 * time.Hour, 0}

type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Level     int       `json:"level"`
}

type Options struct {
	Debounce    time.Duration
	MinSpan     time.Duration
	MaxReadings int
}

func DefaultOptions() Options {
	return Options{
		Debounce:    DefaultDebounce,
		MinSpan:     DefaultMinSpan,
		MaxReadings: DefaultMaxReadings,
	}
}

// Engine records battery levels per device and estimates the time left until
// each battery is empty. It is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	opts     Options
	store    Store
	log      *logging.Logger
	readings map[string][]Reading
	// drainRates holds the learned hours per percent of each device.
	drainRates map[string]float64
}

// New loads the stored history. A store that cannot be read is treated as
// empty. store may be nil to keep history in memory only.
func New(opts Options, store Store, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NewLogger("info")
	}
	def := DefaultOptions()
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}
	if opts.MinSpan <= 0 {
		opts.MinSpan = def.MinSpan
	}
	if opts.MaxReadings <= 0 {
		opts.MaxReadings = def.MaxReadings
	}
	e := &Engine{
		opts:       opts,
		store:      store,
		log:        log,
		readings:   map[string][]Reading{},
		drainRates: map[string]float64{},
	}
	if store != nil {
		readings, rates, err := store.Load()
		if err != nil {
			log.Errorf("failed to load battery history, starting with empty history: %v", err)
		}
		if readings != nil {
			e.readings = readings
		}
		if rates != nil {
			e.drainRates = rates
		}
	}
	return e
}

// Record adds a reading for the device unless the latest reading has the same
// level and is younger than the debounce window. It returns whether the
// reading was stored.
func (e *Engine) Record(id string, level int, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	readings := e.readings[id]
	if n := len(readings); n > 0 {
		last := readings[n-1]
		if last.Level == level && now.Sub(last.Timestamp) < e.opts.Debounce {
			return false
		}
	}
	readings = append(readings, Reading{Timestamp: now, Level: level})
	if len(readings) > e.opts.MaxReadings {
		readings = append([]Reading(nil), readings[len(readings)-e.opts.MaxReadings:]...)
	}
	e.readings[id] = readings
	e.saveReadings()

	first, last := readings[0], readings[len(readings)-1]
	span := last.Timestamp.Sub(first.Timestamp)
	drop := first.Level - last.Level
	if span > e.opts.MinSpan && drop > 0 {
		e.drainRates[id] = span.Hours() / float64(drop)
		e.log.Debugf("drain model for %s: %.3f hours per percent", id, e.drainRates[id])
		e.saveDrainRates()
	}
	return true
}

// Readings returns a copy of the stored readings of a device, oldest first.
func (e *Engine) Readings(id string) []Reading {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Reading{}, e.readings[id]...)
}

// DrainModel returns the learned hours per percent of a device.
func (e *Engine) DrainModel(id string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rate, ok := e.drainRates[id]
	return rate, ok
}

// Devices returns the ids of all devices with stored readings.
func (e *Engine) Devices() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.readings))
	for id := range e.readings {
		ids = append(ids, id)
	}
	return ids
}

type EstimateKind int

const (
	// NoEstimate means there are fewer than two readings.
	NoEstimate EstimateKind = iota
	// Insufficient means no window shows the battery draining.
	Insufficient
	// FromModel estimates use the learned drain model.
	FromModel
	// FromWindow estimates use the readings within Window.
	FromWindow
)

type Estimate struct {
	Kind  EstimateKind
	Hours float64
	// Window is the fallback window used, zero for the whole history.
	Window time.Duration
}

func (e Estimate) Valid() bool {
	return e.Kind == FromModel || e.Kind == FromWindow
}

// String is empty when there is no estimate.
func (e Estimate) String() string {
	switch e.Kind {
	case Insufficient:
		return insufficientData
	case FromModel, FromWindow:
		return FormatRemaining(e.Hours)
	}
	return ""
}

// EstimateRemaining estimates how long the battery of a device will last. A
// learned drain model is preferred over the windowed fallbacks.
func (e *Engine) EstimateRemaining(id string, now time.Time) Estimate {
	e.mu.Lock()
	defer e.mu.Unlock()

	readings := e.readings[id]
	if len(readings) == 0 {
		return Estimate{Kind: NoEstimate}
	}
	current := readings[len(readings)-1].Level
	if rate, ok := e.drainRates[id]; ok {
		return Estimate{Kind: FromModel, Hours: rate * float64(current)}
	}
	if len(readings) < 2 {
		return Estimate{Kind: NoEstimate}
	}

	for _, window := range estimateWindows {
		subset := readings
		if window > 0 {
			subset = since(readings, now.Add(-window))
		}
		if len(subset) < 2 {
			continue
		}
		first, last := subset[0], subset[len(subset)-1]
		span := last.Timestamp.Sub(first.Timestamp)
		drop := first.Level - last.Level
		if span <= e.opts.MinSpan || drop <= 0 {
			continue
		}
		drainPerHour := float64(drop) / span.Hours()
		return Estimate{
			Kind:   FromWindow,
			Hours:  float64(last.Level) / drainPerHour,
			Window: window,
		}
	}
	return Estimate{Kind: Insufficient}
}

func since(readings []Reading, cutoff time.Time) []Reading {
	for i, r := range readings {
		if !r.Timestamp.Before(cutoff) {
			return readings[i:]
		}
	}
	return nil
}

// FormatRemaining formats hours like "~1d 3h remaining", "~2h 5m remaining"
// or "~4m remaining". Minutes are floored but never shown as less than one.
func FormatRemaining(hours float64) string {
	if hours >= 24 {
		days := int(hours / 24)
		h := int(hours) % 24
		if h == 0 {
			return fmt.Sprintf("~%dd remaining", days)
		}
		return fmt.Sprintf("~%dd %dh remaining", days, h)
	}
	if hours < 1 {
		mins := int(hours * 60)
		if mins < 1 {
			mins = 1
		}
		return fmt.Sprintf("~%dm remaining", mins)
	}
	h := int(hours)
	mins := int((hours - float64(h)) * 60)
	if mins == 0 {
		return fmt.Sprintf("~%dh remaining", h)
	}
	return fmt.Sprintf("~%dh %dm remaining", h, mins)
}

func (e *Engine) saveReadings() {
	if e.store == nil {
		return
	}
	if err := e.store.SaveReadings(e.readings); err != nil {
		e.log.Errorf("failed to save battery history: %v", err)
	}
}

func (e *Engine) saveDrainRates() {
	if e.store == nil {
		return
	}
	if err := e.store.SaveDrainRates(e.drainRates); err != nil {
		e.log.Errorf("failed to save drain rates: %v", err)
	}
}
