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

package alert

import (
	"sync"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/device"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
)

const EventType = "bluetoothBatteryLow"

// Estimator gives the remaining time text for a device, "" if unknown.
type Estimator interface {
	EstimateText(id string) string
}

// Alerter raises one event when a device battery drops to the threshold. It
// is raised again only after the level has risen above the threshold.
type Alerter struct {
	threshold int
	estimator Estimator
	log       *logging.Logger

	// send and now are replaced in tests.
	send func(eventclient.Event) error
	now  func() time.Time

	mu  sync.Mutex
	low map[string]bool
}

func New(threshold int, estimator Estimator, log *logging.Logger) *Alerter {
	if log == nil {
		log = logging.NewLogger("info")
	}
	return &Alerter{
		threshold: threshold,
		estimator: estimator,
		log:       log,
		send:      eventclient.AddEvent,
		now:       time.Now,
		low:       map[string]bool{},
	}
}

// DevicesChanged checks every device against the threshold.
func (a *Alerter) DevicesChanged(devices []device.Record) {
	if a.threshold <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	present := map[string]bool{}
	for _, d := range devices {
		present[d.ID] = true
		if d.BatteryLevel > a.threshold {
			delete(a.low, d.ID)
			continue
		}
		if a.low[d.ID] {
			continue
		}
		a.low[d.ID] = true
		a.report(d)
	}
	for id := range a.low {
		if !present[id] {
			delete(a.low, id)
		}
	}
}

func (a *Alerter) report(d device.Record) {
	details := map[string]interface{}{
		"id":        d.ID,
		"name":      d.Name,
		"battery":   d.BatteryLevel,
		"kind":      string(d.Kind),
		"threshold": a.threshold,
	}
	if !d.Components.Empty() {
		details["components"] = d.Components.String()
	}
	if a.estimator != nil {
		if text := a.estimator.EstimateText(d.ID); text != "" {
			details["timeRemaining"] = text
		}
	}
	event := eventclient.Event{
		Timestamp: a.now(),
		Type:      EventType,
		Details:   details,
	}
	if err := a.send(event); err != nil {
		a.log.Error("Error sending low battery event:", err)
		return
	}
	a.log.Infof("Low battery event: %s at %d%%", d.Name, d.BatteryLevel)
}
