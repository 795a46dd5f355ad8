package alert

import (
	"errors"
	"testing"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/device"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
)

type fixedEstimator map[string]string

func (f fixedEstimator) EstimateText(id string) string {
	return f[id]
}

func newTestAlerter(threshold int) (*Alerter, *[]eventclient.Event) {
	sent := []eventclient.Event{}
	a := New(threshold, fixedEstimator{"mouse": "~2h remaining"}, logging.Discard())
	a.send = func(e eventclient.Event) error {
		sent = append(sent, e)
		return nil
	}
	a.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return a, &sent
}

func TestAlertOncePerCrossing(t *testing.T) {
	a, sent := newTestAlerter(20)
	mouse := device.Record{ID: "mouse", Name: "Magic Mouse", BatteryLevel: 25, Kind: device.Mouse}

	a.DevicesChanged([]device.Record{mouse})
	assert.Empty(t, *sent)

	mouse.BatteryLevel = 20
	a.DevicesChanged([]device.Record{mouse})
	require.Len(t, *sent, 1)
	e := (*sent)[0]
	assert.Equal(t, EventType, e.Type)
	assert.Equal(t, "Magic Mouse", e.Details["name"])
	assert.Equal(t, 20, e.Details["battery"])
	assert.Equal(t, "~2h remaining", e.Details["timeRemaining"])

	mouse.BatteryLevel = 15
	a.DevicesChanged([]device.Record{mouse})
	assert.Len(t, *sent, 1, "still low, no new event")

	mouse.BatteryLevel = 90
	a.DevicesChanged([]device.Record{mouse})
	mouse.BatteryLevel = 10
	a.DevicesChanged([]device.Record{mouse})
	assert.Len(t, *sent, 2, "charged and dropped again")
}

func TestAlertComponents(t *testing.T) {
	a, sent := newTestAlerter(20)
	buds := device.Record{
		ID:           "buds",
		Name:         "AirPods",
		BatteryLevel: 10,
		Components:   &device.Components{Left: device.IntPtr(10), Right: device.IntPtr(12)},
	}
	a.DevicesChanged([]device.Record{buds})
	require.Len(t, *sent, 1)
	assert.Equal(t, "L:10% R:12%", (*sent)[0].Details["components"])
	_, ok := (*sent)[0].Details["timeRemaining"]
	assert.False(t, ok)
}

func TestAlertDisabled(t *testing.T) {
	a, sent := newTestAlerter(0)
	a.DevicesChanged([]device.Record{{ID: "mouse", BatteryLevel: 0}})
	assert.Empty(t, *sent)
}

func TestAlertForgetsRemovedDevices(t *testing.T) {
	a, sent := newTestAlerter(20)
	low := device.Record{ID: "mouse", Name: "Mouse", BatteryLevel: 5}
	a.DevicesChanged([]device.Record{low})
	a.DevicesChanged(nil)
	a.DevicesChanged([]device.Record{low})
	assert.Len(t, *sent, 2)
}

func TestAlertSendFailureIsLogged(t *testing.T) {
	a, _ := newTestAlerter(20)
	a.send = func(eventclient.Event) error { return errors.New("no event-reporter") }
	assert.NotPanics(t, func() {
		a.DevicesChanged([]device.Record{{ID: "mouse", BatteryLevel: 5}})
	})
}
