package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/config"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/device"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/gatt"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/history"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/reconcile"
	"github.com/TheCacophonyProject/bt-battery-monitor/internal/report"
)

type fakeKernel struct {
	mu      sync.Mutex
	records []device.Record
	polls   int
}

func (f *fakeKernel) Poll(diag map[string]report.Entry) []device.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return device.CloneList(f.records)
}

func (f *fakeKernel) set(records []device.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
}

type fakeDiag struct {
	mu      sync.Mutex
	entries map[string]report.Entry
	calls   int
}

func (f *fakeDiag) CollectEntries(ctx context.Context) map[string]report.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.entries
}

func (f *fakeDiag) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGatt struct {
	events  chan gatt.Event
	mu      sync.Mutex
	rescans int
}

func (f *fakeGatt) Events() <-chan gatt.Event { return f.events }

func (f *fakeGatt) Rescan() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescans++
}

type recordingSink struct {
	mu      sync.Mutex
	updates [][]device.Record
}

func (s *recordingSink) DevicesChanged(devices []device.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, devices)
}

func (s *recordingSink) last() []device.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return nil
	}
	return s.updates[len(s.updates)-1]
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func names(devices []device.Record) []string {
	out := []string{}
	for _, d := range devices {
		out = append(out, d.Name)
	}
	return out
}

type harness struct {
	m      *Monitor
	kernel *fakeKernel
	diag   *fakeDiag
	gatt   *fakeGatt
	sink   *recordingSink
	hist   *history.Engine
	cancel context.CancelFunc
	done   chan error
}

func startHarness(t *testing.T, grace, rescanDelay time.Duration) *harness {
	h := &harness{
		kernel: &fakeKernel{records: []device.Record{
			{ID: "aa-bb-cc-dd-ee-ff", Name: "Magic Mouse", BatteryLevel: 40, Address: "aa-bb-cc-dd-ee-ff"},
		}},
		diag: &fakeDiag{entries: map[string]report.Entry{
			"11-22-33-44-55-66": {Address: "11-22-33-44-55-66", Name: "AirPods", Left: device.IntPtr(90), Right: device.IntPtr(85), Case: device.IntPtr(70)},
		}},
		gatt: &fakeGatt{events: make(chan gatt.Event, 8)},
		sink: &recordingSink{},
		hist: history.New(history.DefaultOptions(), nil, logging.Discard()),
	}
	h.m = New(Options{RefreshInterval: time.Hour, RescanDelay: rescanDelay},
		h.kernel, h.diag, h.gatt, reconcile.New(grace), h.hist, logging.Discard())
	h.m.AddSink(h.sink)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func TestInitialRefreshPublishes(t *testing.T) {
	h := startHarness(t, time.Minute, time.Minute)

	require.Eventually(t, func() bool { return h.sink.count() == 1 }, time.Second, 5*time.Millisecond)
	devices := h.sink.last()
	assert.Equal(t, []string{"AirPods", "Magic Mouse"}, names(devices))
	assert.Equal(t, 81, devices[0].BatteryLevel)
	assert.Equal(t, devices, h.m.Devices())

	assert.Len(t, h.hist.Readings("aa-bb-cc-dd-ee-ff"), 1)
	assert.Len(t, h.hist.Readings("11-22-33-44-55-66"), 1)
	assert.Equal(t, "", h.m.EstimateText("aa-bb-cc-dd-ee-ff"))
}

func TestGattEventsReconcileWithoutCollecting(t *testing.T) {
	h := startHarness(t, time.Minute, time.Minute)
	require.Eventually(t, func() bool { return h.sink.count() == 1 }, time.Second, 5*time.Millisecond)

	h.gatt.events <- gatt.Event{Kind: gatt.Update, SessionID: "ble-dev_01", Name: "Pencil", Level: 55}
	require.Eventually(t, func() bool { return h.sink.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"AirPods", "Magic Mouse", "Pencil"}, names(h.sink.last()))
	assert.Equal(t, 1, h.diag.count(), "GATT events use cached diagnostics")

	// Same level again is not a change.
	h.gatt.events <- gatt.Event{Kind: gatt.Update, SessionID: "ble-dev_01", Name: "Pencil", Level: 55}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, h.sink.count())
}

func TestGattDisconnectGraceAndRescan(t *testing.T) {
	h := startHarness(t, 150*time.Millisecond, 50*time.Millisecond)
	require.Eventually(t, func() bool { return h.sink.count() == 1 }, time.Second, 5*time.Millisecond)

	h.gatt.events <- gatt.Event{Kind: gatt.Update, SessionID: "ble-dev_01", Name: "Pencil", Level: 55}
	require.Eventually(t, func() bool { return h.sink.count() == 2 }, time.Second, 5*time.Millisecond)

	h.gatt.events <- gatt.Event{Kind: gatt.Disconnect, SessionID: "ble-dev_01", Level: gatt.NoLevel}
	require.Eventually(t, func() bool { return h.diag.count() == 2 }, time.Second, 5*time.Millisecond, "rescan after disconnect")
	assert.Contains(t, names(h.m.Devices()), "Pencil", "kept during grace")

	require.Eventually(t, func() bool { return h.sink.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"AirPods", "Magic Mouse"}, names(h.sink.last()))
}

func TestReconnectWithinGrace(t *testing.T) {
	h := startHarness(t, 200*time.Millisecond, time.Hour)
	require.Eventually(t, func() bool { return h.sink.count() == 1 }, time.Second, 5*time.Millisecond)

	h.gatt.events <- gatt.Event{Kind: gatt.Update, SessionID: "ble-dev_01", Name: "Pencil", Level: 55}
	h.gatt.events <- gatt.Event{Kind: gatt.Disconnect, SessionID: "ble-dev_01", Level: gatt.NoLevel}
	h.gatt.events <- gatt.Event{Kind: gatt.Connect, SessionID: "ble-dev_01", Level: gatt.NoLevel}

	time.Sleep(400 * time.Millisecond)
	assert.Contains(t, names(h.m.Devices()), "Pencil")
}

func TestManualRefreshAndKernelRemoval(t *testing.T) {
	h := startHarness(t, time.Minute, time.Minute)
	require.Eventually(t, func() bool { return h.sink.count() == 1 }, time.Second, 5*time.Millisecond)

	h.kernel.set(nil)
	h.m.Refresh()
	require.Eventually(t, func() bool { return h.sink.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"AirPods"}, names(h.sink.last()))
	assert.Equal(t, 2, h.diag.count())
}

func TestSetRefreshInterval(t *testing.T) {
	h := startHarness(t, time.Minute, time.Minute)
	require.Eventually(t, func() bool { return h.sink.count() == 1 }, time.Second, 5*time.Millisecond)

	assert.Error(t, h.m.SetRefreshInterval(time.Second))
	assert.Equal(t, time.Hour, h.m.RefreshInterval())

	require.NoError(t, h.m.SetRefreshInterval(config.MinRefreshInterval))
	assert.Equal(t, config.MinRefreshInterval, h.m.RefreshInterval())
}

func TestIntervalChangeRestartsTicker(t *testing.T) {
	h := startHarness(t, time.Minute, time.Minute)
	require.Eventually(t, func() bool { return h.sink.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, h.diag.count())

	h.m.minInterval = 10 * time.Millisecond
	require.NoError(t, h.m.SetRefreshInterval(50*time.Millisecond))
	require.Eventually(t, func() bool { return h.diag.count() >= 3 }, 2*time.Second, 5*time.Millisecond,
		"new ticker drives refreshes")
}

func TestRunStopsWithContext(t *testing.T) {
	m := New(Options{}, &fakeKernel{}, &fakeDiag{}, nil, reconcile.New(0), history.New(history.DefaultOptions(), nil, logging.Discard()), logging.Discard())
	assert.Equal(t, config.DefaultMonitor().RefreshInterval, m.RefreshInterval())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConfigChange(t *testing.T) {
	old := &config.Settings{Monitor: config.DefaultMonitor(), History: config.DefaultHistory(), Alert: config.DefaultAlert()}

	same := *old
	diff, _ := configChange(old, &same)
	assert.Equal(t, "", diff)

	interval := *old
	interval.Monitor.RefreshInterval = time.Minute
	diff, intervalOnly := configChange(old, &interval)
	assert.NotEqual(t, "", diff)
	assert.True(t, intervalOnly)

	other := interval
	other.Alert.LowBatteryThreshold = 5
	diff, intervalOnly = configChange(old, &other)
	assert.NotEqual(t, "", diff)
	assert.False(t, intervalOnly)
}
