package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/remote/remotetest"
	"github.com/ipimonitor/ipi-api/internal/selection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessAfterLoading(t *testing.T) {
	var seen []Status
	c := New(context.Background(), Source[string, string]{
		Fetch: func(_ context.Context, f string) (string, error) { return "rows for " + f, nil },
	})
	c.OnChange(func(s State[string]) { seen = append(seen, s.Status) })

	s := c.SetFilter("dev-1")

	assert.Equal(t, StatusSuccess, s.Status)
	assert.Equal(t, "rows for dev-1", s.Data)
	assert.Equal(t, uint64(1), s.Generation)
	assert.Equal(t, []Status{StatusLoading, StatusSuccess}, seen)
}

func TestRemoteErrorSurfacedVerbatim(t *testing.T) {
	c := New(context.Background(), Source[string, string]{
		Fetch: func(context.Context, string) (string, error) {
			return "", &remote.Error{Status: 401, Message: "JWT expired"}
		},
	})

	s := c.SetFilter("x")

	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, "JWT expired", s.Error)
	assert.Empty(t, s.Data)
}

func TestStaleResponseDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := New(context.Background(), Source[string, string]{
		Fetch: func(_ context.Context, f string) (string, error) {
			if f == "old" {
				close(started)
				<-release
			}
			return "data " + f, nil
		},
	})

	done := make(chan State[string])
	go func() { done <- c.SetFilter("old") }()
	<-started

	fresh := c.SetFilter("new")
	require.Equal(t, "data new", fresh.Data)

	close(release)
	late := <-done

	assert.Equal(t, "data new", late.Data)
	assert.Equal(t, "data new", c.State().Data)
	assert.Equal(t, fresh.Generation, c.State().Generation)
}

type countingWatch struct {
	mu       sync.Mutex
	keys     []string
	active   map[string]int
	triggers map[string]func()
}

func newCountingWatch() *countingWatch {
	return &countingWatch{active: map[string]int{}, triggers: map[string]func(){}}
}

func (w *countingWatch) watch(_ context.Context, f string, changed func()) (remote.Subscription, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys = append(w.keys, f)
	w.active[f]++
	w.triggers[f] = changed
	return remote.SubscriptionFunc(func() {
		w.mu.Lock()
		w.active[f]--
		w.mu.Unlock()
	}), nil
}

func (w *countingWatch) count(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active[key]
}

func TestResubscribeOnlyWhenKeyChanges(t *testing.T) {
	w := newCountingWatch()
	c := New(context.Background(), Source[string, string]{
		Fetch: func(_ context.Context, f string) (string, error) { return f, nil },
		Watch: w.watch,
		Key:   func(f string) string { return f },
	})

	c.SetFilter("a")
	c.SetFilter("a")
	c.SetFilter("b")

	assert.Equal(t, []string{"a", "b"}, w.keys)
	assert.Equal(t, 0, w.count("a"))
	assert.Equal(t, 1, w.count("b"))

	c.Stop()
	assert.Equal(t, 0, w.count("b"))
}

func TestChangeTriggersRefetch(t *testing.T) {
	w := newCountingWatch()
	var mu sync.Mutex
	calls := 0
	c := New(context.Background(), Source[string, int]{
		Fetch: func(context.Context, string) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return calls, nil
		},
		Watch: func(ctx context.Context, f string, changed func()) (remote.Subscription, error) {
			return w.watch(ctx, f, changed)
		},
		Key: func(f string) string { return f },
	})

	c.SetFilter("a")
	w.mu.Lock()
	trigger := w.triggers["a"]
	w.mu.Unlock()
	trigger()

	assert.Eventually(t, func() bool {
		s := c.State()
		return s.Status == StatusSuccess && s.Data == 2
	}, time.Second, 5*time.Millisecond)
}

func TestStoppedControllerIgnoresFilters(t *testing.T) {
	calls := 0
	c := New(context.Background(), Source[string, string]{
		Fetch: func(context.Context, string) (string, error) { calls++; return "", nil },
	})
	c.Stop()
	c.SetFilter("a")
	assert.Equal(t, 0, calls)
}

func TestUpdateNeedsSuccess(t *testing.T) {
	c := New(context.Background(), Source[string, string]{
		Fetch: func(context.Context, string) (string, error) { return "", errors.New("boom") },
	})
	c.SetFilter("a")
	s := c.Update(func(string) string { return "changed" })
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, "boom", s.Error)
}

// chart and device screens against the in-memory backend

func ptr[T any](v T) *T { return &v }

func at(hour int) time.Time {
	return time.Date(2025, 10, 16, hour, 0, 0, 0, time.UTC)
}

func seedDevice(fake *remotetest.Fake, unit model.TemperatureUnit) {
	fake.Seed(model.TableDevice, model.Device{
		DeviceID:        "AA:BB",
		UserID:          7,
		DeviceName:      "Greenhouse",
		TemperatureUnit: unit,
		LastUploaded:    at(12),
	})
}

func seedReading(fake *remotetest.Fake, hour int, temp float64) {
	fake.Seed(model.TableMeasurement, model.Measurement{
		UserID:          7,
		DeviceID:        "AA:BB",
		DateTime:        at(hour),
		Temperature:     temp,
		Humidity:        ptr(50.0),
		DewPoint:        ptr(10.0),
		TemperatureUnit: model.Celsius,
	})
}

func TestChartRangeAggregates(t *testing.T) {
	fake := remotetest.New()
	seedDevice(fake, model.Celsius)
	seedReading(fake, 1, 25)
	seedReading(fake, 2, 18)
	seedReading(fake, 3, 22.5)
	seedReading(fake, 9, 40)

	cc := NewChartController(context.Background(), fake, time.UTC, AllSeries())
	defer cc.Stop()
	s := cc.SetFilter(ChartFilter{UserID: 7, DeviceID: "AA:BB", Start: ptr(at(1)), End: ptr(at(3))})

	require.Equal(t, StatusSuccess, s.Status, s.Error)
	v := s.Data
	require.Len(t, v.Points, 3)
	assert.Equal(t, 25.0, v.Points[0].Temperature)
	assert.Equal(t, "Oct 16, 01:00 AM", v.Points[0].Time)
	assert.InDelta(t, 21.833, v.Temperature.Average, 0.001)
	assert.Equal(t, 25.0, v.Temperature.High)
	assert.Equal(t, 18.0, v.Temperature.Low)
	assert.Equal(t, "Greenhouse", v.DeviceName)
	assert.Equal(t, 1, fake.Subscribers(model.TableMeasurement))
}

func TestChartLatestUsesLimitAndConvertsUnit(t *testing.T) {
	fake := remotetest.New()
	seedDevice(fake, model.Fahrenheit)
	for h := 0; h < 5; h++ {
		seedReading(fake, h, 20)
	}

	cc := NewChartController(context.Background(), fake, time.UTC, AllSeries())
	defer cc.Stop()
	s := cc.SetFilter(ChartFilter{UserID: 7, DeviceID: "AA:BB", Limit: 3})

	require.Equal(t, StatusSuccess, s.Status, s.Error)
	require.Len(t, s.Data.Points, 3)
	assert.Equal(t, at(2), s.Data.Points[0].At)
	assert.InDelta(t, 68.0, s.Data.Points[0].Temperature, 0.001)
	assert.InDelta(t, 50.0, s.Data.Points[0].DewPoint, 0.001)
	assert.Equal(t, "°F", s.Data.UnitSymbol)

	last := fake.Queries[len(fake.Queries)-1]
	assert.Equal(t, 3, last.Limit)
	assert.False(t, last.Order.Ascending)
}

func TestChartToggleDoesNotRefetch(t *testing.T) {
	fake := remotetest.New()
	seedDevice(fake, model.Celsius)
	seedReading(fake, 1, 40)

	cc := NewChartController(context.Background(), fake, time.UTC, AllSeries())
	defer cc.Stop()
	first := cc.SetFilter(ChartFilter{UserID: 7, DeviceID: "AA:BB"})
	queries := len(fake.Queries)

	s := cc.Toggle(SeriesTemperature, false)

	assert.Equal(t, queries, len(fake.Queries))
	assert.Equal(t, first.Generation, s.Generation)
	assert.False(t, s.Data.Display.Temperature)
	// humidity 50 and dew point 10 remain visible
	assert.Equal(t, 5.0, s.Data.Domain.Min)
	assert.Equal(t, 55.0, s.Data.Domain.Max)
	assert.Len(t, s.Data.Points, 1)
}

func TestChartUnknownDevice(t *testing.T) {
	fake := remotetest.New()
	cc := NewChartController(context.Background(), fake, time.UTC, AllSeries())
	defer cc.Stop()

	s := cc.SetFilter(ChartFilter{UserID: 7, DeviceID: "nope"})
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, remote.ErrNotFound.Error(), s.Error)
}

func TestChartRefetchesOnInsert(t *testing.T) {
	fake := remotetest.New()
	seedDevice(fake, model.Celsius)
	seedReading(fake, 1, 20)

	cc := NewChartController(context.Background(), fake, time.UTC, AllSeries())
	defer cc.Stop()
	cc.SetFilter(ChartFilter{UserID: 7, DeviceID: "AA:BB"})

	err := fake.Insert(context.Background(), model.TableMeasurement, model.MeasurementInsert{
		UserID: 7, DeviceID: "AA:BB", DateTime: at(2), Temperature: 21, TemperatureUnit: model.Celsius,
	}, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s := cc.State()
		return s.Status == StatusSuccess && len(s.Data.Points) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestParseDisplay(t *testing.T) {
	assert.Equal(t, AllSeries(), ParseDisplay(""))
	assert.Equal(t, Display{Humidity: true, DewPoint: true}, ParseDisplay("humidity, dewPoint"))
	assert.Equal(t, Display{Temperature: true}, ParseDisplay("temperature,bogus"))
}

type memSlot struct {
	mu    sync.Mutex
	slots map[string]string
}

func (m *memSlot) Load(_ context.Context, owner string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[owner], nil
}

func (m *memSlot) Save(_ context.Context, owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[owner] = id
	return nil
}

func (m *memSlot) Clear(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, owner)
	return nil
}

func TestDevicesRestoreSelection(t *testing.T) {
	fake := remotetest.New()
	seedDevice(fake, model.Celsius)
	slot := &memSlot{slots: map[string]string{"u-1": "AA:BB"}}

	dc := NewDevicesController(context.Background(), fake, selection.New(slot, "u-1"))
	defer dc.Stop()
	s := dc.SetFilter(DevicesFilter{UserID: 7})

	require.Equal(t, StatusSuccess, s.Status)
	require.Len(t, s.Data.Devices, 1)
	require.NotNil(t, s.Data.Selected)
	assert.Equal(t, "AA:BB", s.Data.Selected.DeviceID)
}

func TestDevicesStaleSelectionCollapses(t *testing.T) {
	fake := remotetest.New()
	seedDevice(fake, model.Celsius)
	slot := &memSlot{slots: map[string]string{"u-1": "GONE"}}

	dc := NewDevicesController(context.Background(), fake, selection.New(slot, "u-1"))
	defer dc.Stop()
	s := dc.SetFilter(DevicesFilter{UserID: 7})

	require.Equal(t, StatusSuccess, s.Status)
	assert.Nil(t, s.Data.Selected)

	s, err := dc.Select(context.Background(), "AA:BB")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB", s.Data.Selected.DeviceID)
	assert.Equal(t, "AA:BB", slot.slots["u-1"])

	_, err = dc.Select(context.Background(), "GONE")
	assert.ErrorIs(t, err, selection.ErrUnknownDevice)
}

func TestMeasurementsToggleRange(t *testing.T) {
	fake := remotetest.New()
	mc := NewMeasurementsController(context.Background(), fake)
	now := at(12)
	mc.now = func() time.Time { return now }
	defer mc.Stop()

	seedReading(fake, 11, 20)
	s := mc.SetFilter(MeasurementsFilter{UserID: 7})
	require.Equal(t, StatusSuccess, s.Status)
	assert.Equal(t, RecentHours, s.Data.Hours)
	assert.Len(t, s.Data.Measurements, 1)

	s = mc.ToggleRange()
	assert.Equal(t, RecentHoursToggled, s.Data.Hours)
	assert.Equal(t, now.Add(-48*time.Hour), s.Data.Since)

	s = mc.ToggleRange()
	assert.Equal(t, RecentHours, s.Data.Hours)
}
