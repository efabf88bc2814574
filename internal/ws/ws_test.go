package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ipimonitor/ipi-api/internal/controller"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote/remotetest"
	"github.com/ipimonitor/ipi-api/internal/repository"
	"github.com/ipimonitor/ipi-api/internal/selection"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const revoked = "test:revoked"

func TestHubClosesRevokedSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	hub := NewHub(rdb, revoked)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	mine := NewClient(hub, nil, "sid-1", "u-ada")
	other := NewClient(hub, nil, "sid-2", "u-bob")
	require.True(t, hub.Register(mine))
	require.True(t, hub.Register(other))
	require.Eventually(t, func() bool { return hub.Connections("sid-1") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, rdb.Publish(ctx, revoked, "sid-1").Err())

	require.Eventually(t, mine.Closed, time.Second, 5*time.Millisecond)
	assert.False(t, other.Closed())
	assert.Equal(t, 0, hub.Connections("sid-1"))

	data, ok := <-mine.send
	require.True(t, ok)
	var event model.WSEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, model.WSEventRevoked, event.Type)

	_, ok = <-mine.send
	assert.False(t, ok)
}

func TestClientSendAfterCloseIsDropped(t *testing.T) {
	c := NewClient(nil, nil, "sid", "u")
	c.close()
	c.close()

	c.Send(&model.WSEvent{Type: model.WSEventState})
	_, ok := <-c.send
	assert.False(t, ok)
}

func TestHubStoppedRejectsRegistration(t *testing.T) {
	mr := miniredis.RunT(t)
	hub := NewHub(redis.NewClient(&redis.Options{Addr: mr.Addr()}), revoked)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	c := NewClient(hub, nil, "sid", "u")
	assert.False(t, hub.Register(c))
	hub.Unregister(c)
	assert.True(t, c.Closed())
}

// ==================== Live view ====================

type recorder struct {
	mu     sync.Mutex
	events []model.WSEvent
	errors []string
}

func (r *recorder) Send(e *model.WSEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
}

func (r *recorder) SendError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recorder) last(screen string) (model.ScreenState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if s, ok := r.events[i].Payload.(model.ScreenState); ok && s.Screen == screen {
			return s, true
		}
	}
	return model.ScreenState{}, false
}

func (r *recorder) lastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) == 0 {
		return ""
	}
	return r.errors[len(r.errors)-1]
}

var base = time.Date(2025, 10, 16, 0, 0, 0, 0, time.UTC)

func liveFixture(t *testing.T) (*LiveView, *recorder, *remotetest.Fake, *repository.SelectionRepository) {
	mr := miniredis.RunT(t)
	store := repository.NewSelectionRepository(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	fake := remotetest.New()
	for i, id := range []string{"AA:BB", "CC:DD"} {
		fake.Seed(model.TableDevice, model.Device{
			DeviceID: id, UserID: 7, DeviceName: id, TemperatureUnit: model.Celsius,
			LastUploaded: base.Add(time.Duration(i) * time.Hour),
		})
	}
	fake.Seed(model.TableMeasurement, model.Measurement{
		UserID: 7, DeviceID: "AA:BB", DateTime: base, Temperature: 20, TemperatureUnit: model.Celsius,
	})

	rec := &recorder{}
	view := NewLiveView(context.Background(), LiveConfig{
		Client:     fake,
		Selection:  selection.New(store, "u-ada"),
		Selections: store,
		AuthUser:   "u-ada",
		UserID:     7,
	}, rec)
	t.Cleanup(view.Close)
	return view, rec, fake, store
}

func TestLiveChartNeedsDevice(t *testing.T) {
	view, rec, _, _ := liveFixture(t)

	view.Handle(model.WSCommand{Type: model.WSCommandWatch, Screen: model.ScreenChart})

	assert.Equal(t, errNoDevice.Error(), rec.lastError())
}

func TestLiveChartFollowsStoredSelection(t *testing.T) {
	view, rec, fake, store := liveFixture(t)
	require.NoError(t, store.Save(context.Background(), "u-ada", "AA:BB"))

	view.Handle(model.WSCommand{Type: model.WSCommandWatch, Screen: model.ScreenChart})

	s, ok := rec.last(model.ScreenChart)
	require.True(t, ok)
	state := s.State.(controller.State[controller.ChartView])
	assert.Equal(t, controller.StatusSuccess, state.Status)
	assert.Equal(t, "AA:BB", state.Data.DeviceID)
	assert.Len(t, state.Data.Points, 1)
	assert.Equal(t, 1, fake.Subscribers(model.TableMeasurement))

	view.Handle(model.WSCommand{Type: model.WSCommandToggle, Screen: model.ScreenChart, Series: "humidity", Visible: false})
	s, _ = rec.last(model.ScreenChart)
	assert.False(t, s.State.(controller.State[controller.ChartView]).Data.Display.Humidity)

	view.Handle(model.WSCommand{Type: model.WSCommandUnwatch, Screen: model.ScreenChart})
	assert.Equal(t, 0, fake.Subscribers(model.TableMeasurement))
}

func TestLiveSelectMovesChart(t *testing.T) {
	view, rec, _, store := liveFixture(t)

	view.Handle(model.WSCommand{Type: model.WSCommandWatch, Screen: model.ScreenDevices})
	view.Handle(model.WSCommand{Type: model.WSCommandWatch, Screen: model.ScreenChart, DeviceID: "AA:BB"})
	view.Handle(model.WSCommand{Type: model.WSCommandSelect, DeviceID: "CC:DD"})

	devices, ok := rec.last(model.ScreenDevices)
	require.True(t, ok)
	selected := devices.State.(controller.State[controller.DevicesView]).Data.Selected
	require.NotNil(t, selected)
	assert.Equal(t, "CC:DD", selected.DeviceID)

	chart, _ := rec.last(model.ScreenChart)
	assert.Equal(t, "CC:DD", chart.State.(controller.State[controller.ChartView]).Data.DeviceID)

	stored, err := store.Load(context.Background(), "u-ada")
	require.NoError(t, err)
	assert.Equal(t, "CC:DD", stored)
}

func TestLiveRangeValidation(t *testing.T) {
	view, rec, _, _ := liveFixture(t)
	start := base

	view.Handle(model.WSCommand{Type: model.WSCommandRange, Start: &start})
	assert.Equal(t, errHalfRange.Error(), rec.lastError())

	end := base.Add(time.Hour)
	view.Handle(model.WSCommand{Type: model.WSCommandRange, Start: &start, End: &end})
	assert.Equal(t, errNotWatching.Error(), rec.lastError())

	view.Handle(model.WSCommand{Type: "dance"})
	assert.Equal(t, errUnknownCmd.Error(), rec.lastError())
}

func TestLiveMeasurementsToggle(t *testing.T) {
	view, rec, _, _ := liveFixture(t)

	view.Handle(model.WSCommand{Type: model.WSCommandWatch, Screen: model.ScreenMeasurements})
	view.Handle(model.WSCommand{Type: model.WSCommandToggle, Screen: model.ScreenMeasurements})

	s, ok := rec.last(model.ScreenMeasurements)
	require.True(t, ok)
	assert.Equal(t, controller.RecentHoursToggled, s.State.(controller.State[controller.MeasurementsView]).Data.Hours)
}
