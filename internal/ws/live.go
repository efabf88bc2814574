package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ipimonitor/ipi-api/internal/controller"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/selection"
)

var (
	errNoDevice      = errors.New("select a device first")
	errNotWatching   = errors.New("screen is not being watched")
	errUnknownScreen = errors.New("unknown screen")
	errUnknownCmd    = errors.New("unknown command")
	errHalfRange     = errors.New("a date range needs both start and end")
	errRangeOrder    = errors.New("start must not be after end")
)

// Sender receives the events of a live view
type Sender interface {
	Send(event *model.WSEvent)
	SendError(message string)
}

// LiveConfig is what a live view needs to know about its user
type LiveConfig struct {
	Client       remote.DataClient
	Selection    *selection.State
	Selections   selection.Store
	AuthUser     string
	UserID       int64
	Location     *time.Location
	DefaultLimit int
}

// LiveView drives the screen controllers of one connection. Every state
// transition of a watched screen is pushed to the browser.
type LiveView struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    LiveConfig
	out    Sender

	mu           sync.Mutex
	devices      *controller.DevicesController
	chart        *controller.ChartController
	measurements *controller.MeasurementsController
}

func NewLiveView(ctx context.Context, cfg LiveConfig, out Sender) *LiveView {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = controller.DefaultChartLimit
	}
	ctx, cancel := context.WithCancel(ctx)
	return &LiveView{ctx: ctx, cancel: cancel, cfg: cfg, out: out}
}

func forward[T any](out Sender, screen string) func(controller.State[T]) {
	return func(s controller.State[T]) {
		out.Send(&model.WSEvent{Type: model.WSEventState, Payload: model.ScreenState{Screen: screen, State: s}})
	}
}

// Handle applies one browser command
func (v *LiveView) Handle(cmd model.WSCommand) {
	var err error
	switch cmd.Type {
	case model.WSCommandWatch:
		err = v.watch(cmd)
	case model.WSCommandUnwatch:
		err = v.unwatch(cmd.Screen)
	case model.WSCommandRange:
		err = v.setRange(cmd)
	case model.WSCommandToggle:
		err = v.toggle(cmd)
	case model.WSCommandSelect:
		err = v.selectDevice(cmd.DeviceID)
	case model.WSCommandRefresh:
		err = v.refresh(cmd.Screen)
	default:
		err = errUnknownCmd
	}
	if err != nil {
		v.out.SendError(remote.Message(err))
	}
}

func checkRange(start, end *time.Time) error {
	if (start == nil) != (end == nil) {
		return errHalfRange
	}
	if start != nil && start.After(*end) {
		return errRangeOrder
	}
	return nil
}

func (v *LiveView) selectedID() string {
	if v.cfg.Selection != nil {
		if id := v.cfg.Selection.Selected(); id != "" {
			return id
		}
	}
	if v.cfg.Selections == nil {
		return ""
	}
	id, err := v.cfg.Selections.Load(v.ctx, v.cfg.AuthUser)
	if err != nil {
		log.Printf("⚠️  live view: selection lookup failed: %v", err)
		return ""
	}
	return id
}

func (v *LiveView) watch(cmd model.WSCommand) error {
	switch cmd.Screen {
	case model.ScreenDevices:
		v.mu.Lock()
		if v.devices == nil {
			v.devices = controller.NewDevicesController(v.ctx, v.cfg.Client, v.cfg.Selection)
			v.devices.OnChange(forward[controller.DevicesView](v.out, model.ScreenDevices))
		}
		dc := v.devices
		v.mu.Unlock()
		dc.SetFilter(controller.DevicesFilter{UserID: v.cfg.UserID})
		return nil

	case model.ScreenChart:
		if err := checkRange(cmd.Start, cmd.End); err != nil {
			return err
		}
		deviceID := cmd.DeviceID
		if deviceID == "" {
			deviceID = v.selectedID()
		}
		if deviceID == "" {
			return errNoDevice
		}
		limit := cmd.Limit
		if limit <= 0 {
			limit = v.cfg.DefaultLimit
		}

		v.mu.Lock()
		old := v.chart
		cc := controller.NewChartController(v.ctx, v.cfg.Client, v.cfg.Location, controller.ParseDisplay(cmd.Show))
		cc.OnChange(forward[controller.ChartView](v.out, model.ScreenChart))
		v.chart = cc
		v.mu.Unlock()

		if old != nil {
			old.Stop()
		}
		cc.SetFilter(controller.ChartFilter{
			UserID:   v.cfg.UserID,
			DeviceID: deviceID,
			Start:    cmd.Start,
			End:      cmd.End,
			Limit:    limit,
		})
		return nil

	case model.ScreenMeasurements:
		v.mu.Lock()
		if v.measurements == nil {
			v.measurements = controller.NewMeasurementsController(v.ctx, v.cfg.Client)
			v.measurements.OnChange(forward[controller.MeasurementsView](v.out, model.ScreenMeasurements))
		}
		mc := v.measurements
		v.mu.Unlock()
		mc.SetFilter(controller.MeasurementsFilter{UserID: v.cfg.UserID, Hours: cmd.Hours})
		return nil
	}
	return errUnknownScreen
}

func (v *LiveView) unwatch(screen string) error {
	v.mu.Lock()
	var stop func()
	switch screen {
	case model.ScreenDevices:
		if v.devices != nil {
			stop = v.devices.Stop
		}
		v.devices = nil
	case model.ScreenChart:
		if v.chart != nil {
			stop = v.chart.Stop
		}
		v.chart = nil
	case model.ScreenMeasurements:
		if v.measurements != nil {
			stop = v.measurements.Stop
		}
		v.measurements = nil
	default:
		v.mu.Unlock()
		return errUnknownScreen
	}
	v.mu.Unlock()

	if stop != nil {
		stop()
	}
	return nil
}

func (v *LiveView) setRange(cmd model.WSCommand) error {
	if err := checkRange(cmd.Start, cmd.End); err != nil {
		return err
	}
	v.mu.Lock()
	cc := v.chart
	v.mu.Unlock()
	if cc == nil {
		return errNotWatching
	}
	cc.SetRange(cmd.Start, cmd.End)
	return nil
}

func (v *LiveView) toggle(cmd model.WSCommand) error {
	v.mu.Lock()
	cc, mc := v.chart, v.measurements
	v.mu.Unlock()

	switch cmd.Screen {
	case model.ScreenChart:
		if cc == nil {
			return errNotWatching
		}
		cc.Toggle(controller.Series(cmd.Series), cmd.Visible)
		return nil
	case model.ScreenMeasurements:
		if mc == nil {
			return errNotWatching
		}
		mc.ToggleRange()
		return nil
	}
	return errUnknownScreen
}

// selectDevice changes the selection and moves a watched chart to the new device
func (v *LiveView) selectDevice(deviceID string) error {
	v.mu.Lock()
	dc, cc := v.devices, v.chart
	v.mu.Unlock()

	if dc == nil {
		dc = controller.NewDevicesController(v.ctx, v.cfg.Client, v.cfg.Selection)
		defer dc.Stop()
		if s := dc.Load(controller.DevicesFilter{UserID: v.cfg.UserID}); s.Status != controller.StatusSuccess {
			return errors.New(s.Error)
		}
	}
	if _, err := dc.Select(v.ctx, deviceID); err != nil {
		return err
	}

	if cc != nil {
		f := cc.Filter()
		if f.DeviceID != deviceID {
			f.DeviceID = deviceID
			cc.SetFilter(f)
		}
	}
	return nil
}

func (v *LiveView) refresh(screen string) error {
	v.mu.Lock()
	dc, cc, mc := v.devices, v.chart, v.measurements
	v.mu.Unlock()

	switch screen {
	case model.ScreenDevices:
		if dc == nil {
			return errNotWatching
		}
		dc.Refetch()
	case model.ScreenChart:
		if cc == nil {
			return errNotWatching
		}
		cc.Refetch()
	case model.ScreenMeasurements:
		if mc == nil {
			return errNotWatching
		}
		mc.Refetch()
	default:
		return errUnknownScreen
	}
	return nil
}

// Close stops every screen
func (v *LiveView) Close() {
	v.mu.Lock()
	dc, cc, mc := v.devices, v.chart, v.measurements
	v.devices, v.chart, v.measurements = nil, nil, nil
	v.mu.Unlock()

	if dc != nil {
		dc.Stop()
	}
	if cc != nil {
		cc.Stop()
	}
	if mc != nil {
		mc.Stop()
	}
	v.cancel()
}
