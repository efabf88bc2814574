package controller

import (
	"context"
	"strings"
	"time"

	"github.com/ipimonitor/ipi-api/internal/aggregator"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/repository"
)

// DefaultChartLimit is how many of the latest readings an unbounded chart shows
const DefaultChartLimit = 100

// Series names a chart line
type Series string

const (
	SeriesTemperature Series = "temperature"
	SeriesHumidity    Series = "humidity"
	SeriesDewPoint    Series = "dewPoint"
)

// Display selects which series are drawn
type Display struct {
	Temperature bool `json:"temperature"`
	Humidity    bool `json:"humidity"`
	DewPoint    bool `json:"dewPoint"`
}

// AllSeries shows every line
func AllSeries() Display {
	return Display{Temperature: true, Humidity: true, DewPoint: true}
}

// ParseDisplay reads a comma-separated series list; empty means all
func ParseDisplay(s string) Display {
	s = strings.TrimSpace(s)
	if s == "" {
		return AllSeries()
	}
	var d Display
	for _, part := range strings.Split(s, ",") {
		d = d.With(Series(strings.TrimSpace(part)), true)
	}
	return d
}

// With returns d with one series switched
func (d Display) With(series Series, on bool) Display {
	switch Series(strings.ToLower(string(series))) {
	case SeriesTemperature:
		d.Temperature = on
	case SeriesHumidity:
		d.Humidity = on
	case "dewpoint", "dew_point":
		d.DewPoint = on
	}
	return d
}

// ChartFilter selects the readings of one device. With both bounds set the
// range is inclusive; otherwise the latest Limit readings are shown.
type ChartFilter struct {
	UserID   int64
	DeviceID string
	Start    *time.Time
	End      *time.Time
	Limit    int
}

func (f ChartFilter) ranged() bool {
	return f.Start != nil && f.End != nil
}

// ChartView is the chart screen model
type ChartView struct {
	DeviceID    string                `json:"device_id"`
	DeviceName  string                `json:"device_name"`
	Unit        model.TemperatureUnit `json:"unit"`
	UnitSymbol  string                `json:"unit_symbol"`
	Start       *time.Time            `json:"start,omitempty"`
	End         *time.Time            `json:"end,omitempty"`
	Points      []aggregator.Point    `json:"points"`
	Temperature aggregator.Stats      `json:"temperature"`
	Humidity    aggregator.Stats      `json:"humidity"`
	DewPoint    aggregator.Stats      `json:"dewPoint"`
	Domain      aggregator.Domain     `json:"domain"`
	Display     Display               `json:"display"`

	device model.Device
	rows   []model.Measurement
	loc    *time.Location
}

// Rows are the readings behind the view, already in the device unit
func (v ChartView) Rows() []model.Measurement { return v.rows }

// BuildChart converts rows to the device's unit and aggregates them.
// The y domain spans only the visible series.
func BuildChart(device model.Device, rows []model.Measurement, loc *time.Location, display Display) ChartView {
	converted := make([]model.Measurement, len(rows))
	for i, m := range rows {
		converted[i] = m.InUnit(device.TemperatureUnit)
	}
	return buildView(device, converted, loc, display)
}

func buildView(device model.Device, rows []model.Measurement, loc *time.Location, display Display) ChartView {
	res := aggregator.Aggregate(rows, loc)

	var visible []aggregator.Stats
	if display.Temperature {
		visible = append(visible, res.Temperature)
	}
	if display.Humidity {
		visible = append(visible, res.Humidity)
	}
	if display.DewPoint {
		visible = append(visible, res.DewPoint)
	}

	return ChartView{
		DeviceID:    device.DeviceID,
		DeviceName:  device.Label(),
		Unit:        device.TemperatureUnit,
		UnitSymbol:  device.TemperatureUnit.Symbol(),
		Points:      res.Points,
		Temperature: res.Temperature,
		Humidity:    res.Humidity,
		DewPoint:    res.DewPoint,
		Domain:      aggregator.DomainFor(visible...),
		Display:     display,
		device:      device,
		rows:        rows,
		loc:         loc,
	}
}

// ChartController loads and aggregates one device's readings
type ChartController struct {
	*Controller[ChartFilter, ChartView]

	devices      *repository.DeviceRepository
	measurements *repository.MeasurementRepository
	loc          *time.Location
	display      Display
}

// NewChartController builds a chart screen over client
func NewChartController(ctx context.Context, client remote.DataClient, loc *time.Location, display Display) *ChartController {
	cc := &ChartController{
		devices:      repository.NewDeviceRepository(client),
		measurements: repository.NewMeasurementRepository(client),
		loc:          loc,
		display:      display,
	}
	cc.Controller = New(ctx, Source[ChartFilter, ChartView]{
		Fetch: cc.fetch,
		Watch: func(ctx context.Context, f ChartFilter, changed func()) (remote.Subscription, error) {
			filter := remote.Filter{Column: "device_id", Op: remote.OpEq, Value: f.DeviceID}
			return client.Subscribe(ctx, model.TableMeasurement, &filter, func(remote.ChangeEvent) { changed() })
		},
		Key: func(f ChartFilter) string { return f.DeviceID },
	})
	return cc
}

func (cc *ChartController) fetch(ctx context.Context, f ChartFilter) (ChartView, error) {
	device, err := cc.devices.FindByID(ctx, f.DeviceID, f.UserID)
	if err != nil {
		return ChartView{}, err
	}

	var rows []model.Measurement
	if f.ranged() {
		rows, err = cc.measurements.ListRange(ctx, f.DeviceID, f.UserID, *f.Start, *f.End)
	} else {
		limit := f.Limit
		if limit <= 0 {
			limit = DefaultChartLimit
		}
		rows, err = cc.measurements.ListLatest(ctx, f.DeviceID, f.UserID, limit)
	}
	if err != nil {
		return ChartView{}, err
	}

	cc.Controller.mu.Lock()
	display := cc.display
	cc.Controller.mu.Unlock()

	view := BuildChart(*device, rows, cc.loc, display)
	if f.ranged() {
		view.Start, view.End = f.Start, f.End
	}
	return view, nil
}

// Toggle shows or hides one series and re-aggregates the loaded rows
func (cc *ChartController) Toggle(series Series, on bool) State[ChartView] {
	cc.Controller.mu.Lock()
	cc.display = cc.display.With(series, on)
	display := cc.display
	cc.Controller.mu.Unlock()

	return cc.Update(func(v ChartView) ChartView {
		next := buildView(v.device, v.rows, v.loc, display)
		next.Start, next.End = v.Start, v.End
		return next
	})
}

// SetRange narrows the chart to [start, end]; nil bounds go back to the latest readings
func (cc *ChartController) SetRange(start, end *time.Time) State[ChartView] {
	f := cc.Filter()
	f.Start, f.End = start, end
	return cc.SetFilter(f)
}
