package service

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ipimonitor/ipi-api/internal/controller"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/repository"
	"github.com/ipimonitor/ipi-api/internal/session"
)

// Sample data shape
const (
	defaultSampleCount = 50
	sampleSpan         = 24 * time.Hour
)

const alertTimeout = 30 * time.Second

var (
	ErrInvalidBound     = errors.New("start and end must be RFC3339 timestamps or YYYY-MM-DD dates")
	ErrIncompleteRange  = errors.New("a date range needs both start and end")
	ErrRangeOrder       = errors.New("start must not be after end")
	ErrNoMeasurements   = errors.New("no measurements in request")
	ErrInvalidRetention = errors.New("older_than_days must be a positive number of days")
)

// MeasurementService handles measurement business logic
type MeasurementService struct {
	alerts        *AlertService
	loc           *time.Location
	defaultLimit  int
	retentionDays int

	now  func() time.Time
	rand func() float64

	// pending alert deliveries
	wg sync.WaitGroup
}

func NewMeasurementService(alerts *AlertService, loc *time.Location, defaultLimit, retentionDays int) *MeasurementService {
	if loc == nil {
		loc = time.UTC
	}
	if defaultLimit <= 0 {
		defaultLimit = controller.DefaultChartLimit
	}
	return &MeasurementService{
		alerts:        alerts,
		loc:           loc,
		defaultLimit:  defaultLimit,
		retentionDays: retentionDays,
		now:           time.Now,
		rand:          rand.Float64,
	}
}

// Wait blocks until queued alert deliveries finish
func (s *MeasurementService) Wait() {
	s.wg.Wait()
}

// ==================== Chart ====================

// parseBound reads a timestamp or a calendar date; a date means its UTC midnight
func parseBound(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return &t, nil
	}
	return nil, ErrInvalidBound
}

// ParseRange validates an optional [start, end] pair
func ParseRange(start, end string) (*time.Time, *time.Time, error) {
	from, err := parseBound(start)
	if err != nil {
		return nil, nil, err
	}
	to, err := parseBound(end)
	if err != nil {
		return nil, nil, err
	}
	if (from == nil) != (to == nil) {
		return nil, nil, ErrIncompleteRange
	}
	if from != nil && from.After(*to) {
		return nil, nil, ErrRangeOrder
	}
	return from, to, nil
}

// Chart loads the chart screen once for a device
func (s *MeasurementService) Chart(ctx context.Context, client remote.DataClient, userID int64, deviceID string, q model.ChartQuery) (controller.State[controller.ChartView], error) {
	start, end, err := ParseRange(q.Start, q.End)
	if err != nil {
		return controller.State[controller.ChartView]{}, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}

	cc := controller.NewChartController(ctx, client, s.loc, controller.ParseDisplay(q.Show))
	defer cc.Stop()
	return cc.Load(controller.ChartFilter{
		UserID:   userID,
		DeviceID: deviceID,
		Start:    start,
		End:      end,
		Limit:    limit,
	}), nil
}

// Location is the zone chart labels are rendered in
func (s *MeasurementService) Location() *time.Location { return s.loc }

// DefaultLimit is the chart size without a range
func (s *MeasurementService) DefaultLimit() int { return s.defaultLimit }

// ==================== Reads ====================

// List returns a device's readings: the range when both bounds are set, the latest limit otherwise
func (s *MeasurementService) List(ctx context.Context, client remote.DataClient, userID int64, deviceID string, q model.ChartQuery) ([]model.Measurement, error) {
	start, end, err := ParseRange(q.Start, q.End)
	if err != nil {
		return nil, err
	}
	if _, err := repository.NewDeviceRepository(client).FindByID(ctx, deviceID, userID); err != nil {
		return nil, err
	}

	repo := repository.NewMeasurementRepository(client)
	var rows []model.Measurement
	if start != nil {
		rows, err = repo.ListRange(ctx, deviceID, userID, *start, *end)
	} else {
		limit := q.Limit
		if limit <= 0 {
			limit = s.defaultLimit
		}
		rows, err = repo.ListLatest(ctx, deviceID, userID, limit)
	}
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.Measurement{}
	}
	return rows, nil
}

// Latest returns the newest reading of a device
func (s *MeasurementService) Latest(ctx context.Context, client remote.DataClient, userID int64, deviceID string) (*model.Measurement, error) {
	return repository.NewMeasurementRepository(client).Latest(ctx, deviceID, userID)
}

// Recent loads the measurements screen once
func (s *MeasurementService) Recent(ctx context.Context, client remote.DataClient, userID int64, hours int) controller.State[controller.MeasurementsView] {
	mc := controller.NewMeasurementsController(ctx, client)
	defer mc.Stop()
	return mc.Load(controller.MeasurementsFilter{UserID: userID, Hours: hours})
}

// Retention deletes the user's readings older than days; zero means the configured default
func (s *MeasurementService) Retention(ctx context.Context, client remote.DataClient, userID int64, days int) (time.Time, error) {
	if days < 0 {
		return time.Time{}, ErrInvalidRetention
	}
	if days == 0 {
		days = s.retentionDays
	}
	if days <= 0 {
		return time.Time{}, ErrInvalidRetention
	}
	cutoff := s.now().UTC().AddDate(0, 0, -days)
	if err := repository.NewMeasurementRepository(client).DeleteOlderThan(ctx, userID, cutoff); err != nil {
		return time.Time{}, err
	}
	log.Printf("🧹 Deleted measurements of user %d before %s", userID, cutoff.Format(time.RFC3339))
	return cutoff, nil
}

// ==================== Writes ====================

// RecipientOf names who is alerted for the signed-in user of state
func RecipientOf(state *session.State) Recipient {
	r := Recipient{}
	if u := state.User(); u != nil {
		r.AuthUser = u.ID
		r.Email = u.Email
	}
	if p := state.Profile(); p != nil {
		r.Name = p.DisplayName()
	}
	return r
}

// Insert stores readings for a device and evaluates them against its thresholds.
// Alerts are delivered in the background and never fail the insert.
func (s *MeasurementService) Insert(ctx context.Context, client remote.DataClient, userID int64, deviceID string, batch model.MeasurementBatch, to Recipient) (*model.InsertResponse, error) {
	if len(batch) == 0 {
		return nil, ErrNoMeasurements
	}
	device, err := repository.NewDeviceRepository(client).FindByID(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rows := make([]model.MeasurementInsert, len(batch))
	for i, in := range batch {
		unit := device.TemperatureUnit
		if in.TemperatureUnit != "" {
			parsed, err := model.ParseTemperatureUnit(in.TemperatureUnit)
			if err != nil {
				return nil, ErrInvalidUnit
			}
			unit = parsed
		}
		at := now
		if in.DateTime != nil {
			at = in.DateTime.UTC()
		}
		var temperature float64
		if in.Temperature != nil {
			temperature = *in.Temperature
		}
		rows[i] = model.MeasurementInsert{
			UserID:          userID,
			DeviceID:        deviceID,
			DateTime:        at,
			Temperature:     temperature,
			Humidity:        in.Humidity,
			DewPoint:        in.DewPoint,
			TemperatureUnit: unit,
		}
	}

	stored, err := repository.NewMeasurementRepository(client).Insert(ctx, rows)
	if err != nil {
		return nil, err
	}

	converted := make([]model.Measurement, len(stored))
	for i, m := range stored {
		converted[i] = m.InUnit(device.TemperatureUnit)
	}
	alerts := Evaluate(*device, converted)
	if len(alerts) > 0 && s.alerts != nil {
		log.Printf("🔔 %d threshold breach(es) on device %s", len(alerts), deviceID)
		s.wg.Add(1)
		go func(d model.Device) {
			defer s.wg.Done()
			actx, cancel := context.WithTimeout(context.Background(), alertTimeout)
			defer cancel()
			s.alerts.Dispatch(actx, to, d, alerts)
		}(*device)
	}

	if stored == nil {
		stored = []model.Measurement{}
	}
	return &model.InsertResponse{Measurements: stored, Alerts: alerts}, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// SampleReadings generates count readings spread over the day before now, newest first.
// Temperature follows a slow sine around 22°C; the values are expressed in unit.
func SampleReadings(count int, now time.Time, unit model.TemperatureUnit, rnd func() float64) []model.MeasurementInput {
	if count <= 0 {
		count = defaultSampleCount
	}
	if unit == "" {
		unit = model.Celsius
	}
	step := sampleSpan / time.Duration(count)
	out := make([]model.MeasurementInput, count)
	for i := 0; i < count; i++ {
		at := now.Add(-step * time.Duration(i)).UTC()
		celsius := round1(22 + 5*math.Sin(float64(i)*0.1) + (rnd()-0.5)*2)
		humidity := 45 + rnd()*10
		dewCelsius := celsius - 5 + rnd()*3

		temperature := round1(model.Celsius.Convert(celsius, unit))
		dewPoint := model.Celsius.Convert(dewCelsius, unit)
		out[i] = model.MeasurementInput{
			DateTime:        &at,
			Temperature:     &temperature,
			Humidity:        &humidity,
			DewPoint:        &dewPoint,
			TemperatureUnit: string(unit),
		}
	}
	return out
}

// Sample fills a device with generated readings
func (s *MeasurementService) Sample(ctx context.Context, client remote.DataClient, userID int64, deviceID string, count int, to Recipient) (*model.InsertResponse, error) {
	device, err := repository.NewDeviceRepository(client).FindByID(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}
	batch := SampleReadings(count, s.now(), device.TemperatureUnit, s.rand)
	return s.Insert(ctx, client, userID, deviceID, batch, to)
}
