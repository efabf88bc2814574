package controller

import (
	"context"
	"strconv"
	"time"

	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/repository"
)

// Recent windows offered by the measurements screen
const (
	RecentHours        = 24
	RecentHoursToggled = 48
)

// MeasurementsFilter selects the user's readings of the last Hours hours
type MeasurementsFilter struct {
	UserID int64
	Hours  int
}

// MeasurementsView lists recent readings, newest first
type MeasurementsView struct {
	Hours        int                 `json:"hours"`
	Since        time.Time           `json:"since"`
	Measurements []model.Measurement `json:"measurements"`
}

type MeasurementsController struct {
	*Controller[MeasurementsFilter, MeasurementsView]
	now func() time.Time
}

func NewMeasurementsController(ctx context.Context, client remote.DataClient) *MeasurementsController {
	repo := repository.NewMeasurementRepository(client)
	mc := &MeasurementsController{now: time.Now}
	mc.Controller = New(ctx, Source[MeasurementsFilter, MeasurementsView]{
		Fetch: func(ctx context.Context, f MeasurementsFilter) (MeasurementsView, error) {
			hours := f.Hours
			if hours <= 0 {
				hours = RecentHours
			}
			since := mc.now().Add(-time.Duration(hours) * time.Hour)
			rows, err := repo.Recent(ctx, f.UserID, since)
			if err != nil {
				return MeasurementsView{}, err
			}
			if rows == nil {
				rows = []model.Measurement{}
			}
			return MeasurementsView{Hours: hours, Since: since, Measurements: rows}, nil
		},
		Watch: func(ctx context.Context, f MeasurementsFilter, changed func()) (remote.Subscription, error) {
			filter := remote.Filter{Column: "user_id", Op: remote.OpEq, Value: f.UserID}
			return client.Subscribe(ctx, model.TableMeasurement, &filter, func(remote.ChangeEvent) { changed() })
		},
		Key: func(f MeasurementsFilter) string { return strconv.FormatInt(f.UserID, 10) },
	})
	return mc
}

// ToggleRange switches between the 24 and 48 hour windows
func (mc *MeasurementsController) ToggleRange() State[MeasurementsView] {
	f := mc.Filter()
	if f.Hours == RecentHoursToggled {
		f.Hours = RecentHours
	} else {
		f.Hours = RecentHoursToggled
	}
	return mc.SetFilter(f)
}
