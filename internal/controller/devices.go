package controller

import (
	"context"
	"strconv"

	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/repository"
	"github.com/ipimonitor/ipi-api/internal/selection"
)

// DevicesFilter selects whose devices are listed
type DevicesFilter struct {
	UserID int64
}

// DevicesView is the dashboard and device-information screen model
type DevicesView struct {
	Devices  []model.Device `json:"devices"`
	Selected *model.Device  `json:"selected"`
}

// DevicesController lists a user's devices and keeps the selection valid
type DevicesController struct {
	*Controller[DevicesFilter, DevicesView]

	repo      *repository.DeviceRepository
	selection *selection.State
}

func NewDevicesController(ctx context.Context, client remote.DataClient, sel *selection.State) *DevicesController {
	dc := &DevicesController{
		repo:      repository.NewDeviceRepository(client),
		selection: sel,
	}
	dc.Controller = New(ctx, Source[DevicesFilter, DevicesView]{
		Fetch: dc.fetch,
		Watch: func(ctx context.Context, f DevicesFilter, changed func()) (remote.Subscription, error) {
			filter := remote.Filter{Column: "user_id", Op: remote.OpEq, Value: f.UserID}
			return client.Subscribe(ctx, model.TableDevice, &filter, func(remote.ChangeEvent) { changed() })
		},
		Key: func(f DevicesFilter) string { return strconv.FormatInt(f.UserID, 10) },
	})
	return dc
}

func (dc *DevicesController) fetch(ctx context.Context, f DevicesFilter) (DevicesView, error) {
	devices, err := dc.repo.ListByUser(ctx, f.UserID)
	if err != nil {
		return DevicesView{}, err
	}
	if devices == nil {
		devices = []model.Device{}
	}
	view := DevicesView{Devices: devices}
	if dc.selection == nil {
		return view, nil
	}

	// an unreadable slot only costs the selection
	selected, err := dc.selection.Restore(ctx, devices)
	if err == nil {
		view.Selected = selected
	}
	return view, nil
}

// Select makes id the selected device if it is in the loaded list
func (dc *DevicesController) Select(ctx context.Context, id string) (State[DevicesView], error) {
	if dc.selection == nil {
		return dc.State(), selection.ErrUnknownDevice
	}
	current := dc.State()
	if current.Status != StatusSuccess {
		return current, selection.ErrUnknownDevice
	}
	dev, err := dc.selection.Select(ctx, current.Data.Devices, id)
	if err != nil {
		return current, err
	}
	return dc.Update(func(v DevicesView) DevicesView {
		v.Selected = dev
		return v
	}), nil
}
