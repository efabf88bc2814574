// Package selection tracks which device a user is looking at.
package selection

import (
	"context"
	"errors"
	"sync"

	"github.com/ipimonitor/ipi-api/internal/model"
)

// ErrUnknownDevice is returned when selecting an id that is not in the device list
var ErrUnknownDevice = errors.New("device not found")

// Store is the durable slot holding one device id per owner.
// Load returns "" when nothing is stored.
type Store interface {
	Load(ctx context.Context, owner string) (string, error)
	Save(ctx context.Context, owner, deviceID string) error
	Clear(ctx context.Context, owner string) error
}

// State holds at most one selected device id for one owner
type State struct {
	store Store
	owner string

	mu       sync.Mutex
	selected string
}

// New binds a selection to owner's durable slot
func New(store Store, owner string) *State {
	return &State{store: store, owner: owner}
}

// Owner is the user whose slot this selection reads and writes
func (s *State) Owner() string { return s.owner }

func find(devices []model.Device, id string) *model.Device {
	if id == "" {
		return nil
	}
	for i := range devices {
		if devices[i].DeviceID == id {
			return &devices[i]
		}
	}
	return nil
}

// Restore reads the stored id and resolves it against devices.
// An id that matches no device yields no selection, not an error;
// err is only set when the slot itself could not be read.
func (s *State) Restore(ctx context.Context, devices []model.Device) (*model.Device, error) {
	id, err := s.store.Load(ctx, s.owner)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.selected = ""
		return nil, err
	}
	dev := find(devices, id)
	if dev == nil {
		s.selected = ""
		return nil, nil
	}
	s.selected = dev.DeviceID
	return dev, nil
}

// Select persists id and makes it current
func (s *State) Select(ctx context.Context, devices []model.Device, id string) (*model.Device, error) {
	dev := find(devices, id)
	if dev == nil {
		return nil, ErrUnknownDevice
	}
	if err := s.store.Save(ctx, s.owner, id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
	return dev, nil
}

// Selected returns the current id, "" for none
func (s *State) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Clear forgets the selection in memory and in the durable slot
func (s *State) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.selected = ""
	s.mu.Unlock()
	return s.store.Clear(ctx, s.owner)
}
