package selection

import (
	"context"
	"errors"
	"testing"

	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	slots   map[string]string
	loadErr error
}

func newMemStore() *memStore { return &memStore{slots: map[string]string{}} }

func (m *memStore) Load(_ context.Context, owner string) (string, error) {
	if m.loadErr != nil {
		return "", m.loadErr
	}
	return m.slots[owner], nil
}

func (m *memStore) Save(_ context.Context, owner, id string) error {
	m.slots[owner] = id
	return nil
}

func (m *memStore) Clear(_ context.Context, owner string) error {
	delete(m.slots, owner)
	return nil
}

func TestRestoreStaleIDResolvesToNone(t *testing.T) {
	store := newMemStore()
	store.slots["user-1"] = "AA:BB"
	s := New(store, "user-1")

	dev, err := s.Restore(context.Background(), []model.Device{{DeviceID: "CC:DD"}})

	require.NoError(t, err)
	assert.Nil(t, dev)
	assert.Equal(t, "", s.Selected())
}

func TestRestoreMatchingID(t *testing.T) {
	store := newMemStore()
	store.slots["user-1"] = "CC:DD"
	s := New(store, "user-1")

	dev, err := s.Restore(context.Background(), []model.Device{{DeviceID: "AA:BB"}, {DeviceID: "CC:DD", DeviceName: "Cellar"}})

	require.NoError(t, err)
	require.NotNil(t, dev)
	assert.Equal(t, "Cellar", dev.DeviceName)
	assert.Equal(t, "CC:DD", s.Selected())
}

func TestRestoreNothingStored(t *testing.T) {
	s := New(newMemStore(), "user-1")

	dev, err := s.Restore(context.Background(), []model.Device{{DeviceID: "AA:BB"}})

	require.NoError(t, err)
	assert.Nil(t, dev)
}

func TestRestoreStoreFailureClearsSelection(t *testing.T) {
	store := newMemStore()
	store.slots["user-1"] = "AA:BB"
	s := New(store, "user-1")
	_, err := s.Restore(context.Background(), []model.Device{{DeviceID: "AA:BB"}})
	require.NoError(t, err)

	store.loadErr = errors.New("connection refused")
	dev, err := s.Restore(context.Background(), []model.Device{{DeviceID: "AA:BB"}})

	assert.Error(t, err)
	assert.Nil(t, dev)
	assert.Equal(t, "", s.Selected())
}

func TestSelectPersistsAndUpdatesState(t *testing.T) {
	store := newMemStore()
	s := New(store, "user-1")
	devices := []model.Device{{DeviceID: "AA:BB"}, {DeviceID: "CC:DD"}}

	dev, err := s.Select(context.Background(), devices, "CC:DD")

	require.NoError(t, err)
	assert.Equal(t, "CC:DD", dev.DeviceID)
	assert.Equal(t, "CC:DD", s.Selected())
	assert.Equal(t, "CC:DD", store.slots["user-1"])
}

func TestSelectUnknownDevice(t *testing.T) {
	store := newMemStore()
	s := New(store, "user-1")

	_, err := s.Select(context.Background(), []model.Device{{DeviceID: "AA:BB"}}, "EE:FF")

	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Empty(t, store.slots)
}

func TestClear(t *testing.T) {
	store := newMemStore()
	s := New(store, "user-1")
	_, err := s.Select(context.Background(), []model.Device{{DeviceID: "AA:BB"}}, "AA:BB")
	require.NoError(t, err)

	require.NoError(t, s.Clear(context.Background()))

	assert.Equal(t, "", s.Selected())
	_, ok := store.slots["user-1"]
	assert.False(t, ok)
}
