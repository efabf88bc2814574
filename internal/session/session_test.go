package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/remote/remotetest"
	"github.com/ipimonitor/ipi-api/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *repository.SessionRepository {
	mr := miniredis.RunT(t)
	return repository.NewSessionRepository(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func signedIn(t *testing.T) *remotetest.Fake {
	fake := remotetest.New()
	fake.Accounts["ada@example.com"] = "Secret#123"
	fake.Users["ada@example.com"] = remote.User{ID: "u-ada", Email: "ada@example.com"}
	_, err := fake.SignIn(context.Background(), "ada@example.com", "Secret#123")
	require.NoError(t, err)
	return fake
}

func TestStateLifecycle(t *testing.T) {
	fake := signedIn(t)
	state := NewState("sid", fake)
	assert.True(t, state.Loading())

	require.NoError(t, state.Start(context.Background()))
	assert.False(t, state.Loading())
	require.NotNil(t, state.User())
	assert.Equal(t, "u-ada", state.User().ID)

	require.NoError(t, fake.SignOut(context.Background()))
	assert.Nil(t, state.Session())
	assert.Nil(t, state.User())

	state.Close()
	assert.True(t, fake.Closed())
}

func TestStateSignedOutClient(t *testing.T) {
	state := NewState("sid", remotetest.New())
	require.NoError(t, state.Start(context.Background()))
	assert.False(t, state.Loading())
	assert.Nil(t, state.Session())
}

func TestRegistryCreateAndGet(t *testing.T) {
	store := newStore(t)
	reg := NewRegistry(func() remote.Client { return remotetest.New() }, store, time.Hour)

	state, err := reg.Create(context.Background(), signedIn(t))
	require.NoError(t, err)

	got, err := reg.Get(context.Background(), state.ID())
	require.NoError(t, err)
	assert.Same(t, state, got)

	stored, err := store.Find(context.Background(), state.ID())
	require.NoError(t, err)
	assert.Equal(t, "access-u-ada", stored.AccessToken)
	assert.Equal(t, "u-ada", stored.AuthUser)
}

func TestRegistryCreateRequiresSession(t *testing.T) {
	reg := NewRegistry(func() remote.Client { return remotetest.New() }, newStore(t), time.Hour)
	_, err := reg.Create(context.Background(), remotetest.New())
	assert.ErrorIs(t, err, remote.ErrNoSession)
}

func TestRegistryPersistsRefreshedTokens(t *testing.T) {
	store := newStore(t)
	reg := NewRegistry(func() remote.Client { return remotetest.New() }, store, time.Hour)
	fake := signedIn(t)

	state, err := reg.Create(context.Background(), fake)
	require.NoError(t, err)

	fake.RefreshTokens("access-2", "refresh-2")

	stored, err := store.Find(context.Background(), state.ID())
	require.NoError(t, err)
	assert.Equal(t, "access-2", stored.AccessToken)
	assert.Equal(t, "refresh-2", stored.RefreshToken)
	assert.Equal(t, "access-2", state.Session().AccessToken)
}

func TestRegistryRestoresFromStore(t *testing.T) {
	store := newStore(t)
	first := NewRegistry(func() remote.Client { return remotetest.New() }, store, time.Hour)
	state, err := first.Create(context.Background(), signedIn(t))
	require.NoError(t, err)

	// a second instance only shares the token store
	second := NewRegistry(func() remote.Client { return remotetest.New() }, store, time.Hour)
	restored, err := second.Get(context.Background(), state.ID())
	require.NoError(t, err)
	assert.Equal(t, "access-u-ada", restored.Session().AccessToken)
	assert.Equal(t, 1, second.Len())
}

func TestRegistryDropsRejectedTokens(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Save(context.Background(), "sid", repository.StoredSession{AccessToken: "a", RefreshToken: "r"}, time.Hour))

	reg := NewRegistry(func() remote.Client {
		f := remotetest.New()
		f.SetErr = &remote.Error{Status: 401, Message: "Invalid Refresh Token"}
		return f
	}, store, time.Hour)

	_, err := reg.Get(context.Background(), "sid")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Find(context.Background(), "sid")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

func TestRegistryRevoke(t *testing.T) {
	store := newStore(t)
	reg := NewRegistry(func() remote.Client { return remotetest.New() }, store, time.Hour)
	fake := signedIn(t)
	state, err := reg.Create(context.Background(), fake)
	require.NoError(t, err)

	require.NoError(t, reg.Revoke(context.Background(), state.ID()))

	assert.True(t, fake.Closed())
	assert.Equal(t, 0, reg.Len())
	_, err = reg.Get(context.Background(), state.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnknownSession(t *testing.T) {
	reg := NewRegistry(func() remote.Client { return remotetest.New() }, newStore(t), time.Hour)
	_, err := reg.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistrySweepsExpiredSessions(t *testing.T) {
	reg := NewRegistry(func() remote.Client { return remotetest.New() }, newStore(t), time.Hour)
	now := time.Now()
	reg.now = func() time.Time { return now }

	fake := signedIn(t)
	state, err := reg.Create(context.Background(), fake)
	require.NoError(t, err)

	assert.Equal(t, 0, reg.Sweep(now.Add(59*time.Minute)))
	assert.Equal(t, 1, reg.Len())

	assert.Equal(t, 1, reg.Sweep(now.Add(time.Hour)))
	assert.Equal(t, 0, reg.Len())
	assert.True(t, fake.Closed())

	_, err = reg.Get(context.Background(), state.ID())
	assert.ErrorIs(t, err, ErrNotFound, "the stored tokens expired with the session")
}

func TestRegistryGetRefusesExpiredState(t *testing.T) {
	reg := NewRegistry(func() remote.Client { return remotetest.New() }, newStore(t), time.Hour)
	now := time.Now()
	reg.now = func() time.Time { return now }

	fake := signedIn(t)
	state, err := reg.Create(context.Background(), fake)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = reg.Get(context.Background(), state.ID())

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, reg.Len())
	assert.True(t, fake.Closed())
}

func TestRegistryForgetsRemoteRevocations(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := NewRegistry(func() remote.Client { return remotetest.New() }, repository.NewSessionRepository(rdb), time.Hour)

	fake := signedIn(t)
	state, err := reg.Create(context.Background(), fake)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Listen(ctx, rdb, "revoked")

	// Publishing before Listen subscribed is lost, so keep announcing
	assert.Eventually(t, func() bool {
		mr.Publish("revoked", state.ID())
		return reg.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, fake.Closed())
}

func TestRegistryPersistsRecoveryTokens(t *testing.T) {
	store := newStore(t)
	reg := NewRegistry(func() remote.Client { return remotetest.New() }, store, time.Hour)
	fake := signedIn(t)
	state, err := reg.Create(context.Background(), fake)
	require.NoError(t, err)

	var seen []remote.AuthEvent
	state.Watch(func(e remote.AuthEvent, _ *remote.Session) { seen = append(seen, e) })

	_, err = fake.SetSession(context.Background(), "access-recovered", "refresh-recovered")
	require.NoError(t, err)
	fake.NotifyRecovery()

	assert.Equal(t, []remote.AuthEvent{remote.EventSignedIn, remote.EventPasswordRecovery}, seen)
	stored, err := store.Find(context.Background(), state.ID())
	require.NoError(t, err)
	assert.Equal(t, "access-recovered", stored.AccessToken)
}

type memorySlots map[string]string

func (m memorySlots) Load(_ context.Context, owner string) (string, error) { return m[owner], nil }
func (m memorySlots) Save(_ context.Context, owner, id string) error      { m[owner] = id; return nil }
func (m memorySlots) Clear(_ context.Context, owner string) error          { delete(m, owner); return nil }

func TestSelectionFollowsSignedInUser(t *testing.T) {
	slots := memorySlots{}
	fake := remotetest.New()
	fake.Accounts["ada@example.com"] = "Secret#123"
	fake.Users["ada@example.com"] = remote.User{ID: "u-ada", Email: "ada@example.com"}
	state := NewState("sid", fake)
	require.NoError(t, state.Start(context.Background()))

	early := state.Selection(slots)
	assert.Equal(t, "", early.Owner())

	_, err := fake.SignIn(context.Background(), "ada@example.com", "Secret#123")
	require.NoError(t, err)

	sel := state.Selection(slots)
	assert.Equal(t, "u-ada", sel.Owner())
	assert.Same(t, sel, state.Selection(slots))

	devices := []model.Device{{DeviceID: "AA:BB"}}
	_, err = sel.Select(context.Background(), devices, "AA:BB")
	require.NoError(t, err)
	assert.Equal(t, memorySlots{"u-ada": "AA:BB"}, slots)
}
