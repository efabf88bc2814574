package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/recovery"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/remote/remotetest"
	"github.com/ipimonitor/ipi-api/internal/repository"
	"github.com/ipimonitor/ipi-api/internal/session"
	"github.com/ipimonitor/ipi-api/pkg/auth"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authFixture struct {
	svc       *AuthService
	registry  *session.Registry
	jwt       *auth.JWTManager
	sessions  *repository.SessionRepository
	selection *repository.SelectionRepository
	rdb       *redis.Client
	mr        *miniredis.Miniredis
	next      *remotetest.Fake
}

func newAuthFixture(t *testing.T) *authFixture {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	f := &authFixture{
		rdb:       rdb,
		mr:        mr,
		jwt:       auth.NewJWTManager("test-secret", time.Hour),
		sessions:  repository.NewSessionRepository(rdb),
		selection: repository.NewSelectionRepository(rdb),
	}
	f.next = f.account()
	f.registry = session.NewRegistry(func() remote.Client {
		c := f.next
		f.next = f.account()
		return c
	}, f.sessions, time.Hour)
	t.Cleanup(f.registry.Close)

	f.svc = NewAuthService(f.registry, f.jwt, f.sessions, f.selection, rdb, "https://ipi.example.com/")
	f.svc.backoff = time.Millisecond
	return f
}

func (f *authFixture) account() *remotetest.Fake {
	fake := remotetest.New()
	fake.Accounts["ada@example.com"] = "Secret#123"
	fake.Users["ada@example.com"] = remote.User{
		ID:           "u-ada",
		Email:        "ada@example.com",
		UserMetadata: map[string]interface{}{"first_name": "Ada", "last_name": "Lovelace"},
	}
	return fake
}

func TestLoginRequiresBothFields(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), model.LoginRequest{Email: " ", Password: "x"})
	assert.ErrorIs(t, err, ErrLoginFieldsMissing)
	assert.Equal(t, "Please enter both email and password", err.Error())
}

func TestLoginRemoteErrorVerbatim(t *testing.T) {
	f := newAuthFixture(t)
	fake := f.next

	_, err := f.svc.Login(context.Background(), model.LoginRequest{Email: "ada@example.com", Password: "wrong"})

	require.Error(t, err)
	assert.Equal(t, "Invalid login credentials", remote.Message(err))
	assert.True(t, fake.Closed())
	assert.Equal(t, 0, f.registry.Len())
}

func TestLoginRecreatesMissingProfile(t *testing.T) {
	f := newAuthFixture(t)
	fake := f.next

	resp, err := f.svc.Login(context.Background(), model.LoginRequest{Email: "ada@example.com", Password: "Secret#123"})

	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", resp.User.DisplayName)
	assert.NotZero(t, resp.User.UserID)
	assert.Equal(t, 3600, resp.ExpiresIn)

	rows := fake.Rows(model.TableAppUser)
	require.Len(t, rows, 1)
	assert.Equal(t, "u-ada", rows[0]["auth_user"])

	claims, err := f.jwt.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "u-ada", claims.AuthUser)
	stored, err := f.sessions.Find(context.Background(), claims.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "access-u-ada", stored.AccessToken)
}

func TestSignupValidationOrder(t *testing.T) {
	f := newAuthFixture(t)
	full := model.SignupRequest{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com", Password: "Secret#123", ConfirmPassword: "Secret#123"}

	cases := []struct {
		mutate func(*model.SignupRequest)
		want   error
	}{
		{func(r *model.SignupRequest) { r.FirstName = "" }, ErrFirstNameMissing},
		{func(r *model.SignupRequest) { r.LastName = " " }, ErrLastNameMissing},
		{func(r *model.SignupRequest) { r.Email = "" }, ErrSignupEmailMissing},
		{func(r *model.SignupRequest) { r.Password = "" }, ErrPasswordMissing},
		{func(r *model.SignupRequest) { r.Password, r.ConfirmPassword = "short", "short" }, recovery.ErrWeakPassword},
		{func(r *model.SignupRequest) { r.ConfirmPassword = "Secret#124" }, recovery.ErrPasswordMismatch},
	}
	for _, tc := range cases {
		req := full
		tc.mutate(&req)
		_, err := f.svc.Signup(context.Background(), req)
		assert.ErrorIs(t, err, tc.want)
	}
}

func TestSignupCreatesProfileAndSession(t *testing.T) {
	f := newAuthFixture(t)
	fake := f.next

	resp, err := f.svc.Signup(context.Background(), model.SignupRequest{
		FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com",
		Password: "Secret#123", ConfirmPassword: "Secret#123",
	})

	require.NoError(t, err)
	assert.Equal(t, model.ProfileStatusCreated, resp.ProfileStatus)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "Grace Hopper", resp.User.DisplayName)
	assert.Equal(t, "Grace", fake.Users["grace@example.com"].UserMetadata["first_name"])
	assert.Len(t, fake.Rows(model.TableAppUser), 1)
}

func TestSignupProfileFailureIsPending(t *testing.T) {
	f := newAuthFixture(t)
	f.next.Err = &remote.Error{Status: 503, Message: "upstream unavailable"}

	resp, err := f.svc.Signup(context.Background(), model.SignupRequest{
		FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com",
		Password: "Secret#123", ConfirmPassword: "Secret#123",
	})

	require.NoError(t, err)
	assert.Equal(t, model.ProfileStatusPending, resp.ProfileStatus)
	assert.NotEmpty(t, resp.Message)
	assert.NotEmpty(t, resp.Token)
}

func TestLoginClosesClientWhenSessionCannotOpen(t *testing.T) {
	f := newAuthFixture(t)
	fake := f.next
	f.mr.Close()

	_, err := f.svc.Login(context.Background(), model.LoginRequest{Email: "ada@example.com", Password: "Secret#123"})

	require.Error(t, err)
	assert.True(t, fake.Closed())
	assert.Equal(t, 0, f.registry.Len())
}

func TestSignupReportsAccountWhenSessionCannotOpen(t *testing.T) {
	f := newAuthFixture(t)
	fake := f.next
	f.mr.Close()

	resp, err := f.svc.Signup(context.Background(), model.SignupRequest{
		FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com",
		Password: "Secret#123", ConfirmPassword: "Secret#123",
	})

	require.NoError(t, err)
	assert.Empty(t, resp.Token)
	assert.Equal(t, model.ProfileStatusCreated, resp.ProfileStatus)
	assert.Equal(t, "Account created. Please sign in to continue.", resp.Message)
	assert.Equal(t, "Grace Hopper", resp.User.DisplayName)
	assert.True(t, fake.Closed())
	assert.Equal(t, 0, f.registry.Len())
}

// duplicateInsert rejects inserts the way a unique index would
type duplicateInsert struct {
	*remotetest.Fake
}

func (d duplicateInsert) Insert(context.Context, string, interface{}, interface{}) error {
	return &remote.Error{Status: 409, Code: "23505", Message: "duplicate key value violates unique constraint"}
}

func TestCreateProfileDuplicateCountsAsCreated(t *testing.T) {
	f := newAuthFixture(t)
	fake := remotetest.New()
	fake.Seed(model.TableAppUser, model.AppUserInsert{AuthUser: "u-x", FirstName: "X"})

	profile, err := f.svc.createProfile(context.Background(), duplicateInsert{fake}, model.AppUserInsert{AuthUser: "u-x", FirstName: "X"})

	require.NoError(t, err)
	assert.Equal(t, "u-x", *profile.AuthUser)
	assert.Len(t, fake.Rows(model.TableAppUser), 1)
}

func TestLogoutRevokesEverywhere(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Login(ctx, model.LoginRequest{Email: "ada@example.com", Password: "Secret#123"})
	require.NoError(t, err)
	claims, err := f.jwt.ValidateToken(resp.Token)
	require.NoError(t, err)
	require.NoError(t, f.selection.Save(ctx, "u-ada", "AA:BB"))

	pubsub := f.rdb.Subscribe(ctx, RevokedChannel)
	defer pubsub.Close()
	_, err = pubsub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, claims))

	selected, err := f.selection.Load(ctx, "u-ada")
	require.NoError(t, err)
	assert.Empty(t, selected)

	revoked, err := f.sessions.IsBlacklisted(ctx, claims.ID)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = f.registry.Get(ctx, claims.SessionID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	select {
	case msg := <-pubsub.Channel():
		assert.Equal(t, claims.SessionID, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("revocation was not published")
	}
}

func TestForgotPasswordRedirectsToChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	fake := f.next

	assert.ErrorIs(t, f.svc.ForgotPassword(context.Background(), ""), ErrEmailMissing)
	require.NoError(t, f.svc.ForgotPassword(context.Background(), " ada@example.com "))
	assert.Equal(t, []string{"ada@example.com https://ipi.example.com/change-password"}, fake.ResetCalls)
}

func TestRecoverOpensSessionFromLink(t *testing.T) {
	f := newAuthFixture(t)

	res, issued := f.svc.Recover(context.Background(), nil, "https://ipi.example.com/change-password#access_token=A&refresh_token=R&type=recovery")

	assert.Equal(t, recovery.Established, res.State)
	require.NotNil(t, issued)
	assert.NotEmpty(t, issued.Token)

	res, issued = f.svc.Recover(context.Background(), nil, "https://ipi.example.com/change-password")
	assert.Equal(t, recovery.Failed, res.State)
	assert.Equal(t, recovery.RemediationMessage, res.Message)
	assert.Nil(t, issued)
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	fake := f.next
	_, err := fake.SignIn(ctx, "ada@example.com", "Secret#123")
	require.NoError(t, err)
	state, err := f.registry.Create(ctx, fake)
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, state, model.ChangePasswordRequest{Password: "", ConfirmPassword: ""})
	assert.ErrorIs(t, err, recovery.ErrMissingFields)

	require.NoError(t, f.svc.ChangePassword(ctx, state, model.ChangePasswordRequest{Password: "NewSecret#1", ConfirmPassword: "NewSecret#1"}))
	assert.Equal(t, []string{"NewSecret#1"}, fake.Passwords)
}
