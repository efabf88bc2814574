package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/recovery"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/repository"
	"github.com/ipimonitor/ipi-api/internal/session"
	"github.com/ipimonitor/ipi-api/pkg/auth"
	"github.com/redis/go-redis/v9"
)

// RevokedChannel carries the ids of sessions ended on any instance
const RevokedChannel = "ipi:session:revoked"

// ChangePasswordPath is where reset links land
const ChangePasswordPath = "/change-password"

// profileAttempts is the first profile insert plus three retries
const profileAttempts = 4

var (
	ErrLoginFieldsMissing = errors.New("Please enter both email and password")
	ErrEmailMissing       = errors.New("Please enter your email")
	ErrFirstNameMissing   = errors.New("First name is required")
	ErrLastNameMissing    = errors.New("Last name is required")
	ErrSignupEmailMissing = errors.New("Email address is required")
	ErrPasswordMissing    = errors.New("Password is required")
)

// AuthService handles authentication business logic
type AuthService struct {
	registry      *session.Registry
	jwtManager    *auth.JWTManager
	sessionRepo   *repository.SessionRepository
	selectionRepo *repository.SelectionRepository
	rdb           *redis.Client
	publicURL     string
	backoff       time.Duration
}

func NewAuthService(
	registry *session.Registry,
	jwtManager *auth.JWTManager,
	sessionRepo *repository.SessionRepository,
	selectionRepo *repository.SelectionRepository,
	rdb *redis.Client,
	publicURL string,
) *AuthService {
	return &AuthService{
		registry:      registry,
		jwtManager:    jwtManager,
		sessionRepo:   sessionRepo,
		selectionRepo: selectionRepo,
		rdb:           rdb,
		publicURL:     strings.TrimRight(publicURL, "/"),
		backoff:       200 * time.Millisecond,
	}
}

// ==================== Login ====================

// Login signs in against the auth backend and opens a browser session
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResponse, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, ErrLoginFieldsMissing
	}

	client := s.registry.NewClient()
	if _, err := client.SignIn(ctx, email, req.Password); err != nil {
		_ = client.Close()
		return nil, err
	}

	// Create owns client from here on and closes it when it fails
	state, err := s.registry.Create(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	// A missing profile is recreated here; failing that only degrades the profile view
	if _, err := s.EnsureProfile(ctx, state); err != nil {
		log.Printf("⚠️  Profile check failed for %s: %v", state.User().ID, err)
	}

	issued, err := s.issue(state)
	if err != nil {
		s.discard(state)
		return nil, err
	}
	return issued, nil
}

// discard drops a session no browser token was issued for
func (s *AuthService) discard(state *session.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.registry.Revoke(ctx, state.ID()); err != nil {
		log.Printf("⚠️  Failed to drop unissued session %s: %v", state.ID(), err)
	}
}

// issue signs the browser token of state
func (s *AuthService) issue(state *session.State) (*model.LoginResponse, error) {
	user := state.User()
	if user == nil {
		return nil, remote.ErrNoSession
	}
	token, _, err := s.jwtManager.GenerateToken(state.ID(), user.ID, user.Email)
	if err != nil {
		return nil, errors.New("failed to generate token")
	}
	return &model.LoginResponse{
		Token:     token,
		ExpiresIn: int(s.jwtManager.Expiry().Seconds()),
		User:      userResponse(*user, state.Profile()),
	}, nil
}

func userResponse(u remote.User, p *model.AppUser) model.UserResponse {
	resp := model.UserResponse{AuthUser: u.ID, Email: u.Email}
	if p == nil {
		resp.FirstName = u.MetadataString("first_name")
		resp.LastName = u.MetadataString("last_name")
		resp.DisplayName = strings.TrimSpace(resp.FirstName + " " + resp.LastName)
		return resp
	}
	resp.UserID = p.UserID
	if p.FirstName != nil {
		resp.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		resp.LastName = *p.LastName
	}
	resp.DisplayName = p.DisplayName()
	return resp
}

// ==================== Sign-up ====================

func validateSignup(req model.SignupRequest) error {
	switch {
	case strings.TrimSpace(req.FirstName) == "":
		return ErrFirstNameMissing
	case strings.TrimSpace(req.LastName) == "":
		return ErrLastNameMissing
	case strings.TrimSpace(req.Email) == "":
		return ErrSignupEmailMissing
	case req.Password == "":
		return ErrPasswordMissing
	case !recovery.StrongPassword(req.Password):
		return recovery.ErrWeakPassword
	case req.Password != req.ConfirmPassword:
		return recovery.ErrPasswordMismatch
	}
	return nil
}

// Signup creates the identity, then the app_user row. The identity carries the
// names as metadata so a failed row insert can be reconciled at the next sign-in.
func (s *AuthService) Signup(ctx context.Context, req model.SignupRequest) (*model.SignupResponse, error) {
	if err := validateSignup(req); err != nil {
		return nil, err
	}

	first, last := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
	client := s.registry.NewClient()
	user, sess, err := client.SignUp(ctx, strings.TrimSpace(req.Email), req.Password, map[string]interface{}{
		"first_name": first,
		"last_name":  last,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	resp := &model.SignupResponse{
		User:                 userResponse(*user, nil),
		ConfirmationRequired: sess == nil,
		ProfileStatus:        model.ProfileStatusCreated,
	}

	profile, err := s.createProfile(ctx, client, model.AppUserInsert{AuthUser: user.ID, FirstName: first, LastName: last})
	if err != nil {
		log.Printf("⚠️  Profile for %s is pending: %v", user.ID, err)
		resp.ProfileStatus = model.ProfileStatusPending
		resp.Message = "Account created. Your profile will be completed the next time you sign in."
	} else {
		resp.User = userResponse(*user, profile)
		resp.Message = "Account created successfully! Please check your email to verify your account."
	}

	if sess == nil {
		_ = client.Close()
		return resp, nil
	}

	// The account exists either way; without a session the user signs in next
	state, err := s.registry.Create(ctx, client)
	if err != nil {
		log.Printf("⚠️  Account %s created but no session opened: %v", user.ID, err)
		resp.Message = signInAfterSignup(resp.ProfileStatus)
		return resp, nil
	}
	state.SetProfile(profile)

	issued, err := s.issue(state)
	if err != nil {
		log.Printf("⚠️  Account %s created but no token issued: %v", user.ID, err)
		s.discard(state)
		resp.Message = signInAfterSignup(resp.ProfileStatus)
		return resp, nil
	}
	resp.Token, resp.ExpiresIn = issued.Token, issued.ExpiresIn
	return resp, nil
}

func signInAfterSignup(status string) string {
	if status == model.ProfileStatusPending {
		return "Account created. Please sign in; your profile will be completed then."
	}
	return "Account created. Please sign in to continue."
}

// createProfile inserts the app_user row, retrying with a growing delay.
// A duplicate row means an earlier attempt landed and counts as success.
func (s *AuthService) createProfile(ctx context.Context, client remote.DataClient, in model.AppUserInsert) (*model.AppUser, error) {
	repo := repository.NewProfileRepository(client)

	var lastErr error
	for attempt := 0; attempt < profileAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff * time.Duration(1<<(attempt-1))):
			}
		}

		profile, err := repo.Create(ctx, in)
		if err == nil {
			return profile, nil
		}
		if remote.IsUniqueViolation(err) {
			return repo.FindByAuthUser(ctx, in.AuthUser)
		}
		lastErr = err
	}
	return nil, lastErr
}

// EnsureProfile returns the app_user row of the session's identity,
// recreating it from the identity metadata when it is missing.
func (s *AuthService) EnsureProfile(ctx context.Context, state *session.State) (*model.AppUser, error) {
	if p := state.Profile(); p != nil {
		return p, nil
	}
	user := state.User()
	if user == nil {
		return nil, remote.ErrNoSession
	}

	repo := repository.NewProfileRepository(state.Client())
	profile, err := repo.FindByAuthUser(ctx, user.ID)
	if errors.Is(err, remote.ErrNotFound) {
		log.Printf("🔧 Recreating missing profile for %s", user.ID)
		profile, err = s.createProfile(ctx, state.Client(), model.AppUserInsert{
			AuthUser:  user.ID,
			FirstName: user.MetadataString("first_name"),
			LastName:  user.MetadataString("last_name"),
		})
	}
	if err != nil {
		return nil, err
	}

	state.SetProfile(profile)
	return profile, nil
}

// ==================== Session ====================

// Session reports the auth state of a browser session
func (s *AuthService) Session(state *session.State) model.SessionResponse {
	if state == nil {
		return model.SessionResponse{}
	}
	resp := model.SessionResponse{Loading: state.Loading()}
	if u := state.User(); u != nil {
		ur := userResponse(*u, state.Profile())
		resp.Authenticated = true
		resp.User = &ur
	}
	return resp
}

// UpdateProfile changes the names on the profile row
func (s *AuthService) UpdateProfile(ctx context.Context, state *session.State, req model.UpdateProfileRequest) (*model.UserResponse, error) {
	profile, err := s.EnsureProfile(ctx, state)
	if err != nil {
		return nil, err
	}
	updated, err := repository.NewProfileRepository(state.Client()).UpdateNames(ctx, profile.UserID, req.FirstName, req.LastName)
	if err != nil {
		return nil, err
	}
	state.SetProfile(updated)
	resp := userResponse(*state.User(), updated)
	return &resp, nil
}

// Logout ends the browser session everywhere. The selected device slot is
// cleared first so no later step can leave it behind.
func (s *AuthService) Logout(ctx context.Context, claims *auth.Claims) error {
	if err := s.selectionRepo.Clear(ctx, claims.AuthUser); err != nil {
		log.Printf("⚠️  Failed to clear selection for %s: %v", claims.AuthUser, err)
	}

	if state, err := s.registry.Get(ctx, claims.SessionID); err == nil {
		if err := state.Client().SignOut(ctx); err != nil {
			log.Printf("⚠️  Remote sign-out failed: %v", err)
		}
	}

	if err := s.sessionRepo.Blacklist(ctx, claims.ID, claims.Remaining(time.Now())); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if err := s.registry.Revoke(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("failed to drop session: %w", err)
	}
	if err := s.rdb.Publish(ctx, RevokedChannel, claims.SessionID).Err(); err != nil {
		log.Printf("⚠️  Failed to announce revoked session: %v", err)
	}
	return nil
}

// ==================== Password reset ====================

// ForgotPassword asks the auth backend to mail a reset link
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmailMissing
	}
	client := s.registry.NewClient()
	defer client.Close()
	return client.ResetPasswordForEmail(ctx, email, s.publicURL+ChangePasswordPath)
}

// Recover runs the reset-link handshake. With an existing session the
// handshake reuses it; otherwise an established link opens a new session
// and a token is returned with the result.
func (s *AuthService) Recover(ctx context.Context, existing *session.State, rawURL string) (recovery.Result, *model.LoginResponse) {
	if existing != nil {
		return recovery.NewHandshake(existing.Client()).Run(ctx, rawURL), nil
	}

	client := s.registry.NewClient()
	res := recovery.NewHandshake(client).Run(ctx, rawURL)
	if res.State != recovery.Established {
		_ = client.Close()
		return res, nil
	}

	state, err := s.registry.Create(ctx, client)
	if err != nil {
		log.Printf("⚠️  Recovery session could not be opened: %v", err)
		return recovery.Result{State: recovery.Failed, Message: recovery.RemediationMessage, RestartPath: recovery.RestartPath}, nil
	}
	issued, err := s.issue(state)
	if err != nil {
		s.discard(state)
		return recovery.Result{State: recovery.Failed, Message: recovery.RemediationMessage, RestartPath: recovery.RestartPath}, nil
	}
	return res, issued
}

// ChangePassword applies the password policy, then updates the password
func (s *AuthService) ChangePassword(ctx context.Context, state *session.State, req model.ChangePasswordRequest) error {
	if err := recovery.ValidatePassword(req.Password, req.ConfirmPassword); err != nil {
		return err
	}
	return state.Client().UpdatePassword(ctx, req.Password)
}
