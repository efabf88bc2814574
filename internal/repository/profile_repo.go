package repository

import (
	"context"

	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
)

// ProfileRepository handles app_user rows
type ProfileRepository struct {
	client remote.DataClient
}

func NewProfileRepository(client remote.DataClient) *ProfileRepository {
	return &ProfileRepository{client: client}
}

// FindByAuthUser finds the profile linked to an auth identity
func (r *ProfileRepository) FindByAuthUser(ctx context.Context, authUser string) (*model.AppUser, error) {
	var rows []model.AppUser
	q := remote.From(model.TableAppUser).Eq("auth_user", authUser).WithLimit(1)
	if err := r.client.Query(ctx, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, remote.ErrNotFound
	}
	return &rows[0], nil
}

// Create inserts a new profile row
func (r *ProfileRepository) Create(ctx context.Context, in model.AppUserInsert) (*model.AppUser, error) {
	var rows []model.AppUser
	if err := r.client.Insert(ctx, model.TableAppUser, []model.AppUserInsert{in}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, remote.ErrNotFound
	}
	return &rows[0], nil
}

// UpdateNames changes the first and/or last name; nil leaves a name unchanged
func (r *ProfileRepository) UpdateNames(ctx context.Context, userID int64, first, last *string) (*model.AppUser, error) {
	patch := map[string]interface{}{}
	if first != nil {
		patch["user_first_name"] = *first
	}
	if last != nil {
		patch["user_last_name"] = *last
	}

	var rows []model.AppUser
	q := remote.From(model.TableAppUser).Eq("user_id", userID)
	if err := r.client.Update(ctx, q, patch, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, remote.ErrNotFound
	}
	return &rows[0], nil
}
