package model

import (
	"strings"
	"time"
)

// AppUser is the profile row linked to one auth identity
type AppUser struct {
	UserID    int64     `json:"user_id" gorm:"column:user_id;primaryKey;autoIncrement"`
	AuthUser  *string   `json:"auth_user" gorm:"column:auth_user;type:uuid;uniqueIndex"`
	FirstName *string   `json:"user_first_name" gorm:"column:user_first_name;size:100"`
	LastName  *string   `json:"user_last_name" gorm:"column:user_last_name;size:100"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AppUser) TableName() string { return TableAppUser }

// DisplayName joins first and last name, skipping empty parts
func (u AppUser) DisplayName() string {
	var parts []string
	if u.FirstName != nil && *u.FirstName != "" {
		parts = append(parts, *u.FirstName)
	}
	if u.LastName != nil && *u.LastName != "" {
		parts = append(parts, *u.LastName)
	}
	return strings.Join(parts, " ")
}

// AppUserInsert is the payload for creating a profile row
type AppUserInsert struct {
	AuthUser  string `json:"auth_user"`
	FirstName string `json:"user_first_name"`
	LastName  string `json:"user_last_name"`
}

// Table names as exposed by the data backend
const (
	TableAppUser     = "app_user"
	TableDevice      = "device"
	TableMeasurement = "measurement_data"
)
