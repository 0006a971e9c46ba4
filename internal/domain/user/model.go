package user

import (
	"time"

	"github.com/villagecare/villagecare/internal/platform/auth"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive || s == StatusSuspended
}

// Profile holds the doctor-only fields stored in users.profile.
type Profile struct {
	Specialization  string   `json:"specialization,omitempty"`
	LicenseNumber   string   `json:"license_number,omitempty"`
	Qualification   string   `json:"qualification,omitempty"`
	ExperienceYears int      `json:"experience_years,omitempty"`
	Languages       []string `json:"languages,omitempty"`
	Bio             string   `json:"bio,omitempty"`
}

func (p Profile) IsZero() bool {
	return p.Specialization == "" && p.LicenseNumber == "" && p.Qualification == "" &&
		p.ExperienceYears == 0 && len(p.Languages) == 0 && p.Bio == ""
}

// User maps to the users table.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	Phone        string    `db:"phone" json:"phone"`
	Role         string    `db:"role" json:"role"`
	Village      string    `db:"village" json:"village"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Status       Status    `db:"status" json:"status"`
	Profile      Profile   `db:"profile" json:"profile"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (u *User) Principal() auth.Principal {
	return auth.Principal{UserID: u.ID, Role: u.Role, Village: u.Village}
}

func (u *User) IsActive() bool { return u.Status == StatusActive }

type RegisterInput struct {
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Phone    string   `json:"phone"`
	Role     string   `json:"role"`
	Village  string   `json:"village"`
	Profile  *Profile `json:"profile,omitempty"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// ProfileUpdate carries the mutable fields. Email is accepted only to be
// rejected.
type ProfileUpdate struct {
	Name    *string  `json:"name,omitempty"`
	Email   *string  `json:"email,omitempty"`
	Phone   *string  `json:"phone,omitempty"`
	Village *string  `json:"village,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
}

type ListFilter struct {
	Role    string
	Status  Status
	Village string
	Keyword string
}
