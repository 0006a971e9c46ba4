// Package user manages accounts for villagers, ANMS officers, doctors and
// administrators, and issues session tokens on login.
package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/platform/apperr"
	"github.com/villagecare/villagecare/internal/platform/auth"
	"github.com/villagecare/villagecare/pkg/pagination"
)

const errInvalidCredentials = "invalid email or password"

type Service struct {
	repo       Repository
	issuer     *auth.TokenIssuer
	bcryptCost int
	logger     zerolog.Logger

	// dummyHash is compared against when the email is unknown so that login
	// takes the same time either way.
	dummyOnce sync.Once
	dummyHash string
}

func NewService(repo Repository, issuer *auth.TokenIssuer, bcryptCost int, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		issuer:     issuer,
		bcryptCost: bcryptCost,
		logger:     logger.With().Str("component", "user").Logger(),
	}
}

// Register creates an account. Without an actor (public sign-up) only
// villager accounts can be created; admins may create any role.
func (s *Service) Register(ctx context.Context, actor *auth.Principal, in RegisterInput) (*User, error) {
	if in.Role == "" {
		in.Role = auth.RoleVillager
	}
	switch {
	case actor == nil:
		if in.Role != auth.RoleVillager {
			return nil, apperr.Permission("only villager accounts can be self-registered")
		}
	case !actor.IsAdmin():
		return nil, apperr.Permission("only administrators can create accounts")
	}
	return s.Create(ctx, in)
}

// Create validates and stores a new account without an authorization check.
// Used by Register and the bootstrap CLI.
func (s *Service) Create(ctx context.Context, in RegisterInput) (*User, error) {
	u := &User{
		Name:    strings.TrimSpace(in.Name),
		Email:   normalizeEmail(in.Email),
		Phone:   strings.TrimSpace(in.Phone),
		Role:    in.Role,
		Village: strings.TrimSpace(in.Village),
		Status:  StatusActive,
	}
	if u.Role == "" {
		u.Role = auth.RoleVillager
	}
	if in.Profile != nil {
		u.Profile = *in.Profile
	}

	fields := map[string]string{}
	if u.Name == "" {
		fields["name"] = "required"
	}
	if _, err := mail.ParseAddress(u.Email); err != nil || u.Email == "" {
		fields["email"] = "must be a valid email address"
	} else if tooLong(u.Email, maxEmailLength) {
		fields["email"] = fmt.Sprintf("must be at most %d characters", maxEmailLength)
	}
	checkContactLengths(fields, u)
	if !auth.ValidRole(u.Role) {
		fields["role"] = "must be villager, avms, doctor or admin"
	}
	if u.Role == auth.RoleVillager && u.Village == "" {
		fields["village"] = "required for villagers"
	}
	if u.Role != auth.RoleDoctor && !u.Profile.IsZero() {
		fields["profile"] = "only doctors have a professional profile"
	}
	switch {
	case len(in.Password) < auth.MinPasswordLength:
		fields["password"] = auth.ErrPasswordTooShort.Error()
	case len(in.Password) > auth.MaxPasswordLength:
		fields["password"] = auth.ErrPasswordTooLong.Error()
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid registration", fields)
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, apperr.Infrastructure("hash password", err)
	}
	u.PasswordHash = hash

	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperr.Conflict("an account with this email already exists")
		}
		return nil, apperr.Infrastructure("create user", err)
	}

	s.logger.Info().Int64("user_id", u.ID).Str("role", u.Role).Msg("user registered")
	return u, nil
}

// Login checks credentials and returns a signed session token.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, apperr.Validation("email and password are required", nil)
	}

	u, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.dummyOnce.Do(func() {
			s.dummyHash, _ = auth.HashPassword("unknown-account-password", s.bcryptCost)
		})
		auth.CheckPassword(s.dummyHash, in.Password)
		return nil, apperr.Permission(errInvalidCredentials)
	}
	if err != nil {
		return nil, apperr.Infrastructure("load user", err)
	}
	if !auth.CheckPassword(u.PasswordHash, in.Password) {
		s.logger.Warn().Int64("user_id", u.ID).Msg("failed login")
		return nil, apperr.Permission(errInvalidCredentials)
	}
	if !u.IsActive() {
		return nil, apperr.Permission("account is " + string(u.Status))
	}

	token, exp, err := s.issuer.Issue(u.Principal())
	if err != nil {
		return nil, apperr.Infrastructure("issue token", err)
	}
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

// Lookup loads a user without an authorization check, for use by other
// services.
func (s *Service) Lookup(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("user", id)
	}
	if err != nil {
		return nil, apperr.Infrastructure("load user", err)
	}
	return u, nil
}

// ActiveByRole lists active users with role, optionally only in village.
func (s *Service) ActiveByRole(ctx context.Context, role, village string) ([]*User, error) {
	users, err := s.repo.ListActive(ctx, role, village)
	if err != nil {
		return nil, apperr.Infrastructure("list users", err)
	}
	return users, nil
}

// Get returns a user visible to p. Villagers may only see themselves.
func (s *Service) Get(ctx context.Context, p auth.Principal, id int64) (*User, error) {
	if p.UserID != id && !p.HasRole(auth.RoleAdmin, auth.RoleAVMS, auth.RoleDoctor) {
		return nil, apperr.Permission("you do not have access to this user")
	}
	return s.Lookup(ctx, id)
}

func (s *Service) List(ctx context.Context, p auth.Principal, f ListFilter, limit, offset int) ([]*User, int, error) {
	if !p.HasRole(auth.RoleAdmin, auth.RoleAVMS) {
		return nil, 0, apperr.Permission("you cannot list users")
	}
	if f.Role != "" && !auth.ValidRole(f.Role) {
		return nil, 0, apperr.Validation("invalid role", map[string]string{"role": "unknown role"})
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invalid status", map[string]string{"status": "unknown status"})
	}
	users, total, err := s.repo.List(ctx, f, pagination.Clamp(limit), offset)
	if err != nil {
		return nil, 0, apperr.Infrastructure("list users", err)
	}
	return users, total, nil
}

// UpdateProfile changes the mutable fields of the caller's own account, or
// any account for an admin. Email is immutable.
func (s *Service) UpdateProfile(ctx context.Context, p auth.Principal, id int64, upd ProfileUpdate) (*User, error) {
	if p.UserID != id && !p.IsAdmin() {
		return nil, apperr.Permission("you can only update your own profile")
	}
	if upd.Email != nil {
		return nil, apperr.Validation("email cannot be changed", map[string]string{"email": "immutable"})
	}

	u, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if upd.Name != nil {
		u.Name = strings.TrimSpace(*upd.Name)
		if u.Name == "" {
			fields["name"] = "required"
		}
	}
	if upd.Phone != nil {
		u.Phone = strings.TrimSpace(*upd.Phone)
	}
	if upd.Village != nil {
		u.Village = strings.TrimSpace(*upd.Village)
		if u.Role == auth.RoleVillager && u.Village == "" {
			fields["village"] = "required for villagers"
		}
	}
	checkContactLengths(fields, u)
	if upd.Profile != nil {
		if u.Role != auth.RoleDoctor && !upd.Profile.IsZero() {
			fields["profile"] = "only doctors have a professional profile"
		}
		u.Profile = *upd.Profile
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid profile update", fields)
	}

	if err := s.repo.Update(ctx, u); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("user", id)
		}
		return nil, apperr.Infrastructure("update user", err)
	}
	return u, nil
}

// SetStatus activates or deactivates an account. Admin only; admins cannot
// change their own status.
func (s *Service) SetStatus(ctx context.Context, p auth.Principal, id int64, status Status) (*User, error) {
	if !p.IsAdmin() {
		return nil, apperr.Permission("only administrators can change account status")
	}
	if !status.Valid() {
		return nil, apperr.Validation("invalid status", map[string]string{"status": "must be active, inactive or suspended"})
	}
	if p.UserID == id {
		return nil, apperr.Conflict("you cannot change your own account status")
	}

	if err := s.repo.SetStatus(ctx, id, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("user", id)
		}
		return nil, apperr.Infrastructure("set user status", err)
	}
	s.logger.Info().Int64("user_id", id).Int64("actor_id", p.UserID).Str("status", string(status)).Msg("user status changed")
	return s.Lookup(ctx, id)
}

// Column widths in the users table.
const (
	maxNameLength    = 255
	maxEmailLength   = 255
	maxPhoneLength   = 32
	maxVillageLength = 255
)

func tooLong(v string, max int) bool {
	return utf8.RuneCountInString(v) > max
}

func checkContactLengths(fields map[string]string, u *User) {
	if tooLong(u.Name, maxNameLength) {
		fields["name"] = fmt.Sprintf("must be at most %d characters", maxNameLength)
	}
	if tooLong(u.Phone, maxPhoneLength) {
		fields["phone"] = fmt.Sprintf("must be at most %d characters", maxPhoneLength)
	}
	if tooLong(u.Village, maxVillageLength) {
		fields["village"] = fmt.Sprintf("must be at most %d characters", maxVillageLength)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
