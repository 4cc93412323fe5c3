package user

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/collab-platform/internal/auth"
	"github.com/example/collab-platform/internal/domain/aggregate"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/rpcerr"
)

const AggregateType = "User"

const (
	maxEmailLength = 254
	maxNameLength  = 100
	maxBioLength   = 500
)

var (
	ErrUserNotFound       = rpcerr.NotFound("user not found")
	ErrInvalidEmail       = rpcerr.Validation("email", "email must be a valid email address")
	ErrInvalidName        = rpcerr.Validation("name", "name is required and at most 100 characters")
	ErrInvalidBio         = rpcerr.Validation("bio", "bio must be at most 500 characters")
	ErrInvalidRole        = rpcerr.Validation("role", "role must be member or admin")
	ErrInvalidCredentials = rpcerr.NotAuthorized("invalid email or password")
	ErrUserDeactivated    = rpcerr.Forbidden("user account is deactivated")
	ErrAdminRequired      = rpcerr.Forbidden("admin role required")
	ErrSelfDeactivation   = rpcerr.Conflict("admins cannot deactivate themselves")
	ErrSelfDemotion       = rpcerr.Conflict("admins cannot change their own role")
	ErrAlreadyDeactivated = rpcerr.Conflict("user is already deactivated")
	ErrAlreadyActive      = rpcerr.Conflict("user is already active")
)

var emailRegex = regexp.MustCompile(
	`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?)*\.[a-zA-Z]{2,}$`,
)

func isValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailRegex.MatchString(email)
}

func validRole(role string) bool {
	return role == auth.RoleMember || role == auth.RoleAdmin
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

// User is an account on the platform. The password hash never leaves the
// domain and read models.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Bio          string    `json:"bio,omitempty"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int       `json:"version"`
}

func (u *User) GetID() string   { return u.ID }
func (u *User) GetVersion() int { return u.Version }

func (u *User) IsAdmin() bool { return u.Role == auth.RoleAdmin }

func (u *User) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventRegistered:
		var data Registered
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		u.ID = data.UserID
		u.Email = data.Email
		u.PasswordHash = data.PasswordHash
		u.Name = data.Name
		u.Role = data.Role
		u.IsActive = true
		u.CreatedAt = data.RegisteredAt
		u.UpdatedAt = data.RegisteredAt
	case EventProfileUpdated:
		var data ProfileUpdated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		u.Name = data.Name
		u.Bio = data.Bio
		u.UpdatedAt = data.UpdatedAt
	case EventPasswordChanged:
		var data PasswordChanged
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		u.PasswordHash = data.PasswordHash
		u.UpdatedAt = data.ChangedAt
	case EventRoleChanged:
		var data RoleChanged
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		u.Role = data.Role
		u.UpdatedAt = data.ChangedAt
	case EventDeactivated:
		var data Deactivated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		u.IsActive = false
		u.UpdatedAt = data.DeactivatedAt
	case EventReactivated:
		var data Reactivated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		u.IsActive = true
		u.UpdatedAt = data.ReactivatedAt
	}
	u.Version = event.Version
	return nil
}

type Service struct {
	eventStore store.EventStoreInterface
}

func NewService(es store.EventStoreInterface) *Service {
	return &Service{eventStore: es}
}

func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	u, found, err := aggregate.LoadAggregate(ctx, s.eventStore, userID, func() *User { return &User{} })
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// Register creates a member account.
func (s *Service) Register(ctx context.Context, email, password, name string) (*User, error) {
	return s.register(ctx, email, password, name, auth.RoleMember)
}

// RegisterAdmin creates an admin account. Used for bootstrap and tests; the
// API only ever registers members.
func (s *Service) RegisterAdmin(ctx context.Context, email, password, name string) (*User, error) {
	return s.register(ctx, email, password, name, auth.RoleAdmin)
}

// register assumes the caller checked email uniqueness against the read
// store.
func (s *Service) register(ctx context.Context, email, password, name, role string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !isValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if !validRole(role) {
		return nil, ErrInvalidRole
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	e := Registered{
		UserID:       uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         role,
		RegisteredAt: time.Now(),
	}
	stored, err := s.eventStore.Append(ctx, e.UserID, AggregateType, EventRegistered, e)
	if err != nil {
		return nil, err
	}

	u := &User{}
	if err := u.ApplyEvent(*stored); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) RecordSignIn(ctx context.Context, userID, sessionID, ipAddress, userAgent string) error {
	_, err := s.eventStore.Append(ctx, userID, AggregateType, EventSignedIn, SignedIn{
		UserID:    userID,
		SessionID: sessionID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		At:        time.Now(),
	})
	return err
}

func (s *Service) RecordSignOut(ctx context.Context, userID, sessionID string) error {
	_, err := s.eventStore.Append(ctx, userID, AggregateType, EventSignedOut, SignedOut{
		UserID:    userID,
		SessionID: sessionID,
		At:        time.Now(),
	})
	return err
}

// UpdateProfile replaces name and bio. Unchanged profiles append nothing.
func (s *Service) UpdateProfile(ctx context.Context, userID, name, bio string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	bio = strings.TrimSpace(bio)
	if len(bio) > maxBioLength {
		return ErrInvalidBio
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if u.Name == name && u.Bio == bio {
		return nil
	}

	_, err = s.eventStore.Append(ctx, userID, AggregateType, EventProfileUpdated, ProfileUpdated{
		UserID:    userID,
		Name:      name,
		Bio:       bio,
		UpdatedAt: time.Now(),
	})
	return err
}

// ChangePassword requires the current password.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(currentPassword, u.PasswordHash) {
		return ErrInvalidCredentials
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}

	_, err = s.eventStore.Append(ctx, userID, AggregateType, EventPasswordChanged, PasswordChanged{
		UserID:       userID,
		PasswordHash: hash,
		ChangedAt:    time.Now(),
	})
	return err
}

// ChangeRole promotes or demotes a user. Admins cannot change their own role,
// so the platform never loses its last admin by accident.
func (s *Service) ChangeRole(ctx context.Context, actor aggregate.Actor, userID, role string) error {
	if !actor.Admin {
		return ErrAdminRequired
	}
	if !validRole(role) {
		return ErrInvalidRole
	}
	if actor.UserID == userID {
		return ErrSelfDemotion
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role == role {
		return nil
	}

	_, err = s.eventStore.Append(ctx, userID, AggregateType, EventRoleChanged, RoleChanged{
		UserID:    userID,
		Role:      role,
		ChangedBy: actor.UserID,
		ChangedAt: time.Now(),
	})
	return err
}

// Deactivate locks the account out of sign-in and refresh.
func (s *Service) Deactivate(ctx context.Context, actor aggregate.Actor, userID, reason string) error {
	if !actor.Admin {
		return ErrAdminRequired
	}
	if actor.UserID == userID {
		return ErrSelfDeactivation
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !u.IsActive {
		return ErrAlreadyDeactivated
	}

	_, err = s.eventStore.Append(ctx, userID, AggregateType, EventDeactivated, Deactivated{
		UserID:        userID,
		By:            actor.UserID,
		Reason:        strings.TrimSpace(reason),
		DeactivatedAt: time.Now(),
	})
	return err
}

func (s *Service) Reactivate(ctx context.Context, actor aggregate.Actor, userID string) error {
	if !actor.Admin {
		return ErrAdminRequired
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if u.IsActive {
		return ErrAlreadyActive
	}

	_, err = s.eventStore.Append(ctx, userID, AggregateType, EventReactivated, Reactivated{
		UserID:        userID,
		By:            actor.UserID,
		ReactivatedAt: time.Now(),
	})
	return err
}
