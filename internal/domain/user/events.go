package user

import "time"

const (
	EventRegistered      = "UserRegistered"
	EventProfileUpdated  = "UserProfileUpdated"
	EventPasswordChanged = "UserPasswordChanged"
	EventRoleChanged     = "UserRoleChanged"
	EventSignedIn        = "UserSignedIn"
	EventSignedOut       = "UserSignedOut"
	EventDeactivated     = "UserDeactivated"
	EventReactivated     = "UserReactivated"
)

type Registered struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ProfileUpdated replaces the public profile fields.
type ProfileUpdated struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Bio       string    `json:"bio"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PasswordChanged struct {
	UserID       string    `json:"user_id"`
	PasswordHash string    `json:"password_hash"`
	ChangedAt    time.Time `json:"changed_at"`
}

// RoleChanged takes effect for the user's next access token.
type RoleChanged struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

// SignedIn and SignedOut are audit records; they do not change state.
type SignedIn struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	At        time.Time `json:"at"`
}

type SignedOut struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
}

type Deactivated struct {
	UserID        string    `json:"user_id"`
	By            string    `json:"by"`
	Reason        string    `json:"reason,omitempty"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

type Reactivated struct {
	UserID        string    `json:"user_id"`
	By            string    `json:"by"`
	ReactivatedAt time.Time `json:"reactivated_at"`
}
