package user

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/collab-platform/internal/auth"
	"github.com/example/collab-platform/internal/domain/aggregate"
	"github.com/example/collab-platform/internal/infrastructure/store/mocks"
	"github.com/example/collab-platform/internal/rpcerr"
)

var (
	root  = aggregate.Actor{UserID: "root", Name: "Root", Admin: true}
	plain = aggregate.Actor{UserID: "someone", Name: "Someone"}
)

func init() {
	auth.BcryptCost = bcrypt.MinCost
}

func newTestUserService(t *testing.T) (*Service, *mocks.MockEventStore, *User) {
	t.Helper()
	eventStore := mocks.NewMockEventStore()
	service := NewService(eventStore)
	u, err := service.Register(context.Background(), " Ada@Example.com ", "password123", "  Ada  ")
	require.NoError(t, err)
	return service, eventStore, u
}

func lastEvent(t *testing.T, es *mocks.MockEventStore) mocks.AppendCall {
	t.Helper()
	require.NotEmpty(t, es.AppendCalls)
	return es.AppendCalls[len(es.AppendCalls)-1]
}

// ============================================
// Email Validation Tests
// ============================================

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"ada@example.com", true},
		{"first.last+tag@sub.example.org", true},
		{"USER@EXAMPLE.COM", true},
		{"a@b.cd", true},
		{"", false},
		{"ada", false},
		{"@example.com", false},
		{"ada@", false},
		{"ada@example", false},
		{"ada@.com", false},
		{"ada lovelace@example.com", false},
		{strings.Repeat("a", 250) + "@x.io", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, isValidEmail(tt.email))
		})
	}
}

// ============================================
// Register Tests
// ============================================

func TestService_Register_NormalizesInput(t *testing.T) {
	_, eventStore, u := newTestUserService(t)

	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, "Ada", u.Name)
	assert.Equal(t, auth.RoleMember, u.Role)
	assert.True(t, u.IsActive)
	assert.Equal(t, 1, u.Version)
	assert.True(t, auth.CheckPassword("password123", u.PasswordHash))
	assert.Equal(t, EventRegistered, lastEvent(t, eventStore).EventType)
}

func TestService_RegisterAdmin(t *testing.T) {
	service := NewService(mocks.NewMockEventStore())

	u, err := service.RegisterAdmin(context.Background(), "root@example.com", "password123", "Root")

	require.NoError(t, err)
	assert.True(t, u.IsAdmin())
}

func TestService_Register_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		userName string
		want     error
	}{
		{"bad email", "nope", "password123", "Ada", ErrInvalidEmail},
		{"blank name", "ada@example.com", "password123", "   ", ErrInvalidName},
		{"long name", "ada@example.com", "password123", strings.Repeat("x", 101), ErrInvalidName},
		{"short password", "ada@example.com", "short", "Ada", auth.ErrPasswordTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eventStore := mocks.NewMockEventStore()
			service := NewService(eventStore)

			_, err := service.Register(context.Background(), tt.email, tt.password, tt.userName)

			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, eventStore.AppendCalls)
		})
	}
}

func TestService_Register_StoreFailure(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	eventStore.AppendErr = errors.New("disk full")
	service := NewService(eventStore)

	_, err := service.Register(context.Background(), "ada@example.com", "password123", "Ada")

	assert.EqualError(t, err, "disk full")
}

// ============================================
// Profile and Password Tests
// ============================================

func TestService_UpdateProfile(t *testing.T) {
	service, eventStore, u := newTestUserService(t)

	require.NoError(t, service.UpdateProfile(context.Background(), u.ID, "Ada L.", "  Counts things  "))

	got, err := service.Get(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", got.Name)
	assert.Equal(t, "Counts things", got.Bio)
	assert.Equal(t, EventProfileUpdated, lastEvent(t, eventStore).EventType)

	// unchanged profile appends nothing
	n := len(eventStore.AppendCalls)
	require.NoError(t, service.UpdateProfile(context.Background(), u.ID, "Ada L.", "Counts things"))
	assert.Len(t, eventStore.AppendCalls, n)
}

func TestService_UpdateProfile_Rejects(t *testing.T) {
	service, _, u := newTestUserService(t)

	assert.ErrorIs(t, service.UpdateProfile(context.Background(), u.ID, "", ""), ErrInvalidName)
	assert.ErrorIs(t, service.UpdateProfile(context.Background(), u.ID, "Ada", strings.Repeat("b", 501)), ErrInvalidBio)
	assert.ErrorIs(t, service.UpdateProfile(context.Background(), "ghost", "Ada", ""), ErrUserNotFound)
}

func TestService_ChangePassword(t *testing.T) {
	service, _, u := newTestUserService(t)

	assert.ErrorIs(t, service.ChangePassword(context.Background(), u.ID, "wrong-password", "another-pass"), ErrInvalidCredentials)
	assert.ErrorIs(t, service.ChangePassword(context.Background(), u.ID, "password123", "short"), auth.ErrPasswordTooShort)
	assert.ErrorIs(t, service.ChangePassword(context.Background(), "ghost", "password123", "another-pass"), ErrUserNotFound)

	require.NoError(t, service.ChangePassword(context.Background(), u.ID, "password123", "another-pass"))
	got, err := service.Get(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword("another-pass", got.PasswordHash))
	assert.False(t, auth.CheckPassword("password123", got.PasswordHash))
}

// ============================================
// Administration Tests
// ============================================

func TestService_ChangeRole(t *testing.T) {
	service, eventStore, u := newTestUserService(t)
	ctx := context.Background()

	assert.ErrorIs(t, service.ChangeRole(ctx, plain, u.ID, auth.RoleAdmin), ErrAdminRequired)
	assert.ErrorIs(t, service.ChangeRole(ctx, root, u.ID, "owner"), ErrInvalidRole)
	assert.ErrorIs(t, service.ChangeRole(ctx, root, root.UserID, auth.RoleMember), ErrSelfDemotion)
	assert.ErrorIs(t, service.ChangeRole(ctx, root, "ghost", auth.RoleAdmin), ErrUserNotFound)

	require.NoError(t, service.ChangeRole(ctx, root, u.ID, auth.RoleAdmin))
	call := lastEvent(t, eventStore)
	assert.Equal(t, EventRoleChanged, call.EventType)
	assert.Equal(t, root.UserID, call.Data.(RoleChanged).ChangedBy)

	got, err := service.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin())

	// same role again is a no-op
	n := len(eventStore.AppendCalls)
	require.NoError(t, service.ChangeRole(ctx, root, u.ID, auth.RoleAdmin))
	assert.Len(t, eventStore.AppendCalls, n)
}

func TestService_DeactivateAndReactivate(t *testing.T) {
	service, eventStore, u := newTestUserService(t)
	ctx := context.Background()

	assert.ErrorIs(t, service.Deactivate(ctx, plain, u.ID, ""), ErrAdminRequired)
	assert.ErrorIs(t, service.Deactivate(ctx, root, root.UserID, ""), ErrSelfDeactivation)
	assert.ErrorIs(t, service.Deactivate(ctx, root, "ghost", ""), ErrUserNotFound)
	assert.ErrorIs(t, service.Reactivate(ctx, root, u.ID), ErrAlreadyActive)

	require.NoError(t, service.Deactivate(ctx, root, u.ID, " spam "))
	call := lastEvent(t, eventStore)
	assert.Equal(t, EventDeactivated, call.EventType)
	assert.Equal(t, "spam", call.Data.(Deactivated).Reason)

	got, err := service.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.ErrorIs(t, service.Deactivate(ctx, root, u.ID, ""), ErrAlreadyDeactivated)

	assert.ErrorIs(t, service.Reactivate(ctx, plain, u.ID), ErrAdminRequired)
	require.NoError(t, service.Reactivate(ctx, root, u.ID))
	got, err = service.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestService_AdministrationErrorsCarryCodes(t *testing.T) {
	assert.ErrorIs(t, ErrAdminRequired, rpcerr.ErrForbidden)
	assert.ErrorIs(t, ErrAlreadyDeactivated, rpcerr.ErrConflict)
	assert.ErrorIs(t, ErrInvalidBio, rpcerr.ErrValidation)
}

// ============================================
// Audit Events
// ============================================

func TestService_SignInAndOutAreAuditOnly(t *testing.T) {
	service, eventStore, u := newTestUserService(t)
	ctx := context.Background()

	require.NoError(t, service.RecordSignIn(ctx, u.ID, "session-1", "192.0.2.1", "curl/8"))
	require.NoError(t, service.RecordSignOut(ctx, u.ID, "session-1"))

	in := eventStore.AppendCalls[len(eventStore.AppendCalls)-2]
	assert.Equal(t, EventSignedIn, in.EventType)
	assert.Equal(t, "192.0.2.1", in.Data.(SignedIn).IPAddress)
	assert.Equal(t, EventSignedOut, lastEvent(t, eventStore).EventType)

	got, err := service.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Version)
	assert.Equal(t, "Ada", got.Name)
}
