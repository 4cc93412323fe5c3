package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/collab-platform/internal/auth"
	"github.com/example/collab-platform/internal/domain/article"
	"github.com/example/collab-platform/internal/domain/group"
	"github.com/example/collab-platform/internal/domain/tag"
	"github.com/example/collab-platform/internal/domain/user"
	"github.com/example/collab-platform/internal/infrastructure/store/mocks"
	"github.com/example/collab-platform/internal/readmodel"
	"github.com/example/collab-platform/internal/rpcerr"
)

func init() {
	auth.BcryptCost = bcrypt.MinCost
}

func newTestHandler() (*Handler, *mocks.MockEventStore, *mocks.MockReadStore) {
	eventStore := mocks.NewMockEventStore()
	readStore := mocks.NewMockReadStore()

	handler := NewHandler(
		article.NewService(eventStore),
		tag.NewService(eventStore, TagSlugTaken(readStore)),
		group.NewService(eventStore),
		user.NewService(eventStore),
		readStore,
	)
	return handler, eventStore, readStore
}

func asMember(id string) context.Context {
	return auth.ContextWithClaims(context.Background(), &auth.Claims{UserID: id, Name: "Member " + id, Role: auth.RoleMember})
}

func asAdmin() context.Context {
	return auth.ContextWithClaims(context.Background(), &auth.Claims{UserID: "admin-1", Name: "Root", Role: auth.RoleAdmin})
}

// ============================================
// Authorization and Validation Tests
// ============================================

func TestHandler_AnonymousIsRejectedBeforeValidation(t *testing.T) {
	handler, eventStore, _ := newTestHandler()

	_, err := handler.CreateArticle(context.Background(), CreateArticle{})

	assert.ErrorIs(t, err, rpcerr.ErrNotAuthorized)
	assert.Empty(t, eventStore.AppendCalls)
}

func TestHandler_ValidationErrorsNameJSONField(t *testing.T) {
	handler, eventStore, _ := newTestHandler()

	tests := []struct {
		name  string
		run   func() error
		field string
	}{
		{"missing title", func() error {
			_, err := handler.CreateArticle(asMember("u1"), CreateArticle{Body: "x"})
			return err
		}, "title"},
		{"empty tag id", func() error {
			_, err := handler.CreateArticle(asMember("u1"), CreateArticle{Title: "t", TagIDs: []string{""}})
			return err
		}, "tag_ids[0]"},
		{"bad email", func() error {
			_, err := handler.RegisterUser(context.Background(), RegisterUser{Email: "nope", Password: "password123", Name: "A"})
			return err
		}, "email"},
		{"short password", func() error {
			_, err := handler.RegisterUser(context.Background(), RegisterUser{Email: "a@b.co", Password: "short", Name: "A"})
			return err
		}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()

			require.ErrorIs(t, err, rpcerr.ErrValidation)
			assert.Equal(t, tt.field, rpcerr.As(err).Field)
		})
	}
	assert.Empty(t, eventStore.AppendCalls)
}

// ============================================
// Article Tests
// ============================================

func TestHandler_CreateArticle_Success(t *testing.T) {
	handler, eventStore, readStore := newTestHandler()
	readStore.SetData(readmodel.Tags, "tag-1", &readmodel.TagReadModel{ID: "tag-1", Name: "Go"})

	a, err := handler.CreateArticle(asMember("u1"), CreateArticle{Title: "Hello", TagIDs: []string{"tag-1"}})

	require.NoError(t, err)
	assert.Equal(t, "u1", a.AuthorID)
	assert.Equal(t, "Member u1", a.AuthorName)
	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, article.EventArticleCreated, eventStore.AppendCalls[0].EventType)
}

func TestHandler_CreateArticle_UnknownTag(t *testing.T) {
	handler, eventStore, _ := newTestHandler()

	_, err := handler.CreateArticle(asMember("u1"), CreateArticle{Title: "Hello", TagIDs: []string{"missing"}})

	assert.ErrorIs(t, err, ErrUnknownTag)
	assert.Empty(t, eventStore.AppendCalls)
}

func TestHandler_CreateArticle_GroupMembership(t *testing.T) {
	handler, eventStore, _ := newTestHandler()
	g, err := handler.CreateGroup(asMember("owner"), CreateGroup{Name: "Readers"})
	require.NoError(t, err)

	_, err = handler.CreateArticle(asMember("outsider"), CreateArticle{Title: "Hi", GroupID: g.ID})
	assert.ErrorIs(t, err, ErrNotGroupMember)

	_, err = handler.CreateArticle(asMember("owner"), CreateArticle{Title: "Hi", GroupID: g.ID})
	require.NoError(t, err)

	_, err = handler.CreateArticle(asMember("owner"), CreateArticle{Title: "Hi", GroupID: "no-such-group"})
	assert.ErrorIs(t, err, group.ErrGroupNotFound)

	assert.Len(t, eventStore.AppendCalls, 2)
}

func TestHandler_PublishArticle_OnlyAuthor(t *testing.T) {
	handler, _, _ := newTestHandler()
	a, err := handler.CreateArticle(asMember("u1"), CreateArticle{Title: "Hello"})
	require.NoError(t, err)

	err = handler.PublishArticle(asMember("u2"), PublishArticle{ArticleID: a.ID})
	assert.ErrorIs(t, err, rpcerr.ErrForbidden)

	require.NoError(t, handler.PublishArticle(asMember("u1"), PublishArticle{ArticleID: a.ID}))
	require.NoError(t, handler.UnpublishArticle(asAdmin(), UnpublishArticle{ArticleID: a.ID}))
	require.NoError(t, handler.DeleteArticle(asMember("u1"), DeleteArticle{ArticleID: a.ID}))

	err = handler.UpdateArticle(asMember("u1"), UpdateArticle{ArticleID: a.ID, Title: "x"})
	assert.ErrorIs(t, err, article.ErrArticleNotFound)
}

// ============================================
// Tag Tests
// ============================================

func TestHandler_TagsRequireAdmin(t *testing.T) {
	handler, eventStore, _ := newTestHandler()

	_, err := handler.CreateTag(asMember("u1"), CreateTag{Name: "Go"})
	assert.ErrorIs(t, err, rpcerr.ErrForbidden)

	_, err = handler.CreateTag(context.Background(), CreateTag{Name: "Go"})
	assert.ErrorIs(t, err, rpcerr.ErrNotAuthorized)

	assert.Empty(t, eventStore.AppendCalls)
}

func TestHandler_CreateTag_SlugConflict(t *testing.T) {
	handler, _, readStore := newTestHandler()
	readStore.SetData(readmodel.Tags, "tag-1", &readmodel.TagReadModel{ID: "tag-1", Name: "Go", Slug: "go"})

	_, err := handler.CreateTag(asAdmin(), CreateTag{Name: "Go"})
	assert.ErrorIs(t, err, tag.ErrSlugConflict)

	tg, err := handler.CreateTag(asAdmin(), CreateTag{Name: "Go", Slug: "golang"})
	require.NoError(t, err)
	assert.Equal(t, "golang", tg.Slug)
}

func TestHandler_RenameTag_KeepsOwnSlug(t *testing.T) {
	handler, eventStore, readStore := newTestHandler()
	tg, err := handler.CreateTag(asAdmin(), CreateTag{Name: "Go"})
	require.NoError(t, err)
	readStore.SetData(readmodel.Tags, tg.ID, &readmodel.TagReadModel{ID: tg.ID, Name: "Go", Slug: "go"})

	require.NoError(t, handler.RenameTag(asAdmin(), RenameTag{TagID: tg.ID, Name: "Go", Description: "the language"}))
	require.NoError(t, handler.DeleteTag(asAdmin(), DeleteTag{TagID: tg.ID}))

	assert.Len(t, eventStore.AppendCalls, 3)
}

// ============================================
// Group Tests
// ============================================

func TestHandler_GroupLifecycle(t *testing.T) {
	handler, _, _ := newTestHandler()
	g, err := handler.CreateGroup(asMember("owner"), CreateGroup{Name: "Readers"})
	require.NoError(t, err)

	require.NoError(t, handler.JoinGroup(asMember("u2"), JoinGroup{GroupID: g.ID}))
	assert.ErrorIs(t, handler.JoinGroup(asMember("u2"), JoinGroup{GroupID: g.ID}), group.ErrAlreadyMember)
	assert.ErrorIs(t, handler.RemoveGroupMember(asMember("u3"), RemoveGroupMember{GroupID: g.ID, UserID: "u2"}), group.ErrNotOwner)
	require.NoError(t, handler.RemoveGroupMember(asMember("owner"), RemoveGroupMember{GroupID: g.ID, UserID: "u2"}))
	assert.ErrorIs(t, handler.LeaveGroup(asMember("u2"), LeaveGroup{GroupID: g.ID}), group.ErrNotMember)
	require.NoError(t, handler.DeleteGroup(asAdmin(), DeleteGroup{GroupID: g.ID}))
}

// ============================================
// User Tests
// ============================================

func TestHandler_RegisterUser_EmailTaken(t *testing.T) {
	handler, eventStore, readStore := newTestHandler()
	readStore.SetData(readmodel.Users, "u1", &readmodel.UserReadModel{ID: "u1", Email: "ada@example.com"})

	_, err := handler.RegisterUser(context.Background(), RegisterUser{Email: "Ada@Example.com", Password: "password123", Name: "Ada"})

	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.Empty(t, eventStore.AppendCalls)
}

func TestHandler_RegisterUser_Success(t *testing.T) {
	handler, eventStore, _ := newTestHandler()

	u, err := handler.RegisterUser(context.Background(), RegisterUser{Email: "ada@example.com", Password: "password123", Name: "Ada"})

	require.NoError(t, err)
	assert.Equal(t, auth.RoleMember, u.Role)
	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, user.EventRegistered, eventStore.AppendCalls[0].EventType)
}

func TestHandler_ChangePassword_UsesCaller(t *testing.T) {
	handler, _, _ := newTestHandler()
	u, err := handler.RegisterUser(context.Background(), RegisterUser{Email: "ada@example.com", Password: "password123", Name: "Ada"})
	require.NoError(t, err)

	err = handler.ChangePassword(asMember(u.ID), ChangePassword{CurrentPassword: "password123", NewPassword: "another-pass"})

	require.NoError(t, err)
	require.NoError(t, handler.UpdateProfile(asMember(u.ID), UpdateProfile{Name: "Ada L.", Bio: "Counts things"}))
}

func TestHandler_DeactivateUser(t *testing.T) {
	handler, eventStore, _ := newTestHandler()
	u, err := handler.RegisterUser(context.Background(), RegisterUser{Email: "ada@example.com", Password: "password123", Name: "Ada"})
	require.NoError(t, err)

	assert.ErrorIs(t, handler.DeactivateUser(asMember("u2"), DeactivateUser{UserID: u.ID}), rpcerr.ErrForbidden)
	assert.ErrorIs(t, handler.DeactivateUser(asAdmin(), DeactivateUser{UserID: "admin-1"}), user.ErrSelfDeactivation)
	assert.ErrorIs(t, handler.DeactivateUser(asAdmin(), DeactivateUser{UserID: "ghost"}), user.ErrUserNotFound)

	require.NoError(t, handler.DeactivateUser(asAdmin(), DeactivateUser{UserID: u.ID, Reason: "spam"}))
	assert.ErrorIs(t, handler.DeactivateUser(asAdmin(), DeactivateUser{UserID: u.ID}), rpcerr.ErrConflict)
	require.NoError(t, handler.ActivateUser(asAdmin(), ActivateUser{UserID: u.ID}))
	assert.Len(t, eventStore.AppendCalls, 3)
}

func TestHandler_ChangeUserRole(t *testing.T) {
	handler, eventStore, _ := newTestHandler()
	u, err := handler.RegisterUser(context.Background(), RegisterUser{Email: "ada@example.com", Password: "password123", Name: "Ada"})
	require.NoError(t, err)

	assert.ErrorIs(t, handler.ChangeUserRole(asMember(u.ID), ChangeUserRole{UserID: u.ID, Role: "admin"}), rpcerr.ErrForbidden)
	assert.ErrorIs(t, handler.ChangeUserRole(asAdmin(), ChangeUserRole{UserID: u.ID, Role: "owner"}), rpcerr.ErrValidation)
	assert.ErrorIs(t, handler.ChangeUserRole(asAdmin(), ChangeUserRole{UserID: "admin-1", Role: "member"}), user.ErrSelfDemotion)

	require.NoError(t, handler.ChangeUserRole(asAdmin(), ChangeUserRole{UserID: u.ID, Role: "admin"}))
	require.Len(t, eventStore.AppendCalls, 2)
	assert.Equal(t, user.EventRoleChanged, eventStore.AppendCalls[1].EventType)
}
