package command

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/collab-platform/internal/auth"
	"github.com/example/collab-platform/internal/domain/aggregate"
	"github.com/example/collab-platform/internal/domain/article"
	"github.com/example/collab-platform/internal/domain/group"
	"github.com/example/collab-platform/internal/domain/tag"
	"github.com/example/collab-platform/internal/domain/user"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/readmodel"
	"github.com/example/collab-platform/internal/rpcerr"
)

var (
	ErrNotGroupMember   = rpcerr.Forbidden("only group members can post into this group")
	ErrUnknownTag       = rpcerr.Validation("tag_ids", "unknown tag")
	ErrEmailTaken = rpcerr.Conflict("email already registered")
)

type Handler struct {
	articleSvc *article.Service
	tagSvc     *tag.Service
	groupSvc   *group.Service
	userSvc    *user.Service
	readStore  store.ReadStoreInterface
	validate   *validator.Validate
}

func NewHandler(
	articleSvc *article.Service,
	tagSvc *tag.Service,
	groupSvc *group.Service,
	userSvc *user.Service,
	readStore store.ReadStoreInterface,
) *Handler {
	return &Handler{
		articleSvc: articleSvc,
		tagSvc:     tagSvc,
		groupSvc:   groupSvc,
		userSvc:    userSvc,
		readStore:  readStore,
		validate:   newValidator(),
	}
}

// newValidator reports json field names so errors match request bodies
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) check(cmd any) error {
	err := h.validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return rpcerr.FromValidation(verrs)
	}
	return err
}

// actor resolves the caller and validates cmd. Authorization is checked first
// so anonymous callers never learn about validation rules.
func (h *Handler) actor(ctx context.Context, cmd any) (aggregate.Actor, error) {
	claims, err := auth.RequireUser(ctx)
	if err != nil {
		return aggregate.Actor{}, err
	}
	if err := h.check(cmd); err != nil {
		return aggregate.Actor{}, err
	}
	return aggregate.Actor{UserID: claims.UserID, Name: claims.Name, Admin: claims.IsAdmin()}, nil
}

func (h *Handler) admin(ctx context.Context, cmd any) error {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return err
	}
	return h.check(cmd)
}

// CreateArticle writes a draft. Posting into a group requires membership.
func (h *Handler) CreateArticle(ctx context.Context, cmd CreateArticle) (*article.Article, error) {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if cmd.GroupID != "" {
		member, err := h.groupSvc.IsMember(ctx, cmd.GroupID, actor.UserID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, ErrNotGroupMember
		}
	}
	if err := h.checkTags(ctx, cmd.TagIDs); err != nil {
		return nil, err
	}
	return h.articleSvc.Create(ctx, actor, cmd.Title, cmd.Body, cmd.GroupID, cmd.TagIDs)
}

func (h *Handler) UpdateArticle(ctx context.Context, cmd UpdateArticle) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	if err := h.checkTags(ctx, cmd.TagIDs); err != nil {
		return err
	}
	return h.articleSvc.Update(ctx, actor, cmd.ArticleID, cmd.Title, cmd.Body, cmd.TagIDs)
}

func (h *Handler) PublishArticle(ctx context.Context, cmd PublishArticle) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	return h.articleSvc.Publish(ctx, actor, cmd.ArticleID)
}

func (h *Handler) UnpublishArticle(ctx context.Context, cmd UnpublishArticle) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	return h.articleSvc.Unpublish(ctx, actor, cmd.ArticleID)
}

func (h *Handler) DeleteArticle(ctx context.Context, cmd DeleteArticle) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	return h.articleSvc.Delete(ctx, actor, cmd.ArticleID)
}

// checkTags verifies every tag exists in the read store
func (h *Handler) checkTags(ctx context.Context, tagIDs []string) error {
	for _, id := range tagIDs {
		_, ok, err := h.readStore.Get(ctx, readmodel.Tags, id)
		if err != nil {
			return rpcerr.Unavailable("tag lookup failed", err)
		}
		if !ok {
			return ErrUnknownTag
		}
	}
	return nil
}

// CreateTag creates a tag (admin only)
func (h *Handler) CreateTag(ctx context.Context, cmd CreateTag) (*tag.Tag, error) {
	if err := h.admin(ctx, cmd); err != nil {
		return nil, err
	}
	return h.tagSvc.Create(ctx, cmd.Name, cmd.Slug, cmd.Description)
}

func (h *Handler) RenameTag(ctx context.Context, cmd RenameTag) error {
	if err := h.admin(ctx, cmd); err != nil {
		return err
	}
	return h.tagSvc.Rename(ctx, cmd.TagID, cmd.Name, cmd.Slug, cmd.Description)
}

func (h *Handler) DeleteTag(ctx context.Context, cmd DeleteTag) error {
	if err := h.admin(ctx, cmd); err != nil {
		return err
	}
	return h.tagSvc.Delete(ctx, cmd.TagID)
}

func (h *Handler) CreateGroup(ctx context.Context, cmd CreateGroup) (*group.Group, error) {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return h.groupSvc.Create(ctx, actor, cmd.Name, cmd.Description)
}

func (h *Handler) JoinGroup(ctx context.Context, cmd JoinGroup) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	return h.groupSvc.Join(ctx, actor, cmd.GroupID)
}

func (h *Handler) LeaveGroup(ctx context.Context, cmd LeaveGroup) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	return h.groupSvc.Leave(ctx, actor, cmd.GroupID)
}

func (h *Handler) RemoveGroupMember(ctx context.Context, cmd RemoveGroupMember) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	return h.groupSvc.RemoveMember(ctx, actor, cmd.GroupID, cmd.UserID)
}

func (h *Handler) DeleteGroup(ctx context.Context, cmd DeleteGroup) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	return h.groupSvc.Delete(ctx, actor, cmd.GroupID)
}

// RegisterUser creates a member account. Anyone may register.
func (h *Handler) RegisterUser(ctx context.Context, cmd RegisterUser) (*user.User, error) {
	if err := h.check(cmd); err != nil {
		return nil, err
	}
	_, exists, err := store.FindUserByEmail(ctx, h.readStore, strings.ToLower(strings.TrimSpace(cmd.Email)))
	if err != nil {
		return nil, rpcerr.Unavailable("user lookup failed", err)
	}
	if exists {
		return nil, ErrEmailTaken
	}
	return h.userSvc.Register(ctx, cmd.Email, cmd.Password, cmd.Name)
}

func (h *Handler) UpdateProfile(ctx context.Context, cmd UpdateProfile) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	return h.userSvc.UpdateProfile(ctx, actor.UserID, cmd.Name, cmd.Bio)
}

func (h *Handler) ChangePassword(ctx context.Context, cmd ChangePassword) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	return h.userSvc.ChangePassword(ctx, actor.UserID, cmd.CurrentPassword, cmd.NewPassword)
}

// ChangeUserRole promotes or demotes another user (admin only)
func (h *Handler) ChangeUserRole(ctx context.Context, cmd ChangeUserRole) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	return h.userSvc.ChangeRole(ctx, actor, cmd.UserID, cmd.Role)
}

// DeactivateUser locks an account out (admin only)
func (h *Handler) DeactivateUser(ctx context.Context, cmd DeactivateUser) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	return h.userSvc.Deactivate(ctx, actor, cmd.UserID, cmd.Reason)
}

func (h *Handler) ActivateUser(ctx context.Context, cmd ActivateUser) error {
	actor, err := h.actor(ctx, cmd)
	if err != nil {
		return err
	}
	return h.userSvc.Reactivate(ctx, actor, cmd.UserID)
}

// TagSlugTaken backs tag slug uniqueness with the read store
func TagSlugTaken(rs store.ReadStoreInterface) tag.SlugTaken {
	return func(ctx context.Context, slug, exceptID string) (bool, error) {
		docs, err := rs.Find(ctx, readmodel.Tags, listquery.Spec{
			Filter: listquery.Filter{"slug": slug},
			Limit:  2,
		})
		if err != nil {
			return false, rpcerr.Unavailable("tag lookup failed", err)
		}
		for _, d := range docs {
			if d.ID() != exceptID {
				return true, nil
			}
		}
		return false, nil
	}
}
