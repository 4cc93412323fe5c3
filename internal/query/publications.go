package query

import (
	"context"

	"github.com/example/collab-platform/internal/auth"
	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/livefeed"
	"github.com/example/collab-platform/internal/readmodel"
	"github.com/example/collab-platform/internal/rpcerr"
)

// Feed names
const (
	FeedArticles     = "articles"
	FeedTags         = "tags"
	FeedGroups       = "groups"
	FeedGroupMembers = "group_members"
	FeedUsers        = "users"
)

var errGroupRequired = rpcerr.Validation("group_id", "group_id is required")

// Publications returns every live feed definition. The same definitions back
// the paged REST listings.
func (h *Handler) Publications() []livefeed.Publication {
	return []livefeed.Publication{
		{
			Name:         FeedArticles,
			Collection:   readmodel.Articles,
			SearchFields: []string{"title", "body", "author_name"},
			Scope:        scopeArticles,
		},
		{
			Name:         FeedTags,
			Collection:   readmodel.Tags,
			SearchFields: []string{"name", "slug", "description"},
		},
		{
			Name:         FeedGroups,
			Collection:   readmodel.Groups,
			SearchFields: []string{"name", "description"},
		},
		{
			Name:         FeedGroupMembers,
			Collection:   readmodel.Users,
			SearchFields: []string{"name"},
			OmitFields:   []string{"password_hash", "email", "group_ids", "deactivation_reason"},
			Scope:        h.scopeGroupMembers,
		},
		{
			Name:         FeedUsers,
			Collection:   readmodel.Users,
			SearchFields: []string{"name", "email"},
			OmitFields:   []string{"password_hash"},
			Scope:        scopeAdmin,
		},
	}
}

// scopeArticles lets admins see everything and authors see their own drafts
// when they filter by themselves. Everyone else sees published articles only.
func scopeArticles(ctx context.Context, filter listquery.Filter) (listquery.Filter, error) {
	claims, ok := auth.ClaimsFromContext(ctx)
	if ok && claims.IsAdmin() {
		return filter, nil
	}
	if ok {
		if author, _ := filter["author_id"].(string); author == claims.UserID {
			return filter, nil
		}
	}
	filter["published"] = true
	return filter, nil
}

// scopeGroupMembers turns {"group_id": id} into a membership filter. Only
// members of the group and admins may list it.
func (h *Handler) scopeGroupMembers(ctx context.Context, filter listquery.Filter) (listquery.Filter, error) {
	claims, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	groupID, _ := filter["group_id"].(string)
	if groupID == "" {
		return nil, errGroupRequired
	}
	g, err := h.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !claims.IsAdmin() && !g.HasMember(claims.UserID) {
		return nil, rpcerr.Forbidden("only members can list group members")
	}
	delete(filter, "group_id")
	filter["group_ids"] = groupID
	return filter, nil
}

func scopeAdmin(ctx context.Context, filter listquery.Filter) (listquery.Filter, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	return filter, nil
}
