package query

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/auth"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/livefeed"
	"github.com/example/collab-platform/internal/readmodel"
	"github.com/example/collab-platform/internal/rpcerr"
)

var (
	ErrArticleNotFound = rpcerr.NotFound("article not found")
	ErrTagNotFound     = rpcerr.NotFound("tag not found")
	ErrGroupNotFound   = rpcerr.NotFound("group not found")
	ErrUserNotFound    = rpcerr.NotFound("user not found")
)

type Handler struct {
	readStore store.ReadStoreInterface
	log       *zap.SugaredLogger
	pubs      map[string]livefeed.Publication
}

func NewHandler(readStore store.ReadStoreInterface, log *zap.SugaredLogger) *Handler {
	h := &Handler{readStore: readStore, log: log}
	h.pubs = make(map[string]livefeed.Publication)
	for _, pub := range h.Publications() {
		h.pubs[pub.Name] = pub
	}
	return h
}

func (h *Handler) get(ctx context.Context, collection, id string, notFound error) (any, error) {
	data, ok, err := h.readStore.Get(ctx, collection, id)
	if err != nil {
		h.log.Errorw("Read store get failed", "collection", collection, "id", id, "error", err)
		return nil, rpcerr.Unavailable("read store unavailable", err)
	}
	if !ok {
		return nil, notFound
	}
	return data, nil
}

// GetArticle returns a published article, or a draft to its author or an admin
func (h *Handler) GetArticle(ctx context.Context, id string) (*ArticleReadModel, error) {
	data, err := h.get(ctx, readmodel.Articles, id, ErrArticleNotFound)
	if err != nil {
		return nil, err
	}
	a := data.(*ArticleReadModel)
	if !a.Published {
		claims, ok := auth.ClaimsFromContext(ctx)
		if !ok || (!claims.IsAdmin() && claims.UserID != a.AuthorID) {
			return nil, ErrArticleNotFound
		}
	}
	return a, nil
}

func (h *Handler) GetTag(ctx context.Context, id string) (*TagReadModel, error) {
	data, err := h.get(ctx, readmodel.Tags, id, ErrTagNotFound)
	if err != nil {
		return nil, err
	}
	return data.(*TagReadModel), nil
}

func (h *Handler) GetGroup(ctx context.Context, id string) (*GroupReadModel, error) {
	data, err := h.get(ctx, readmodel.Groups, id, ErrGroupNotFound)
	if err != nil {
		return nil, err
	}
	return data.(*GroupReadModel), nil
}

// GetUser returns a user without the password hash. Callers see themselves;
// admins see anyone.
func (h *Handler) GetUser(ctx context.Context, id string) (*UserReadModel, error) {
	claims, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	if claims.UserID != id && !claims.IsAdmin() {
		return nil, ErrUserNotFound
	}
	data, err := h.get(ctx, readmodel.Users, id, ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	u := *data.(*UserReadModel)
	u.PasswordHash = ""
	return &u, nil
}

// Page is one window of a listing
type Page struct {
	Items        []listquery.Document `json:"items"`
	Total        int                  `json:"total"`
	Page         int                  `json:"page"`
	ItemsPerPage int                  `json:"items_per_page"`
}

// List runs a feed's query once, without subscribing
func (h *Handler) List(ctx context.Context, feed string, q listquery.ListQuery) (*Page, error) {
	pub, ok := h.pubs[feed]
	if !ok {
		return nil, rpcerr.NotFound("unknown feed " + feed)
	}
	q = q.Normalize()
	filter, err := pub.Effective(ctx, q.Filter)
	if err != nil {
		return nil, err
	}
	q.Filter = filter
	spec := q.Spec(pub.SearchFields)

	docs, err := h.readStore.Find(ctx, pub.Collection, spec)
	if err != nil {
		h.log.Errorw("List failed", "feed", feed, "error", err)
		return nil, rpcerr.Unavailable("list "+feed+" failed", err)
	}
	total, err := h.readStore.Count(ctx, pub.Collection, spec)
	if err != nil {
		h.log.Errorw("Count failed", "feed", feed, "error", err)
		return nil, rpcerr.Unavailable("count "+feed+" failed", err)
	}

	items := make([]listquery.Document, len(docs))
	for i, doc := range docs {
		items[i] = doc.Omit(pub.OmitFields...)
	}
	return &Page{Items: items, Total: total, Page: q.Page, ItemsPerPage: q.ItemsPerPage}, nil
}
