package article

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/example/collab-platform/internal/domain/aggregate"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/rpcerr"
)

const AggregateType = "Article"

var (
	ErrArticleNotFound    = rpcerr.NotFound("article not found")
	ErrNotAuthor          = rpcerr.Forbidden("only the author or an admin can change this article")
	ErrAlreadyPublished   = rpcerr.Conflict("article is already published")
	ErrNotPublished       = rpcerr.Conflict("article is not published")
	ErrInvalidTitle       = rpcerr.Validation("title", "title is required")
	ErrDuplicateTag       = rpcerr.Validation("tag_ids", "tags must be unique")
	ErrAnonymousAuthoring = rpcerr.NotAuthorized("login required to write articles")
)

type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	GroupID     string    `json:"group_id,omitempty"`
	TagIDs      []string  `json:"tag_ids"`
	Published   bool      `json:"published"`
	PublishedAt time.Time `json:"published_at"`
	Deleted     bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
}

func (a *Article) GetID() string   { return a.ID }
func (a *Article) GetVersion() int { return a.Version }

// ApplyEvent applies a single event to the article state
func (a *Article) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventArticleCreated:
		var data ArticleCreated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		a.ID = data.ArticleID
		a.Title = data.Title
		a.Body = data.Body
		a.AuthorID = data.AuthorID
		a.AuthorName = data.AuthorName
		a.GroupID = data.GroupID
		a.TagIDs = data.TagIDs
		a.CreatedAt = data.CreatedAt
		a.UpdatedAt = data.CreatedAt
	case EventArticleUpdated:
		var data ArticleUpdated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		a.Title = data.Title
		a.Body = data.Body
		a.TagIDs = data.TagIDs
		a.UpdatedAt = data.UpdatedAt
	case EventArticlePublished:
		var data ArticlePublished
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		a.Published = true
		a.PublishedAt = data.PublishedAt
		a.UpdatedAt = data.PublishedAt
	case EventArticleUnpublished:
		var data ArticleUnpublished
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		a.Published = false
		a.UpdatedAt = data.UnpublishedAt
	case EventArticleDeleted:
		a.Deleted = true
	}
	a.Version = event.Version
	return nil
}

type Service struct {
	eventStore store.EventStoreInterface
}

func NewService(es store.EventStoreInterface) *Service {
	return &Service{eventStore: es}
}

// Get loads an article; deleted articles are not found.
func (s *Service) Get(ctx context.Context, articleID string) (*Article, error) {
	a, found, err := aggregate.LoadAggregate(ctx, s.eventStore, articleID, func() *Article {
		return &Article{}
	})
	if err != nil {
		return nil, err
	}
	if !found || a.Deleted {
		return nil, ErrArticleNotFound
	}
	return a, nil
}

// loadOwned loads an article the actor may change
func (s *Service) loadOwned(ctx context.Context, actor aggregate.Actor, articleID string) (*Article, error) {
	a, err := s.Get(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(a.AuthorID) {
		return nil, ErrNotAuthor
	}
	return a, nil
}

// Create writes an unpublished draft owned by actor
func (s *Service) Create(ctx context.Context, actor aggregate.Actor, title, body, groupID string, tagIDs []string) (*Article, error) {
	if actor.UserID == "" {
		return nil, ErrAnonymousAuthoring
	}
	if title == "" {
		return nil, ErrInvalidTitle
	}
	if hasDuplicates(tagIDs) {
		return nil, ErrDuplicateTag
	}
	if tagIDs == nil {
		tagIDs = []string{}
	}

	articleID := uuid.New().String()
	now := time.Now()
	event := ArticleCreated{
		ArticleID:  articleID,
		Title:      title,
		Body:       body,
		AuthorID:   actor.UserID,
		AuthorName: actor.Name,
		GroupID:    groupID,
		TagIDs:     tagIDs,
		CreatedAt:  now,
	}

	stored, err := s.eventStore.Append(ctx, articleID, AggregateType, EventArticleCreated, event)
	if err != nil {
		return nil, err
	}
	version := 0
	if stored != nil {
		version = stored.Version
	}

	return &Article{
		ID:         articleID,
		Title:      title,
		Body:       body,
		AuthorID:   actor.UserID,
		AuthorName: actor.Name,
		GroupID:    groupID,
		TagIDs:     tagIDs,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    version,
	}, nil
}

// Update replaces title, body and tags
func (s *Service) Update(ctx context.Context, actor aggregate.Actor, articleID, title, body string, tagIDs []string) error {
	if title == "" {
		return ErrInvalidTitle
	}
	if hasDuplicates(tagIDs) {
		return ErrDuplicateTag
	}
	if _, err := s.loadOwned(ctx, actor, articleID); err != nil {
		return err
	}
	if tagIDs == nil {
		tagIDs = []string{}
	}

	event := ArticleUpdated{
		ArticleID: articleID,
		Title:     title,
		Body:      body,
		TagIDs:    tagIDs,
		UpdatedAt: time.Now(),
	}
	_, err := s.eventStore.Append(ctx, articleID, AggregateType, EventArticleUpdated, event)
	return err
}

func (s *Service) Publish(ctx context.Context, actor aggregate.Actor, articleID string) error {
	a, err := s.loadOwned(ctx, actor, articleID)
	if err != nil {
		return err
	}
	if a.Published {
		return ErrAlreadyPublished
	}

	event := ArticlePublished{
		ArticleID:   articleID,
		Title:       a.Title,
		AuthorID:    a.AuthorID,
		AuthorName:  a.AuthorName,
		GroupID:     a.GroupID,
		PublishedAt: time.Now(),
	}
	_, err = s.eventStore.Append(ctx, articleID, AggregateType, EventArticlePublished, event)
	return err
}

func (s *Service) Unpublish(ctx context.Context, actor aggregate.Actor, articleID string) error {
	a, err := s.loadOwned(ctx, actor, articleID)
	if err != nil {
		return err
	}
	if !a.Published {
		return ErrNotPublished
	}

	event := ArticleUnpublished{ArticleID: articleID, UnpublishedAt: time.Now()}
	_, err = s.eventStore.Append(ctx, articleID, AggregateType, EventArticleUnpublished, event)
	return err
}

func (s *Service) Delete(ctx context.Context, actor aggregate.Actor, articleID string) error {
	a, err := s.loadOwned(ctx, actor, articleID)
	if err != nil {
		return err
	}

	event := ArticleDeleted{ArticleID: articleID, TagIDs: a.TagIDs, DeletedAt: time.Now()}
	_, err = s.eventStore.Append(ctx, articleID, AggregateType, EventArticleDeleted, event)
	return err
}

func hasDuplicates(ids []string) bool {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}
