package tag

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/collab-platform/internal/domain/aggregate"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/rpcerr"
)

const AggregateType = "Tag"

var (
	ErrTagNotFound  = rpcerr.NotFound("tag not found")
	ErrInvalidName  = rpcerr.Validation("name", "name is required")
	ErrInvalidSlug  = rpcerr.Validation("slug", "slug may contain lowercase letters, digits and single hyphens")
	ErrSlugConflict = rpcerr.Conflict("a tag with this slug already exists")
)

var (
	slugRegex     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	slugStrip     = regexp.MustCompile(`[^a-z0-9-]`)
	slugDashes    = regexp.MustCompile(`-+`)
	slugSeparator = strings.NewReplacer(" ", "-", "_", "-")
)

type Tag struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	Deleted     bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
}

func (t *Tag) GetID() string   { return t.ID }
func (t *Tag) GetVersion() int { return t.Version }

func (t *Tag) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventTagCreated:
		var data TagCreated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		t.ID = data.TagID
		t.Name = data.Name
		t.Slug = data.Slug
		t.Description = data.Description
		t.CreatedAt = data.CreatedAt
		t.UpdatedAt = data.CreatedAt
	case EventTagRenamed:
		var data TagRenamed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		t.Name = data.Name
		t.Slug = data.Slug
		t.Description = data.Description
		t.UpdatedAt = data.UpdatedAt
	case EventTagDeleted:
		t.Deleted = true
	}
	t.Version = event.Version
	return nil
}

// SlugTaken reports whether another tag already uses slug. The command
// handler backs it with the read store.
type SlugTaken func(ctx context.Context, slug, exceptID string) (bool, error)

type Service struct {
	eventStore store.EventStoreInterface
	slugTaken  SlugTaken
}

// NewService creates a tag service. slugTaken may be nil.
func NewService(es store.EventStoreInterface, slugTaken SlugTaken) *Service {
	return &Service{eventStore: es, slugTaken: slugTaken}
}

func (s *Service) normalize(ctx context.Context, name, slug, exceptID string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrInvalidName
	}
	if slug == "" {
		slug = GenerateSlug(name)
	}
	if !slugRegex.MatchString(slug) {
		return "", ErrInvalidSlug
	}
	if s.slugTaken != nil {
		taken, err := s.slugTaken(ctx, slug, exceptID)
		if err != nil {
			return "", err
		}
		if taken {
			return "", ErrSlugConflict
		}
	}
	return slug, nil
}

func (s *Service) Get(ctx context.Context, tagID string) (*Tag, error) {
	t, found, err := aggregate.LoadAggregate(ctx, s.eventStore, tagID, func() *Tag { return &Tag{} })
	if err != nil {
		return nil, err
	}
	if !found || t.Deleted {
		return nil, ErrTagNotFound
	}
	return t, nil
}

// Create creates a new tag. An empty slug is derived from the name.
func (s *Service) Create(ctx context.Context, name, slug, description string) (*Tag, error) {
	slug, err := s.normalize(ctx, name, slug, "")
	if err != nil {
		return nil, err
	}

	tagID := uuid.New().String()
	now := time.Now()
	event := TagCreated{
		TagID:       tagID,
		Name:        name,
		Slug:        slug,
		Description: description,
		CreatedAt:   now,
	}
	if _, err := s.eventStore.Append(ctx, tagID, AggregateType, EventTagCreated, event); err != nil {
		return nil, err
	}

	return &Tag{
		ID:          tagID,
		Name:        name,
		Slug:        slug,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Service) Rename(ctx context.Context, tagID, name, slug, description string) error {
	if _, err := s.Get(ctx, tagID); err != nil {
		return err
	}
	slug, err := s.normalize(ctx, name, slug, tagID)
	if err != nil {
		return err
	}

	event := TagRenamed{
		TagID:       tagID,
		Name:        name,
		Slug:        slug,
		Description: description,
		UpdatedAt:   time.Now(),
	}
	_, err = s.eventStore.Append(ctx, tagID, AggregateType, EventTagRenamed, event)
	return err
}

func (s *Service) Delete(ctx context.Context, tagID string) error {
	if _, err := s.Get(ctx, tagID); err != nil {
		return err
	}
	event := TagDeleted{TagID: tagID, DeletedAt: time.Now()}
	_, err := s.eventStore.Append(ctx, tagID, AggregateType, EventTagDeleted, event)
	return err
}

// GenerateSlug creates a URL-friendly slug from a name
func GenerateSlug(name string) string {
	slug := slugSeparator.Replace(strings.ToLower(name))
	slug = slugStrip.ReplaceAllString(slug, "")
	slug = slugDashes.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
