package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/domain/article"
	"github.com/example/collab-platform/internal/domain/group"
	"github.com/example/collab-platform/internal/domain/tag"
	"github.com/example/collab-platform/internal/domain/user"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/readmodel"
)

// Notifier is told which read model collection changed. livefeed.Server
// implements it.
type Notifier interface {
	Notify(collection string)
}

type Projector struct {
	readStore store.ReadStoreInterface
	notifier  Notifier
	log       *zap.SugaredLogger
}

// NewProjector creates a projector. notifier may be nil.
func NewProjector(readStore store.ReadStoreInterface, notifier Notifier, log *zap.SugaredLogger) *Projector {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Projector{readStore: readStore, notifier: notifier, log: log}
}

// HandleEvent is the Kafka message handler
func (p *Projector) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}
	return p.Apply(ctx, event)
}

// Publish applies events synchronously, so the projector can stand in for
// the Kafka producer when EVENT_BUS=inline.
func (p *Projector) Publish(ctx context.Context, _ string, event any) error {
	switch e := event.(type) {
	case store.Event:
		return p.Apply(ctx, e)
	case *store.Event:
		return p.Apply(ctx, *e)
	}
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.HandleEvent(ctx, nil, value)
}

// Apply projects one event into the read store
func (p *Projector) Apply(ctx context.Context, event store.Event) error {
	p.log.Debugw("Projecting event", "type", event.EventType, "aggregate", event.AggregateType, "id", event.AggregateID)

	var err error
	switch event.AggregateType {
	case article.AggregateType:
		err = p.handleArticleEvent(ctx, event)
	case tag.AggregateType:
		err = p.handleTagEvent(ctx, event)
	case group.AggregateType:
		err = p.handleGroupEvent(ctx, event)
	case user.AggregateType:
		err = p.handleUserEvent(ctx, event)
	}

	result := "ok"
	if err != nil {
		result = "error"
		err = fmt.Errorf("project %s %s: %w", event.EventType, event.AggregateID, err)
	}
	projectedEvents.WithLabelValues(event.AggregateType, result).Inc()
	return err
}

// Replay rebuilds read models from every stored event
func (p *Projector) Replay(ctx context.Context, es store.EventStoreInterface) (int, error) {
	events, err := es.GetAllEvents(ctx)
	if err != nil {
		return 0, err
	}
	for i, event := range events {
		if err := p.Apply(ctx, event); err != nil {
			return i, err
		}
	}
	p.log.Infow("Replayed events", "count", len(events))
	return len(events), nil
}

func (p *Projector) notify(collections ...string) {
	if p.notifier == nil {
		return
	}
	for _, c := range collections {
		p.notifier.Notify(c)
	}
}

func decode[T any](event store.Event) (T, error) {
	var data T
	err := json.Unmarshal(event.Data, &data)
	return data, err
}

// update applies fn to a stored read model and logs when it is missing
func update[T any](ctx context.Context, p *Projector, collection, id string, fn func(*T)) error {
	ok, err := p.readStore.Update(ctx, collection, id, func(current any) any {
		m := current.(*T)
		fn(m)
		return m
	})
	if err != nil {
		return err
	}
	if !ok {
		p.log.Warnw("Read model missing for update", "collection", collection, "id", id)
	}
	return nil
}

func (p *Projector) handleArticleEvent(ctx context.Context, event store.Event) error {
	switch event.EventType {
	case article.EventArticleCreated:
		e, err := decode[article.ArticleCreated](event)
		if err != nil {
			return err
		}
		err = p.readStore.Set(ctx, readmodel.Articles, e.ArticleID, &readmodel.ArticleReadModel{
			ID:         e.ArticleID,
			Title:      e.Title,
			Body:       e.Body,
			AuthorID:   e.AuthorID,
			AuthorName: e.AuthorName,
			GroupID:    e.GroupID,
			TagIDs:     e.TagIDs,
			CreatedAt:  e.CreatedAt,
			UpdatedAt:  e.CreatedAt,
		})
		if err != nil {
			return err
		}
		p.notify(readmodel.Articles)
		return p.adjustTagCounts(ctx, e.TagIDs, nil)

	case article.EventArticleUpdated:
		e, err := decode[article.ArticleUpdated](event)
		if err != nil {
			return err
		}
		var previous []string
		err = update(ctx, p, readmodel.Articles, e.ArticleID, func(a *readmodel.ArticleReadModel) {
			previous = a.TagIDs
			a.Title = e.Title
			a.Body = e.Body
			a.TagIDs = e.TagIDs
			a.UpdatedAt = e.UpdatedAt
		})
		if err != nil {
			return err
		}
		p.notify(readmodel.Articles)
		added, removed := diffIDs(previous, e.TagIDs)
		return p.adjustTagCounts(ctx, added, removed)

	case article.EventArticlePublished:
		e, err := decode[article.ArticlePublished](event)
		if err != nil {
			return err
		}
		err = update(ctx, p, readmodel.Articles, e.ArticleID, func(a *readmodel.ArticleReadModel) {
			a.Published = true
			a.PublishedAt = e.PublishedAt
			a.UpdatedAt = e.PublishedAt
		})
		if err != nil {
			return err
		}
		p.notify(readmodel.Articles)

	case article.EventArticleUnpublished:
		e, err := decode[article.ArticleUnpublished](event)
		if err != nil {
			return err
		}
		err = update(ctx, p, readmodel.Articles, e.ArticleID, func(a *readmodel.ArticleReadModel) {
			a.Published = false
			a.UpdatedAt = e.UnpublishedAt
		})
		if err != nil {
			return err
		}
		p.notify(readmodel.Articles)

	case article.EventArticleDeleted:
		e, err := decode[article.ArticleDeleted](event)
		if err != nil {
			return err
		}
		if err := p.readStore.Delete(ctx, readmodel.Articles, e.ArticleID); err != nil {
			return err
		}
		p.notify(readmodel.Articles)
		return p.adjustTagCounts(ctx, nil, e.TagIDs)
	}
	return nil
}

// adjustTagCounts keeps article_count in step with article tag changes
func (p *Projector) adjustTagCounts(ctx context.Context, added, removed []string) error {
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	bump := func(id string, delta int) error {
		return update(ctx, p, readmodel.Tags, id, func(t *readmodel.TagReadModel) {
			t.ArticleCount = max(0, t.ArticleCount+delta)
		})
	}
	for _, id := range added {
		if err := bump(id, 1); err != nil {
			return err
		}
	}
	for _, id := range removed {
		if err := bump(id, -1); err != nil {
			return err
		}
	}
	p.notify(readmodel.Tags)
	return nil
}

func diffIDs(before, after []string) (added, removed []string) {
	for _, id := range after {
		if !slices.Contains(before, id) {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if !slices.Contains(after, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func (p *Projector) handleTagEvent(ctx context.Context, event store.Event) error {
	switch event.EventType {
	case tag.EventTagCreated:
		e, err := decode[tag.TagCreated](event)
		if err != nil {
			return err
		}
		err = p.readStore.Set(ctx, readmodel.Tags, e.TagID, &readmodel.TagReadModel{
			ID:          e.TagID,
			Name:        e.Name,
			Slug:        e.Slug,
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
			UpdatedAt:   e.CreatedAt,
		})
		if err != nil {
			return err
		}

	case tag.EventTagRenamed:
		e, err := decode[tag.TagRenamed](event)
		if err != nil {
			return err
		}
		err = update(ctx, p, readmodel.Tags, e.TagID, func(t *readmodel.TagReadModel) {
			t.Name = e.Name
			t.Slug = e.Slug
			t.Description = e.Description
			t.UpdatedAt = e.UpdatedAt
		})
		if err != nil {
			return err
		}

	case tag.EventTagDeleted:
		e, err := decode[tag.TagDeleted](event)
		if err != nil {
			return err
		}
		if err := p.readStore.Delete(ctx, readmodel.Tags, e.TagID); err != nil {
			return err
		}

	default:
		return nil
	}
	p.notify(readmodel.Tags)
	return nil
}

func (p *Projector) handleGroupEvent(ctx context.Context, event store.Event) error {
	switch event.EventType {
	case group.EventGroupCreated:
		e, err := decode[group.GroupCreated](event)
		if err != nil {
			return err
		}
		err = p.readStore.Set(ctx, readmodel.Groups, e.GroupID, &readmodel.GroupReadModel{
			ID:          e.GroupID,
			Name:        e.Name,
			Slug:        e.Slug,
			Description: e.Description,
			OwnerID:     e.OwnerID,
			MemberIDs:   []string{e.OwnerID},
			CreatedAt:   e.CreatedAt,
			UpdatedAt:   e.CreatedAt,
		})
		if err != nil {
			return err
		}
		return p.membershipChanged(ctx, e.GroupID, e.OwnerID, true)

	case group.EventMemberJoined:
		e, err := decode[group.MemberJoined](event)
		if err != nil {
			return err
		}
		err = update(ctx, p, readmodel.Groups, e.GroupID, func(g *readmodel.GroupReadModel) {
			if !g.HasMember(e.UserID) {
				g.MemberIDs = append(g.MemberIDs, e.UserID)
			}
			g.UpdatedAt = e.JoinedAt
		})
		if err != nil {
			return err
		}
		return p.membershipChanged(ctx, e.GroupID, e.UserID, true)

	case group.EventMemberLeft:
		e, err := decode[group.MemberLeft](event)
		if err != nil {
			return err
		}
		return p.dropMember(ctx, e.GroupID, e.UserID, e.LeftAt)

	case group.EventMemberRemoved:
		e, err := decode[group.MemberRemoved](event)
		if err != nil {
			return err
		}
		return p.dropMember(ctx, e.GroupID, e.UserID, e.RemovedAt)

	case group.EventGroupDeleted:
		e, err := decode[group.GroupDeleted](event)
		if err != nil {
			return err
		}
		data, ok, err := p.readStore.Get(ctx, readmodel.Groups, e.GroupID)
		if err != nil {
			return err
		}
		if err := p.readStore.Delete(ctx, readmodel.Groups, e.GroupID); err != nil {
			return err
		}
		p.notify(readmodel.Groups)
		if !ok {
			return nil
		}
		for _, userID := range data.(*readmodel.GroupReadModel).MemberIDs {
			if err := p.membershipChanged(ctx, e.GroupID, userID, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Projector) dropMember(ctx context.Context, groupID, userID string, at time.Time) error {
	err := update(ctx, p, readmodel.Groups, groupID, func(g *readmodel.GroupReadModel) {
		g.MemberIDs = slices.DeleteFunc(g.MemberIDs, func(id string) bool { return id == userID })
		g.UpdatedAt = at
	})
	if err != nil {
		return err
	}
	return p.membershipChanged(ctx, groupID, userID, false)
}

// membershipChanged mirrors group membership onto the user read model, which
// backs the group_members feed
func (p *Projector) membershipChanged(ctx context.Context, groupID, userID string, joined bool) error {
	err := update(ctx, p, readmodel.Users, userID, func(u *readmodel.UserReadModel) {
		u.GroupIDs = slices.DeleteFunc(u.GroupIDs, func(id string) bool { return id == groupID })
		if joined {
			u.GroupIDs = append(u.GroupIDs, groupID)
		}
	})
	if err != nil {
		return err
	}
	p.notify(readmodel.Groups, readmodel.Users)
	return nil
}

func (p *Projector) handleUserEvent(ctx context.Context, event store.Event) error {
	var err error
	switch event.EventType {
	case user.EventRegistered:
		e, derr := decode[user.Registered](event)
		if derr != nil {
			return derr
		}
		err = p.readStore.Set(ctx, readmodel.Users, e.UserID, &readmodel.UserReadModel{
			ID:           e.UserID,
			Email:        e.Email,
			PasswordHash: e.PasswordHash,
			Name:         e.Name,
			Role:         e.Role,
			IsActive:     true,
			GroupIDs:     []string{},
			CreatedAt:    e.RegisteredAt,
			UpdatedAt:    e.RegisteredAt,
		})

	case user.EventProfileUpdated:
		e, derr := decode[user.ProfileUpdated](event)
		if derr != nil {
			return derr
		}
		err = update(ctx, p, readmodel.Users, e.UserID, func(u *readmodel.UserReadModel) {
			u.Name = e.Name
			u.Bio = e.Bio
			u.UpdatedAt = e.UpdatedAt
		})

	case user.EventPasswordChanged:
		e, derr := decode[user.PasswordChanged](event)
		if derr != nil {
			return derr
		}
		err = update(ctx, p, readmodel.Users, e.UserID, func(u *readmodel.UserReadModel) {
			u.PasswordHash = e.PasswordHash
			u.UpdatedAt = e.ChangedAt
		})

	case user.EventRoleChanged:
		e, derr := decode[user.RoleChanged](event)
		if derr != nil {
			return derr
		}
		err = update(ctx, p, readmodel.Users, e.UserID, func(u *readmodel.UserReadModel) {
			u.Role = e.Role
			u.UpdatedAt = e.ChangedAt
		})

	case user.EventDeactivated:
		e, derr := decode[user.Deactivated](event)
		if derr != nil {
			return derr
		}
		err = update(ctx, p, readmodel.Users, e.UserID, func(u *readmodel.UserReadModel) {
			u.IsActive = false
			u.DeactivationReason = e.Reason
			u.UpdatedAt = e.DeactivatedAt
		})

	case user.EventReactivated:
		e, derr := decode[user.Reactivated](event)
		if derr != nil {
			return derr
		}
		err = update(ctx, p, readmodel.Users, e.UserID, func(u *readmodel.UserReadModel) {
			u.IsActive = true
			u.DeactivationReason = ""
			u.UpdatedAt = e.ReactivatedAt
		})

	default:
		// sign-in and sign-out are audit only
		return nil
	}
	if err != nil {
		return err
	}
	p.notify(readmodel.Users)
	return nil
}
