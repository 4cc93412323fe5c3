package group

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/collab-platform/internal/domain/aggregate"
	"github.com/example/collab-platform/internal/domain/tag"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/rpcerr"
)

const AggregateType = "Group"

var (
	ErrGroupNotFound     = rpcerr.NotFound("group not found")
	ErrInvalidName       = rpcerr.Validation("name", "name is required")
	ErrAlreadyMember     = rpcerr.Conflict("already a member of this group")
	ErrNotMember         = rpcerr.NotFound("not a member of this group")
	ErrOwnerCannotLeave  = rpcerr.Conflict("the owner cannot leave the group")
	ErrNotOwner          = rpcerr.Forbidden("only the group owner or an admin can do this")
	ErrAnonymousGrouping = rpcerr.NotAuthorized("login required")
)

type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	MemberIDs   []string  `json:"member_ids"`
	Deleted     bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
}

func (g *Group) GetID() string   { return g.ID }
func (g *Group) GetVersion() int { return g.Version }

// IsMember reports whether userID belongs to the group
func (g *Group) IsMember(userID string) bool {
	return slices.Contains(g.MemberIDs, userID)
}

func (g *Group) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventGroupCreated:
		var data GroupCreated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		g.ID = data.GroupID
		g.Name = data.Name
		g.Slug = data.Slug
		g.Description = data.Description
		g.OwnerID = data.OwnerID
		g.MemberIDs = []string{data.OwnerID}
		g.CreatedAt = data.CreatedAt
		g.UpdatedAt = data.CreatedAt
	case EventMemberJoined:
		var data MemberJoined
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		if !g.IsMember(data.UserID) {
			g.MemberIDs = append(g.MemberIDs, data.UserID)
		}
		g.UpdatedAt = data.JoinedAt
	case EventMemberLeft:
		var data MemberLeft
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		g.removeMember(data.UserID)
		g.UpdatedAt = data.LeftAt
	case EventMemberRemoved:
		var data MemberRemoved
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		g.removeMember(data.UserID)
		g.UpdatedAt = data.RemovedAt
	case EventGroupDeleted:
		g.Deleted = true
	}
	g.Version = event.Version
	return nil
}

func (g *Group) removeMember(userID string) {
	g.MemberIDs = slices.DeleteFunc(g.MemberIDs, func(id string) bool { return id == userID })
}

type Service struct {
	eventStore store.EventStoreInterface
}

func NewService(es store.EventStoreInterface) *Service {
	return &Service{eventStore: es}
}

func (s *Service) Get(ctx context.Context, groupID string) (*Group, error) {
	g, found, err := aggregate.LoadAggregate(ctx, s.eventStore, groupID, func() *Group { return &Group{} })
	if err != nil {
		return nil, err
	}
	if !found || g.Deleted {
		return nil, ErrGroupNotFound
	}
	return g, nil
}

// Create creates a group owned by the actor
func (s *Service) Create(ctx context.Context, actor aggregate.Actor, name, description string) (*Group, error) {
	if actor.UserID == "" {
		return nil, ErrAnonymousGrouping
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	groupID := uuid.New().String()
	now := time.Now()
	event := GroupCreated{
		GroupID:     groupID,
		Name:        name,
		Slug:        tag.GenerateSlug(name),
		Description: description,
		OwnerID:     actor.UserID,
		CreatedAt:   now,
	}
	if _, err := s.eventStore.Append(ctx, groupID, AggregateType, EventGroupCreated, event); err != nil {
		return nil, err
	}

	return &Group{
		ID:          groupID,
		Name:        name,
		Slug:        event.Slug,
		Description: description,
		OwnerID:     actor.UserID,
		MemberIDs:   []string{actor.UserID},
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}, nil
}

// Join adds the actor to the group
func (s *Service) Join(ctx context.Context, actor aggregate.Actor, groupID string) error {
	if actor.UserID == "" {
		return ErrAnonymousGrouping
	}
	g, err := s.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if g.IsMember(actor.UserID) {
		return ErrAlreadyMember
	}
	event := MemberJoined{GroupID: groupID, UserID: actor.UserID, JoinedAt: time.Now()}
	_, err = s.eventStore.Append(ctx, groupID, AggregateType, EventMemberJoined, event)
	return err
}

// Leave removes the actor from the group. The owner has to delete the group instead.
func (s *Service) Leave(ctx context.Context, actor aggregate.Actor, groupID string) error {
	if actor.UserID == "" {
		return ErrAnonymousGrouping
	}
	g, err := s.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if g.OwnerID == actor.UserID {
		return ErrOwnerCannotLeave
	}
	if !g.IsMember(actor.UserID) {
		return ErrNotMember
	}
	event := MemberLeft{GroupID: groupID, UserID: actor.UserID, LeftAt: time.Now()}
	_, err = s.eventStore.Append(ctx, groupID, AggregateType, EventMemberLeft, event)
	return err
}

// RemoveMember removes userID from the group on behalf of the owner or an admin
func (s *Service) RemoveMember(ctx context.Context, actor aggregate.Actor, groupID, userID string) error {
	g, err := s.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if !actor.Owns(g.OwnerID) {
		return ErrNotOwner
	}
	if userID == g.OwnerID {
		return ErrOwnerCannotLeave
	}
	if !g.IsMember(userID) {
		return ErrNotMember
	}
	event := MemberRemoved{GroupID: groupID, UserID: userID, RemovedBy: actor.UserID, RemovedAt: time.Now()}
	_, err = s.eventStore.Append(ctx, groupID, AggregateType, EventMemberRemoved, event)
	return err
}

func (s *Service) Delete(ctx context.Context, actor aggregate.Actor, groupID string) error {
	g, err := s.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if !actor.Owns(g.OwnerID) {
		return ErrNotOwner
	}
	event := GroupDeleted{GroupID: groupID, DeletedAt: time.Now()}
	_, err = s.eventStore.Append(ctx, groupID, AggregateType, EventGroupDeleted, event)
	return err
}

// IsMember loads the group and reports whether userID belongs to it
func (s *Service) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	g, err := s.Get(ctx, groupID)
	if err != nil {
		return false, err
	}
	return g.IsMember(userID), nil
}
