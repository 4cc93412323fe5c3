package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/domain/article"
	"github.com/example/collab-platform/internal/email"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/readmodel"
)

// Mailer sends notices. *email.Service implements it.
type Mailer interface {
	SendArticlePublished(to string, n email.ArticleNotice) error
	ArticleURL(articleID string) string
}

// Handler processes events for sending notifications
type Handler struct {
	mailer    Mailer
	readStore store.ReadStoreInterface
	log       *zap.SugaredLogger
}

// NewHandler creates a new notification handler
func NewHandler(mailer Mailer, readStore store.ReadStoreInterface, log *zap.SugaredLogger) *Handler {
	return &Handler{
		mailer:    mailer,
		readStore: readStore,
		log:       log,
	}
}

// EventTypes lists the events HandleEvent acts on.
func (h *Handler) EventTypes() []string {
	return []string{article.EventArticlePublished}
}

// HandleEvent processes an event from Kafka
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		h.log.Errorw("Failed to unmarshal event", "error", err)
		return err
	}

	if event.EventType == article.EventArticlePublished {
		return h.handleArticlePublished(ctx, event)
	}
	return nil
}

// handleArticlePublished emails every active member of the article's group
// except the author. Articles outside a group notify nobody.
func (h *Handler) handleArticlePublished(ctx context.Context, event store.Event) error {
	var e article.ArticlePublished
	if err := json.Unmarshal(event.Data, &e); err != nil {
		h.log.Errorw("Failed to unmarshal ArticlePublished event", "error", err)
		return err
	}
	if e.GroupID == "" {
		return nil
	}
	log := h.log.With("article", e.ArticleID, "group", e.GroupID)

	groupData, exists, err := h.readStore.Get(ctx, readmodel.Groups, e.GroupID)
	if err != nil {
		return fmt.Errorf("load group %s: %w", e.GroupID, err)
	}
	if !exists {
		log.Warnw("Group not found")
		return nil
	}
	g, ok := groupData.(*readmodel.GroupReadModel)
	if !ok {
		log.Warnw("Invalid group data type")
		return nil
	}

	notice := email.ArticleNotice{
		GroupName:    g.Name,
		ArticleTitle: e.Title,
		AuthorName:   e.AuthorName,
		ArticleURL:   h.mailer.ArticleURL(e.ArticleID),
	}

	var errs []error
	sent := 0
	for _, memberID := range g.MemberIDs {
		if memberID == e.AuthorID {
			continue
		}
		userData, exists, err := h.readStore.Get(ctx, readmodel.Users, memberID)
		if err != nil || !exists {
			log.Warnw("Member not found", "user", memberID, "error", err)
			continue
		}
		u, ok := userData.(*readmodel.UserReadModel)
		if !ok || !u.IsActive || u.Email == "" {
			continue
		}
		if err := h.mailer.SendArticlePublished(u.Email, notice); err != nil {
			log.Errorw("Failed to send email", "user", memberID, "error", err)
			errs = append(errs, err)
			continue
		}
		sent++
	}

	log.Infow("Article notifications sent", "sent", sent, "failed", len(errs))
	return errors.Join(errs...)
}
