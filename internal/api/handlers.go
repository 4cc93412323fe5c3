package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/command"
	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/query"
	"github.com/example/collab-platform/internal/rpcerr"
)

const maxBodyBytes = 1 << 20

var errBadBody = rpcerr.Validation("body", "invalid request body")

type Handlers struct {
	cmd   *command.Handler
	query *query.Handler
	log   *zap.SugaredLogger
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, log *zap.SugaredLogger) *Handlers {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handlers{cmd: cmdHandler, query: queryHandler, log: log}
}

// Article Handlers

func (h *Handlers) ListArticles(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, query.FeedArticles)
}

func (h *Handlers) GetArticle(w http.ResponseWriter, r *http.Request) {
	article, err := h.query.GetArticle(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, article)
}

func (h *Handlers) CreateArticle(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateArticle
	if !h.decode(w, r, &cmd) {
		return
	}
	article, err := h.cmd.CreateArticle(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, article)
}

func (h *Handlers) UpdateArticle(w http.ResponseWriter, r *http.Request) {
	var cmd command.UpdateArticle
	if !h.decode(w, r, &cmd) {
		return
	}
	cmd.ArticleID = r.PathValue("id")
	if err := h.cmd.UpdateArticle(r.Context(), cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondMessage(w, "Article updated")
}

func (h *Handlers) PublishArticle(w http.ResponseWriter, r *http.Request) {
	err := h.cmd.PublishArticle(r.Context(), command.PublishArticle{ArticleID: r.PathValue("id")})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondMessage(w, "Article published")
}

func (h *Handlers) UnpublishArticle(w http.ResponseWriter, r *http.Request) {
	err := h.cmd.UnpublishArticle(r.Context(), command.UnpublishArticle{ArticleID: r.PathValue("id")})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondMessage(w, "Article unpublished")
}

func (h *Handlers) DeleteArticle(w http.ResponseWriter, r *http.Request) {
	if err := h.cmd.DeleteArticle(r.Context(), command.DeleteArticle{ArticleID: r.PathValue("id")}); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Tag Handlers

func (h *Handlers) ListTags(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, query.FeedTags)
}

func (h *Handlers) GetTag(w http.ResponseWriter, r *http.Request) {
	tag, err := h.query.GetTag(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tag)
}

func (h *Handlers) CreateTag(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateTag
	if !h.decode(w, r, &cmd) {
		return
	}
	tag, err := h.cmd.CreateTag(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tag)
}

func (h *Handlers) RenameTag(w http.ResponseWriter, r *http.Request) {
	var cmd command.RenameTag
	if !h.decode(w, r, &cmd) {
		return
	}
	cmd.TagID = r.PathValue("id")
	if err := h.cmd.RenameTag(r.Context(), cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondMessage(w, "Tag updated")
}

func (h *Handlers) DeleteTag(w http.ResponseWriter, r *http.Request) {
	if err := h.cmd.DeleteTag(r.Context(), command.DeleteTag{TagID: r.PathValue("id")}); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Group Handlers

func (h *Handlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, query.FeedGroups)
}

func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.query.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, group)
}

func (h *Handlers) ListGroupMembers(w http.ResponseWriter, r *http.Request) {
	q := parseListQuery(r)
	q.Filter["group_id"] = r.PathValue("id")
	page, err := h.query.List(r.Context(), query.FeedGroupMembers, q)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateGroup
	if !h.decode(w, r, &cmd) {
		return
	}
	group, err := h.cmd.CreateGroup(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, group)
}

func (h *Handlers) JoinGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.cmd.JoinGroup(r.Context(), command.JoinGroup{GroupID: r.PathValue("id")}); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondMessage(w, "Joined group")
}

func (h *Handlers) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.cmd.LeaveGroup(r.Context(), command.LeaveGroup{GroupID: r.PathValue("id")}); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondMessage(w, "Left group")
}

func (h *Handlers) RemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	cmd := command.RemoveGroupMember{GroupID: r.PathValue("id"), UserID: r.PathValue("userID")}
	if err := h.cmd.RemoveGroupMember(r.Context(), cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.cmd.DeleteGroup(r.Context(), command.DeleteGroup{GroupID: r.PathValue("id")}); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Admin Handlers

func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, query.FeedUsers)
}

func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.query.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

// DeactivateUser takes an optional {"reason": "..."} body.
func (h *Handlers) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	var cmd command.DeactivateUser
	if !h.decode(w, r, &cmd) {
		return
	}
	cmd.UserID = r.PathValue("id")
	if err := h.cmd.DeactivateUser(r.Context(), cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondMessage(w, "User deactivated")
}

func (h *Handlers) ActivateUser(w http.ResponseWriter, r *http.Request) {
	if err := h.cmd.ActivateUser(r.Context(), command.ActivateUser{UserID: r.PathValue("id")}); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondMessage(w, "User activated")
}

func (h *Handlers) ChangeUserRole(w http.ResponseWriter, r *http.Request) {
	var cmd command.ChangeUserRole
	if !h.decode(w, r, &cmd) {
		return
	}
	cmd.UserID = r.PathValue("id")
	if err := h.cmd.ChangeUserRole(r.Context(), cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondMessage(w, "Role changed")
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request, feed string) {
	page, err := h.query.List(r.Context(), feed, parseListQuery(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// Helper functions

// decode reads a JSON body, answering 400 itself when it cannot.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, h.log)
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, err, h.log)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, log *zap.SugaredLogger) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	log.Debugw("Rejected request body", "path", r.URL.Path, "error", err)
	respondError(w, r, errBadBody, log)
	return false
}

// parseListQuery reads page, per_page and sort; every other query parameter
// becomes an equality filter. "true" and "false" are sent as booleans.
func parseListQuery(r *http.Request) listquery.ListQuery {
	values := r.URL.Query()
	q := listquery.ListQuery{Filter: listquery.Filter{}}
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		v := vals[0]
		switch key {
		case "page":
			q.Page, _ = strconv.Atoi(v)
		case "per_page":
			q.ItemsPerPage, _ = strconv.Atoi(v)
		case "sort":
			q.Sort = parseSort(v)
		default:
			switch v {
			case "true":
				q.Filter[key] = true
			case "false":
				q.Filter[key] = false
			default:
				q.Filter[key] = v
			}
		}
	}
	return q.Normalize()
}

// parseSort reads "field,-other": a leading minus sorts descending.
func parseSort(s string) []listquery.SortField {
	var fields []listquery.SortField
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "-" {
			continue
		}
		if name, ok := strings.CutPrefix(part, "-"); ok {
			fields = append(fields, listquery.SortField{Field: name, Order: listquery.Desc})
			continue
		}
		fields = append(fields, listquery.SortField{Field: part, Order: listquery.Asc})
	}
	return fields
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondMessage(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusOK, map[string]string{"message": message})
}

// respondError answers with {"error": {code, reason, field}}. Internal errors
// are logged with their cause; clients only see the generic reason.
func respondError(w http.ResponseWriter, r *http.Request, err error, log *zap.SugaredLogger) {
	e := rpcerr.As(err)
	status := rpcerr.HTTPStatus(e)
	if status >= http.StatusInternalServerError {
		log.Errorw("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	respondJSON(w, status, map[string]*rpcerr.Error{"error": e})
}
