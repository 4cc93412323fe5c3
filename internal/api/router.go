package api

import (
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/api/middleware"
	"github.com/example/collab-platform/internal/auth"
)

// RouterConfig wires the handler sets into one mux.
type RouterConfig struct {
	Handlers     *Handlers
	AuthHandlers *AuthHandlers
	FeedHandlers *FeedHandlers
	JWT          *auth.JWTService
	RateLimiter  *middleware.RateLimiter
	// Health is optional; /healthz and /ready are mounted when set.
	Health healthcheck.Handler
	Logger *zap.SugaredLogger
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	mux := http.NewServeMux()

	authed := middleware.RequireUser
	limited := func(h http.HandlerFunc) http.Handler {
		if cfg.RateLimiter == nil {
			return h
		}
		return cfg.RateLimiter.Middleware(h)
	}
	// mutating endpoints: authenticated, then rate limited per user
	mutate := func(h http.HandlerFunc) http.Handler {
		return authed(limited(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAdmin(h)
	}

	h := cfg.Handlers

	// Articles
	mux.HandleFunc("GET /api/articles", h.ListArticles)
	mux.HandleFunc("GET /api/articles/{id}", h.GetArticle)
	mux.Handle("POST /api/articles", mutate(h.CreateArticle))
	mux.Handle("PUT /api/articles/{id}", mutate(h.UpdateArticle))
	mux.Handle("DELETE /api/articles/{id}", mutate(h.DeleteArticle))
	mux.Handle("POST /api/articles/{id}/publish", mutate(h.PublishArticle))
	mux.Handle("POST /api/articles/{id}/unpublish", mutate(h.UnpublishArticle))

	// Tags
	mux.HandleFunc("GET /api/tags", h.ListTags)
	mux.HandleFunc("GET /api/tags/{id}", h.GetTag)
	mux.Handle("POST /api/tags", mutate(h.CreateTag))
	mux.Handle("PUT /api/tags/{id}", mutate(h.RenameTag))
	mux.Handle("DELETE /api/tags/{id}", mutate(h.DeleteTag))

	// Groups
	mux.HandleFunc("GET /api/groups", h.ListGroups)
	mux.HandleFunc("GET /api/groups/{id}", h.GetGroup)
	mux.Handle("GET /api/groups/{id}/members", authed(http.HandlerFunc(h.ListGroupMembers)))
	mux.Handle("POST /api/groups", mutate(h.CreateGroup))
	mux.Handle("POST /api/groups/{id}/join", mutate(h.JoinGroup))
	mux.Handle("POST /api/groups/{id}/leave", mutate(h.LeaveGroup))
	mux.Handle("DELETE /api/groups/{id}/members/{userID}", mutate(h.RemoveGroupMember))
	mux.Handle("DELETE /api/groups/{id}", mutate(h.DeleteGroup))

	// Users (admin)
	mux.Handle("GET /api/users", admin(h.ListUsers))
	mux.Handle("GET /api/users/{id}", authed(http.HandlerFunc(h.GetUser)))
	mux.Handle("POST /api/users/{id}/deactivate", admin(h.DeactivateUser))
	mux.Handle("POST /api/users/{id}/activate", admin(h.ActivateUser))
	mux.Handle("PUT /api/users/{id}/role", admin(h.ChangeUserRole))

	// Auth
	a := cfg.AuthHandlers
	mux.Handle("POST /api/auth/register", limited(a.Register))
	mux.Handle("POST /api/auth/login", limited(a.Login))
	mux.Handle("POST /api/auth/refresh", limited(a.Refresh))
	mux.HandleFunc("POST /api/auth/logout", a.Logout)
	mux.Handle("GET /api/auth/me", authed(http.HandlerFunc(a.Me)))
	mux.Handle("PUT /api/auth/profile", mutate(a.UpdateProfile))
	mux.Handle("POST /api/auth/password", mutate(a.ChangePassword))

	// Live feeds
	f := cfg.FeedHandlers
	mux.HandleFunc("GET /api/feeds", f.ListFeeds)
	mux.HandleFunc("GET /api/feeds/ws", f.Serve)
	mux.HandleFunc("POST /api/feeds/{name}/count", f.Count)

	// Operations
	mux.Handle("GET /metrics", promhttp.Handler())
	if cfg.Health != nil {
		mux.HandleFunc("GET /healthz", cfg.Health.LiveEndpoint)
		mux.HandleFunc("GET /ready", cfg.Health.ReadyEndpoint)
	}

	// withLogging must sit directly on mux to see r.Pattern
	return middleware.Authenticate(cfg.JWT)(withLogging(mux, log))
}
