package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/auth"
	"github.com/example/collab-platform/internal/command"
	"github.com/example/collab-platform/internal/domain/user"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/query"
	"github.com/example/collab-platform/internal/readmodel"
	"github.com/example/collab-platform/internal/rpcerr"
)

var (
	errInvalidCredentials = rpcerr.NotAuthorized("invalid email or password")
	errNoRefreshToken     = rpcerr.NotAuthorized("no refresh token")
	errInvalidRefresh     = rpcerr.NotAuthorized("invalid refresh token")
	errSessionExpired     = rpcerr.NotAuthorized("session expired")
)

const (
	cookieAccess  = "access_token"
	cookieRefresh = "refresh_token"
	cookieSession = "session_id"
	refreshPath   = "/api/auth/refresh"
)

// AuthHandlers serve sign-up, sign-in, session refresh and the caller's own
// profile.
type AuthHandlers struct {
	cmd       *command.Handler
	query     *query.Handler
	users     *user.Service
	jwt       *auth.JWTService
	readStore store.ReadStoreInterface
	log       *zap.SugaredLogger
}

func NewAuthHandlers(
	cmdHandler *command.Handler,
	queryHandler *query.Handler,
	users *user.Service,
	jwt *auth.JWTService,
	readStore store.ReadStoreInterface,
	log *zap.SugaredLogger,
) *AuthHandlers {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &AuthHandlers{cmd: cmdHandler, query: queryHandler, users: users, jwt: jwt, readStore: readStore, log: log}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries the user and, for API clients that do not keep
// cookies, the issued tokens.
type AuthResponse struct {
	User         UserResponse `json:"user"`
	AccessToken  string       `json:"access_token,omitempty"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time    `json:"expires_at,omitzero"`
	Message      string       `json:"message,omitempty"`
}

type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Bio       string    `json:"bio,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (u UserResponse) identity() auth.Identity {
	return auth.Identity{UserID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

func userFromReadModel(m *readmodel.UserReadModel) UserResponse {
	return UserResponse{ID: m.ID, Email: m.Email, Name: m.Name, Bio: m.Bio, Role: m.Role, CreatedAt: m.CreatedAt}
}

type session struct {
	id            string
	access        string
	accessExpiry  time.Time
	refresh       string
	refreshExpiry time.Time
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var cmd command.RegisterUser
	if !decodeBody(w, r, &cmd, h.log) {
		return
	}
	u, err := h.cmd.RegisterUser(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := UserResponse{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, CreatedAt: u.CreatedAt}
	if s := h.signIn(w, r, resp, http.StatusCreated, "Registration successful"); s != nil {
		h.log.Infow("User registered", "user_id", u.ID)
	}
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req, h.log) {
		return
	}

	m, found, err := store.FindUserByEmail(r.Context(), h.readStore, normalizeEmail(req.Email))
	switch {
	case err != nil:
		h.respondError(w, r, rpcerr.Unavailable("user lookup failed", err))
		return
	case !found || !auth.CheckPassword(req.Password, m.PasswordHash):
		h.respondError(w, r, errInvalidCredentials)
		return
	case !m.IsActive:
		h.respondError(w, r, user.ErrUserDeactivated)
		return
	}

	s := h.signIn(w, r, userFromReadModel(m), http.StatusOK, "Login successful")
	if s == nil {
		return
	}
	if err := h.users.RecordSignIn(r.Context(), m.ID, s.id, r.RemoteAddr, r.UserAgent()); err != nil {
		h.log.Warnw("Failed to record sign-in", "user_id", m.ID, "error", err)
	}
}

// Logout drops the session and clears cookies. It succeeds without a
// session too.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if c, err := r.Cookie(cookieSession); err == nil {
		sessionID = c.Value
	}
	if sessionID != "" {
		if err := h.readStore.Delete(r.Context(), readmodel.Sessions, sessionID); err != nil {
			h.log.Warnw("Failed to delete session", "session_id", sessionID, "error", err)
		}
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		if err := h.users.RecordSignOut(r.Context(), claims.UserID, sessionID); err != nil {
			h.log.Warnw("Failed to record sign-out", "user_id", claims.UserID, "error", err)
		}
	}

	clearAuthCookies(w)
	respondMessage(w, "Logout successful")
}

// Refresh rotates the session: the refresh token must name a live session
// whose stored hash matches it. Any failure also clears the cookies.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	token := ""
	if c, err := r.Cookie(cookieRefresh); err == nil {
		token = c.Value
	} else {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if !decodeBody(w, r, &req, h.log) {
			return
		}
		token = req.RefreshToken
	}
	if token == "" {
		h.respondError(w, r, errNoRefreshToken)
		return
	}

	m, sessionID, err := h.checkRefresh(r, token)
	if err != nil {
		clearAuthCookies(w)
		h.respondError(w, r, err)
		return
	}
	if err := h.readStore.Delete(r.Context(), readmodel.Sessions, sessionID); err != nil {
		h.log.Warnw("Failed to delete rotated session", "session_id", sessionID, "error", err)
	}
	h.signIn(w, r, userFromReadModel(m), http.StatusOK, "Token refreshed")
}

func (h *AuthHandlers) checkRefresh(r *http.Request, token string) (*readmodel.UserReadModel, string, error) {
	ctx := r.Context()
	userID, sessionID, err := h.jwt.ValidateRefreshToken(token)
	if err != nil {
		return nil, "", errInvalidRefresh
	}

	raw, found, err := h.readStore.Get(ctx, readmodel.Sessions, sessionID)
	if err != nil {
		return nil, "", rpcerr.Unavailable("session lookup failed", err)
	}
	if !found {
		return nil, "", errInvalidRefresh
	}
	s := raw.(*readmodel.SessionReadModel)
	if s.UserID != userID || s.RefreshTokenHash != auth.HashToken(token) {
		return nil, "", errInvalidRefresh
	}
	if time.Now().After(s.ExpiresAt) {
		_ = h.readStore.Delete(ctx, readmodel.Sessions, sessionID)
		return nil, "", errSessionExpired
	}

	raw, found, err = h.readStore.Get(ctx, readmodel.Users, userID)
	if err != nil || !found {
		return nil, "", errInvalidRefresh
	}
	m := raw.(*readmodel.UserReadModel)
	if !m.IsActive {
		return nil, "", user.ErrUserDeactivated
	}
	return m, sessionID, nil
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	m, err := h.query.GetUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, userFromReadModel(m))
}

func (h *AuthHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var cmd command.UpdateProfile
	if !decodeBody(w, r, &cmd, h.log) {
		return
	}
	if err := h.cmd.UpdateProfile(r.Context(), cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondMessage(w, "Profile updated")
}

func (h *AuthHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var cmd command.ChangePassword
	if !decodeBody(w, r, &cmd, h.log) {
		return
	}
	if err := h.cmd.ChangePassword(r.Context(), cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondMessage(w, "Password changed successfully")
}

// signIn opens a session for u, sets the cookies and writes the response.
// It returns nil after writing an error.
func (h *AuthHandlers) signIn(w http.ResponseWriter, r *http.Request, u UserResponse, status int, message string) *session {
	s, err := h.openSession(r, u.identity())
	if err != nil {
		h.respondError(w, r, err)
		return nil
	}
	secure := r.TLS != nil
	setCookie(w, cookieAccess, s.access, "/", s.accessExpiry, secure)
	setCookie(w, cookieRefresh, s.refresh, refreshPath, s.refreshExpiry, secure)
	setCookie(w, cookieSession, s.id, "/", s.refreshExpiry, secure)

	respondJSON(w, status, AuthResponse{
		User:         u,
		AccessToken:  s.access,
		RefreshToken: s.refresh,
		ExpiresAt:    s.accessExpiry,
		Message:      message,
	})
	return s
}

// openSession signs a token pair and stores the session the refresh token is
// bound to. Only the refresh token's hash is kept.
func (h *AuthHandlers) openSession(r *http.Request, id auth.Identity) (*session, error) {
	s := &session{id: uuid.NewString()}
	var err error
	if s.access, s.accessExpiry, err = h.jwt.GenerateAccessToken(id); err != nil {
		return nil, err
	}
	if s.refresh, s.refreshExpiry, err = h.jwt.GenerateRefreshToken(id.UserID, s.id); err != nil {
		return nil, err
	}

	err = h.readStore.Set(r.Context(), readmodel.Sessions, s.id, &readmodel.SessionReadModel{
		ID:               s.id,
		UserID:           id.UserID,
		RefreshTokenHash: auth.HashToken(s.refresh),
		ExpiresAt:        s.refreshExpiry,
		CreatedAt:        time.Now(),
		IPAddress:        r.RemoteAddr,
		UserAgent:        r.UserAgent(),
	})
	if err != nil {
		return nil, rpcerr.Unavailable("could not store session", err)
	}
	return s, nil
}

func setCookie(w http.ResponseWriter, name, value, path string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearAuthCookies(w http.ResponseWriter) {
	for _, c := range [...]struct{ name, path string }{
		{cookieAccess, "/"},
		{cookieRefresh, refreshPath},
		{cookieSession, "/"},
	} {
		http.SetCookie(w, &http.Cookie{Name: c.name, Path: c.path, MaxAge: -1, HttpOnly: true})
	}
}

func (h *AuthHandlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, err, h.log)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
