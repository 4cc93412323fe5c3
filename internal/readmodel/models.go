package readmodel

import "time"

// Collection names in the read store.
const (
	Articles = "articles"
	Tags     = "tags"
	Groups   = "groups"
	Users    = "users"
	Sessions = "sessions"
)

// ArticleReadModel is the read model for articles
type ArticleReadModel struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	GroupID     string    `json:"group_id,omitempty"`
	TagIDs      []string  `json:"tag_ids"`
	Published   bool      `json:"published"`
	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TagReadModel is the read model for tags
type TagReadModel struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	ArticleCount int       `json:"article_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GroupReadModel is the read model for groups
type GroupReadModel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	MemberIDs   []string  `json:"member_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasMember reports whether userID belongs to the group.
func (g *GroupReadModel) HasMember(userID string) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// UserReadModel is the read model for users. The password hash is persisted
// with the document; publications omit it. GroupIDs lists the groups the user
// belongs to.
type UserReadModel struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	Name         string `json:"name"`
	Bio          string `json:"bio,omitempty"`
	Role         string `json:"role"`
	IsActive     bool   `json:"is_active"`
	// DeactivationReason is set while IsActive is false.
	DeactivationReason string    `json:"deactivation_reason,omitempty"`
	GroupIDs           []string  `json:"group_ids"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// SessionReadModel is the read model for user sessions
type SessionReadModel struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	RefreshTokenHash string    `json:"refresh_token_hash"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
	IPAddress        string    `json:"ip_address"`
	UserAgent        string    `json:"user_agent"`
}

// New returns a pointer to an empty read model for the collection, or nil if
// the collection is unknown. Stores that persist JSON decode into it.
func New(collection string) any {
	switch collection {
	case Articles:
		return &ArticleReadModel{}
	case Tags:
		return &TagReadModel{}
	case Groups:
		return &GroupReadModel{}
	case Users:
		return &UserReadModel{}
	case Sessions:
		return &SessionReadModel{}
	}
	return nil
}
