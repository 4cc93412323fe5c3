package article

import "time"

const (
	EventArticleCreated     = "ArticleCreated"
	EventArticleUpdated     = "ArticleUpdated"
	EventArticlePublished   = "ArticlePublished"
	EventArticleUnpublished = "ArticleUnpublished"
	EventArticleDeleted     = "ArticleDeleted"
)

// ArticleCreated is emitted when a draft is written
type ArticleCreated struct {
	ArticleID  string    `json:"article_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	GroupID    string    `json:"group_id,omitempty"`
	TagIDs     []string  `json:"tag_ids"`
	CreatedAt  time.Time `json:"created_at"`
}

// ArticleUpdated is emitted when title, body or tags change
type ArticleUpdated struct {
	ArticleID string    `json:"article_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	TagIDs    []string  `json:"tag_ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArticlePublished carries what notifications need without a read-model lookup
type ArticlePublished struct {
	ArticleID   string    `json:"article_id"`
	Title       string    `json:"title"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	GroupID     string    `json:"group_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

type ArticleUnpublished struct {
	ArticleID     string    `json:"article_id"`
	UnpublishedAt time.Time `json:"unpublished_at"`
}

type ArticleDeleted struct {
	ArticleID string    `json:"article_id"`
	TagIDs    []string  `json:"tag_ids"`
	DeletedAt time.Time `json:"deleted_at"`
}
