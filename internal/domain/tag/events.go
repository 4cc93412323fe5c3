package tag

import "time"

const (
	EventTagCreated = "TagCreated"
	EventTagRenamed = "TagRenamed"
	EventTagDeleted = "TagDeleted"
)

// TagCreated is emitted when a new tag is created
type TagCreated struct {
	TagID       string    `json:"tag_id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// TagRenamed is emitted when name, slug or description change
type TagRenamed struct {
	TagID       string    `json:"tag_id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TagDeleted is emitted when a tag is deleted
type TagDeleted struct {
	TagID     string    `json:"tag_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
