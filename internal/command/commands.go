package command

// Article Commands
type CreateArticle struct {
	Title   string   `json:"title" validate:"required,max=200"`
	Body    string   `json:"body" validate:"max=50000"`
	GroupID string   `json:"group_id" validate:"omitempty,max=64"`
	TagIDs  []string `json:"tag_ids" validate:"max=20,dive,required"`
}

type UpdateArticle struct {
	ArticleID string   `json:"article_id" validate:"required"`
	Title     string   `json:"title" validate:"required,max=200"`
	Body      string   `json:"body" validate:"max=50000"`
	TagIDs    []string `json:"tag_ids" validate:"max=20,dive,required"`
}

type PublishArticle struct {
	ArticleID string `json:"article_id" validate:"required"`
}

type UnpublishArticle struct {
	ArticleID string `json:"article_id" validate:"required"`
}

type DeleteArticle struct {
	ArticleID string `json:"article_id" validate:"required"`
}

// Tag Commands
type CreateTag struct {
	Name        string `json:"name" validate:"required,max=50"`
	Slug        string `json:"slug" validate:"omitempty,max=60"`
	Description string `json:"description" validate:"max=500"`
}

type RenameTag struct {
	TagID       string `json:"tag_id" validate:"required"`
	Name        string `json:"name" validate:"required,max=50"`
	Slug        string `json:"slug" validate:"omitempty,max=60"`
	Description string `json:"description" validate:"max=500"`
}

type DeleteTag struct {
	TagID string `json:"tag_id" validate:"required"`
}

// Group Commands
type CreateGroup struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

type JoinGroup struct {
	GroupID string `json:"group_id" validate:"required"`
}

type LeaveGroup struct {
	GroupID string `json:"group_id" validate:"required"`
}

type RemoveGroupMember struct {
	GroupID string `json:"group_id" validate:"required"`
	UserID  string `json:"user_id" validate:"required"`
}

type DeleteGroup struct {
	GroupID string `json:"group_id" validate:"required"`
}

// User Commands
type RegisterUser struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,max=100"`
}

type UpdateProfile struct {
	Name string `json:"name" validate:"required,max=100"`
	Bio  string `json:"bio" validate:"max=500"`
}

type ChangePassword struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

type ChangeUserRole struct {
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"required,oneof=member admin"`
}

type DeactivateUser struct {
	UserID string `json:"user_id" validate:"required"`
	Reason string `json:"reason" validate:"max=200"`
}

type ActivateUser struct {
	UserID string `json:"user_id" validate:"required"`
}
