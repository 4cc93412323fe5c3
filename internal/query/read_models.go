package query

// Re-export read models so API handlers only import query
import "github.com/example/collab-platform/internal/readmodel"

type ArticleReadModel = readmodel.ArticleReadModel
type TagReadModel = readmodel.TagReadModel
type GroupReadModel = readmodel.GroupReadModel
type UserReadModel = readmodel.UserReadModel
