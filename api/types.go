package api

import (
	"context"

	"github.com/aliftan/zero-kanban/domain"
)

// Board is the board engine driven by the handlers.
type Board interface {
	Categories() []domain.Category
	Search(term string) []domain.Category
	Refresh(ctx context.Context) error
	AddCategory(ctx context.Context, title string) (domain.Category, error)
	UpdateCategory(ctx context.Context, id, title string) error
	DeleteCategory(ctx context.Context, id string) error
	MoveCategory(ctx context.Context, id string, toIndex int) error
	AddTodo(ctx context.Context, categoryID, content string) (domain.Todo, error)
	UpdateTodo(ctx context.Context, todoID, currentCategoryID string, updates domain.TodoUpdate) (domain.Todo, error)
	ToggleTodo(ctx context.Context, categoryID, todoID string) (domain.Todo, error)
	DeleteTodo(ctx context.Context, categoryID, todoID string) error
	MoveTodo(ctx context.Context, sourceCategoryID, destCategoryID, todoID string, destIndex int) error
}

// Deduper prevents processing of duplicate requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key, used when the request fails.
	Remove(ctx context.Context, scope, key string) error
}

type boardResponse struct {
	Categories []domain.Category `json:"categories"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type categoryRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

type moveCategoryRequest struct {
	ToIndex *int `json:"toIndex" validate:"required"`
}

type todoRequest struct {
	Content string `json:"content" validate:"required,max=2000"`
}

type updateTodoRequest struct {
	Content     *string   `json:"content" validate:"omitempty,max=2000"`
	Description *string   `json:"description" validate:"omitempty,max=10000"`
	DueDate     *string   `json:"dueDate"`
	Tags        *[]string `json:"tags" validate:"omitempty,max=50,dive,max=50"`
	IsCompleted *bool     `json:"isCompleted"`
	CategoryID  *string   `json:"categoryId"`
}

func (r updateTodoRequest) toUpdate() domain.TodoUpdate {
	return domain.TodoUpdate{
		Content:     r.Content,
		Description: r.Description,
		DueDate:     r.DueDate,
		Tags:        r.Tags,
		IsCompleted: r.IsCompleted,
		CategoryID:  r.CategoryID,
	}
}

type moveTodoRequest struct {
	SourceCategoryID string `json:"sourceCategoryId" validate:"required"`
	DestCategoryID   string `json:"destCategoryId" validate:"required"`
	DestIndex        *int   `json:"destIndex" validate:"required"`
}
