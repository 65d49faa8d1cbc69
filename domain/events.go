package domain

import "encoding/json"

// Event types published after a board change is persisted.
const (
	CategoryCreated     = "category-created"
	CategoryUpdated     = "category-updated"
	CategoryDeleted     = "category-deleted"
	CategoriesReordered = "categories-reordered"
	TodoCreated         = "todo-created"
	TodoUpdated         = "todo-updated"
	TodoDeleted         = "todo-deleted"
	TodoMoved           = "todo-moved"
)

// Event describes a board change that has been durably persisted.
type Event struct {
	ID         string          `json:"id"`
	BoardID    string          `json:"boardId"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

// TodoMovedEventData is the payload of a todo-moved event.
type TodoMovedEventData struct {
	FromCategoryID string `json:"fromCategoryId"`
	ToCategoryID   string `json:"toCategoryId"`
	DestIndex      int    `json:"destIndex"`
}

// MoveOrder carries the resulting id order on both sides of a cross-category
// move.
type MoveOrder struct {
	Source []string `json:"source"`
	Dest   []string `json:"dest"`
}
