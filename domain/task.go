package domain

import (
	"slices"
	"sort"
	"strings"
)

// DueDateLayout is the calendar date format accepted for Todo.DueDate.
const DueDateLayout = "2006-01-02"

// Category represents a board column holding an ordered list of todos.
type Category struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
	Todos    []Todo `json:"todos"`
}

// Todo represents a single task item belonging to exactly one category.
type Todo struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	IsCompleted bool     `json:"isCompleted"`
	Description string   `json:"description,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CategoryID  string   `json:"categoryId"`
	Position    int      `json:"position"`
}

// TodoUpdate carries partial updates for a todo. Nil fields are left unchanged.
type TodoUpdate struct {
	Content     *string   `json:"content,omitempty"`
	Description *string   `json:"description,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	IsCompleted *bool     `json:"isCompleted,omitempty"`
	CategoryID  *string   `json:"categoryId,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u TodoUpdate) IsEmpty() bool {
	return u.Content == nil && u.Description == nil && u.DueDate == nil &&
		u.Tags == nil && u.IsCompleted == nil && u.CategoryID == nil
}

// Apply merges the update into t. CategoryID is applied as well; callers that
// re-parent a todo are responsible for the sibling lists.
func (u TodoUpdate) Apply(t Todo) Todo {
	if u.Content != nil {
		t.Content = *u.Content
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.DueDate != nil {
		t.DueDate = *u.DueDate
	}
	if u.Tags != nil {
		t.Tags = NormalizeTags(*u.Tags)
	}
	if u.IsCompleted != nil {
		t.IsCompleted = *u.IsCompleted
	}
	if u.CategoryID != nil {
		t.CategoryID = *u.CategoryID
	}
	return t
}

// NormalizeTags trims tags, drops empty ones and collapses duplicates while
// keeping first-seen order.
func NormalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// Key returns the category id.
func (c Category) Key() string { return c.ID }

// WithPosition returns a copy of c placed at pos.
func (c Category) WithPosition(pos int) Category {
	c.Position = pos
	return c
}

// Key returns the todo id.
func (t Todo) Key() string { return t.ID }

// WithPosition returns a copy of t placed at pos.
func (t Todo) WithPosition(pos int) Todo {
	t.Position = pos
	return t
}

// Clone returns a deep copy of the todo.
func (t Todo) Clone() Todo {
	t.Tags = slices.Clone(t.Tags)
	return t
}

// Clone returns a deep copy of the category including its todos.
func (c Category) Clone() Category {
	if c.Todos != nil {
		todos := make([]Todo, len(c.Todos))
		for i, t := range c.Todos {
			todos[i] = t.Clone()
		}
		c.Todos = todos
	}
	return c
}

// CloneBoard deep copies a list of categories.
func CloneBoard(categories []Category) []Category {
	if categories == nil {
		return nil
	}
	out := make([]Category, len(categories))
	for i, c := range categories {
		out[i] = c.Clone()
	}
	return out
}

// SortByPosition orders categories and each category's todos ascending by
// position. The sort is stable so equal positions keep their fetch order.
func SortByPosition(categories []Category) {
	sort.SliceStable(categories, func(i, j int) bool { return categories[i].Position < categories[j].Position })
	for i := range categories {
		todos := categories[i].Todos
		sort.SliceStable(todos, func(a, b int) bool { return todos[a].Position < todos[b].Position })
	}
}

// FindCategory returns the index of the category with the given id or -1.
func FindCategory(categories []Category, id string) int {
	return slices.IndexFunc(categories, func(c Category) bool { return c.ID == id })
}

// FindTodo returns the index of the todo with the given id or -1.
func FindTodo(todos []Todo, id string) int {
	return slices.IndexFunc(todos, func(t Todo) bool { return t.ID == id })
}
