package board

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aliftan/zero-kanban/domain"
)

// fakeStore is an in-memory durable board with per-method failure injection.
type fakeStore struct {
	mu         sync.Mutex
	categories map[string]domain.Category
	todos      map[string]domain.Todo
	nextID     int
	fail       map[string]error
	calls      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		categories: map[string]domain.Category{},
		todos:      map[string]domain.Todo{},
		fail:       map[string]error{},
	}
}

func (f *fakeStore) record(method string) error {
	f.calls = append(f.calls, method)
	return f.fail[method]
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

// seed stores categories and their todos as-is.
func (f *fakeStore) seed(categories ...domain.Category) {
	for _, c := range categories {
		for _, t := range c.Todos {
			f.todos[t.ID] = t.Clone()
		}
		c.Todos = nil
		f.categories[c.ID] = c
	}
}

func (f *fakeStore) sortedCategories() []domain.Category {
	out := make([]domain.Category, 0, len(f.categories))
	for _, c := range f.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (f *fakeStore) sortedTodos(categoryID string) []domain.Todo {
	out := []domain.Todo{}
	for _, t := range f.todos {
		if t.CategoryID == categoryID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (f *fakeStore) renumber(categoryID string, ids []string) {
	for i, id := range ids {
		t := f.todos[id]
		t.Position = i
		t.CategoryID = categoryID
		f.todos[id] = t
	}
}

func (f *fakeStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListCategories"); err != nil {
		return nil, err
	}
	return f.sortedCategories(), nil
}

func (f *fakeStore) ListTodos(ctx context.Context, categoryID string) ([]domain.Todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListTodos"); err != nil {
		return nil, err
	}
	return f.sortedTodos(categoryID), nil
}

func (f *fakeStore) CreateCategory(ctx context.Context, title string, position int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateCategory"); err != nil {
		return "", err
	}
	id := f.id("c")
	f.categories[id] = domain.Category{ID: id, Title: title, Position: position}
	return id, nil
}

func (f *fakeStore) UpdateCategory(ctx context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateCategory"); err != nil {
		return err
	}
	c, ok := f.categories[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Title = title
	f.categories[id] = c
	return nil
}

func (f *fakeStore) DeleteCategory(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteCategory"); err != nil {
		return err
	}
	if _, ok := f.categories[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.categories, id)
	for tid, t := range f.todos {
		if t.CategoryID == id {
			delete(f.todos, tid)
		}
	}
	for i, c := range f.sortedCategories() {
		c.Position = i
		f.categories[c.ID] = c
	}
	return nil
}

func (f *fakeStore) ReorderCategories(ctx context.Context, orderedIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ReorderCategories"); err != nil {
		return err
	}
	for i, id := range orderedIDs {
		c, ok := f.categories[id]
		if !ok {
			return domain.ErrNotFound
		}
		c.Position = i
		f.categories[id] = c
	}
	return nil
}

func (f *fakeStore) CreateTodo(ctx context.Context, categoryID string, todo domain.Todo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateTodo"); err != nil {
		return "", err
	}
	if _, ok := f.categories[categoryID]; !ok {
		return "", domain.ErrNotFound
	}
	todo.ID = f.id("t")
	todo.CategoryID = categoryID
	siblings := f.sortedTodos(categoryID)
	f.todos[todo.ID] = todo
	ids := domain.IDs(domain.InsertAt(siblings, todo, todo.Position))
	f.renumber(categoryID, ids)
	return todo.ID, nil
}

func (f *fakeStore) UpdateTodo(ctx context.Context, id string, upd domain.TodoUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateTodo"); err != nil {
		return err
	}
	t, ok := f.todos[id]
	if !ok {
		return domain.ErrNotFound
	}
	from := t.CategoryID
	t = upd.Apply(t)
	f.todos[id] = t
	if t.CategoryID != from {
		dest := f.sortedTodos(t.CategoryID)
		var ids []string
		for _, d := range dest {
			if d.ID != id {
				ids = append(ids, d.ID)
			}
		}
		f.renumber(t.CategoryID, append(ids, id))
		f.renumber(from, domain.IDs(f.sortedTodos(from)))
	}
	return nil
}

func (f *fakeStore) DeleteTodo(ctx context.Context, categoryID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteTodo"); err != nil {
		return err
	}
	if _, ok := f.todos[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.todos, id)
	f.renumber(categoryID, domain.IDs(f.sortedTodos(categoryID)))
	return nil
}

func (f *fakeStore) ReindexPositions(ctx context.Context, categoryID string, orderedIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ReindexPositions"); err != nil {
		return err
	}
	f.renumber(categoryID, orderedIDs)
	return nil
}

func (f *fakeStore) MoveTodoAcrossCategories(ctx context.Context, fromCategoryID, toCategoryID, todoID string, destIndex int, order domain.MoveOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("MoveTodoAcrossCategories"); err != nil {
		return err
	}
	if _, ok := f.todos[todoID]; !ok {
		return domain.ErrNotFound
	}
	f.renumber(fromCategoryID, order.Source)
	f.renumber(toCategoryID, order.Dest)
	return nil
}

// board returns the durable state in the same shape as the Store.
func (f *fakeStore) board() []domain.Category {
	f.mu.Lock()
	defer f.mu.Unlock()
	cats := f.sortedCategories()
	for i := range cats {
		cats[i].Todos = f.sortedTodos(cats[i].ID)
	}
	return cats
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}
