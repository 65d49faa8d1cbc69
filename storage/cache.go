package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/aliftan/zero-kanban/domain"
)

type backend interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListTodos(ctx context.Context, categoryID string) ([]domain.Todo, error)
	CreateCategory(ctx context.Context, title string, position int) (string, error)
	UpdateCategory(ctx context.Context, id, title string) error
	DeleteCategory(ctx context.Context, id string) error
	ReorderCategories(ctx context.Context, orderedIDs []string) error
	CreateTodo(ctx context.Context, categoryID string, todo domain.Todo) (string, error)
	UpdateTodo(ctx context.Context, id string, upd domain.TodoUpdate) error
	DeleteTodo(ctx context.Context, categoryID, id string) error
	ReindexPositions(ctx context.Context, categoryID string, orderedIDs []string) error
	MoveTodoAcrossCategories(ctx context.Context, fromCategoryID, toCategoryID, todoID string, destIndex int, order domain.MoveOrder) error
}

// Cache wraps a backend with a Redis cache for the board reads. All cached
// reads of a board live in one hash so a write evicts them with a single
// DEL.
type Cache struct {
	base    backend
	redis   *redis.Client
	boardID string
	ttl     time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, boardID string, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, boardID: boardID, ttl: ttl}
}

func (c *Cache) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var cats []domain.Category
	if c.load(ctx, categoriesField, &cats) {
		return cats, nil
	}
	cats, err := c.base.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, categoriesField, cats)
	return cats, nil
}

func (c *Cache) ListTodos(ctx context.Context, categoryID string) ([]domain.Todo, error) {
	var todos []domain.Todo
	if c.load(ctx, todosField(categoryID), &todos) {
		return todos, nil
	}
	todos, err := c.base.ListTodos(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, todosField(categoryID), todos)
	return todos, nil
}

func (c *Cache) CreateCategory(ctx context.Context, title string, position int) (string, error) {
	id, err := c.base.CreateCategory(ctx, title, position)
	if err != nil {
		return "", err
	}
	c.evict(ctx)
	return id, nil
}

func (c *Cache) UpdateCategory(ctx context.Context, id, title string) error {
	return c.evictAfter(ctx, c.base.UpdateCategory(ctx, id, title))
}

func (c *Cache) DeleteCategory(ctx context.Context, id string) error {
	return c.evictAfter(ctx, c.base.DeleteCategory(ctx, id))
}

func (c *Cache) ReorderCategories(ctx context.Context, orderedIDs []string) error {
	return c.evictAfter(ctx, c.base.ReorderCategories(ctx, orderedIDs))
}

func (c *Cache) CreateTodo(ctx context.Context, categoryID string, todo domain.Todo) (string, error) {
	id, err := c.base.CreateTodo(ctx, categoryID, todo)
	if err != nil {
		return "", err
	}
	c.evict(ctx)
	return id, nil
}

func (c *Cache) UpdateTodo(ctx context.Context, id string, upd domain.TodoUpdate) error {
	return c.evictAfter(ctx, c.base.UpdateTodo(ctx, id, upd))
}

func (c *Cache) DeleteTodo(ctx context.Context, categoryID, id string) error {
	return c.evictAfter(ctx, c.base.DeleteTodo(ctx, categoryID, id))
}

func (c *Cache) ReindexPositions(ctx context.Context, categoryID string, orderedIDs []string) error {
	return c.evictAfter(ctx, c.base.ReindexPositions(ctx, categoryID, orderedIDs))
}

func (c *Cache) MoveTodoAcrossCategories(ctx context.Context, fromCategoryID, toCategoryID, todoID string, destIndex int, order domain.MoveOrder) error {
	return c.evictAfter(ctx, c.base.MoveTodoAcrossCategories(ctx, fromCategoryID, toCategoryID, todoID, destIndex, order))
}

func (c *Cache) load(ctx context.Context, field string, v any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.HGet(ctx, boardCacheKey(c.boardID), field).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			c.evict(ctx)
		}
		return false
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		c.evict(ctx)
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, field string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	key := boardCacheKey(c.boardID)
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, field, data)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
}

// evictAfter drops the cached board when err is nil and returns err.
func (c *Cache) evictAfter(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, boardCacheKey(c.boardID)).Err()
}

const categoriesField = "categories"

func todosField(categoryID string) string {
	return "todos:" + categoryID
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}
