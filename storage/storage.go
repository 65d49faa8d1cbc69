package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"github.com/aliftan/zero-kanban/domain"
)

const (
	categoryKind   = "category"
	todoKind       = "todo"
	categoryPrefix = "c_"
	todoPrefix     = "t_"
	edmInt32       = "Edm.Int32"

	// maxTransactionActions is the entity group transaction limit of Azure Tables.
	// Larger writes are split into consecutive batches.
	maxTransactionActions = 100
)

type tableClient interface {
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	SubmitTransaction(ctx context.Context, transactionActions []aztables.TransactionAction, tableSubmitTransactionOptions *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Storage keeps one board in a single partition of an Azure table. A write
// goes out as entity group transactions of at most 100 actions: the first
// batch carries the row that changes membership and the category counters,
// later batches only renumber siblings.
type Storage struct {
	table   tableClient
	boardID string
}

// New creates a Storage for boardID from the given connection string.
func New(connStr, table, boardID string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{table: svc.NewClient(table), boardID: boardID}, nil
}

// BoardID returns the partition this Storage writes to.
func (s *Storage) BoardID() string { return s.boardID }

type categoryEntity struct {
	PartitionKey  string `json:"PartitionKey"`
	RowKey        string `json:"RowKey"`
	ETag          string `json:"odata.etag,omitempty"`
	Kind          string `json:"Kind"`
	Title         string `json:"Title"`
	Position      int    `json:"Position"`
	PositionType  string `json:"Position@odata.type,omitempty"`
	TodoCount     int    `json:"TodoCount"`
	TodoCountType string `json:"TodoCount@odata.type,omitempty"`
}

func (e categoryEntity) id() string { return strings.TrimPrefix(e.RowKey, categoryPrefix) }

func (e categoryEntity) keys() (string, string) { return e.PartitionKey, e.RowKey }

func (e categoryEntity) etag() string { return e.ETag }

func (e categoryEntity) payload() ([]byte, error) {
	e.ETag = ""
	e.Kind = categoryKind
	e.PositionType = edmInt32
	e.TodoCountType = edmInt32
	return json.Marshal(e)
}

func (e categoryEntity) toDomain() domain.Category {
	return domain.Category{ID: e.id(), Title: e.Title, Position: e.Position}
}

type todoEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	ETag         string `json:"odata.etag,omitempty"`
	Kind         string `json:"Kind"`
	CategoryID   string `json:"CategoryID"`
	Content      string `json:"Content"`
	Description  string `json:"Description,omitempty"`
	DueDate      string `json:"DueDate,omitempty"`
	Tags         string `json:"Tags,omitempty"`
	IsCompleted  bool   `json:"IsCompleted"`
	Position     int    `json:"Position"`
	PositionType string `json:"Position@odata.type,omitempty"`
}

func (e todoEntity) id() string { return strings.TrimPrefix(e.RowKey, todoPrefix) }

func (e todoEntity) keys() (string, string) { return e.PartitionKey, e.RowKey }

func (e todoEntity) etag() string { return e.ETag }

func (e todoEntity) payload() ([]byte, error) {
	e.ETag = ""
	e.Kind = todoKind
	e.PositionType = edmInt32
	return json.Marshal(e)
}

func (e todoEntity) toDomain() (domain.Todo, error) {
	t := domain.Todo{
		ID:          e.id(),
		Content:     e.Content,
		IsCompleted: e.IsCompleted,
		Description: e.Description,
		DueDate:     e.DueDate,
		CategoryID:  e.CategoryID,
		Position:    e.Position,
	}
	if e.Tags != "" {
		if err := json.Unmarshal([]byte(e.Tags), &t.Tags); err != nil {
			return domain.Todo{}, fmt.Errorf("decode tags of todo %s: %w", t.ID, err)
		}
	}
	return t, nil
}

// withTodo copies the mutable todo fields into e, keeping its keys and etag.
func (e todoEntity) withTodo(t domain.Todo) (todoEntity, error) {
	e.CategoryID = t.CategoryID
	e.Content = t.Content
	e.Description = t.Description
	e.DueDate = t.DueDate
	e.IsCompleted = t.IsCompleted
	e.Position = t.Position
	e.Tags = ""
	if tags := domain.NormalizeTags(t.Tags); len(tags) > 0 {
		data, err := json.Marshal(tags)
		if err != nil {
			return e, err
		}
		e.Tags = string(data)
	}
	return e, nil
}

// ListCategories returns the board's categories ordered by position, without
// todos.
func (s *Storage) ListCategories(ctx context.Context) ([]domain.Category, error) {
	ents, err := s.categories(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Category, len(ents))
	for i, e := range ents {
		out[i] = e.toDomain()
	}
	return out, nil
}

// ListTodos returns the todos of a category ordered by position.
func (s *Storage) ListTodos(ctx context.Context, categoryID string) ([]domain.Todo, error) {
	ents, err := s.todos(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Todo, 0, len(ents))
	for _, e := range ents {
		t, err := e.toDomain()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// CreateCategory stores a new empty category and returns its id.
func (s *Storage) CreateCategory(ctx context.Context, title string, position int) (string, error) {
	id := uuid.NewString()
	ent := categoryEntity{PartitionKey: s.boardID, RowKey: categoryPrefix + id, Title: title, Position: position}
	payload, err := ent.payload()
	if err != nil {
		return "", err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		return "", classify(err)
	}
	return id, nil
}

// UpdateCategory renames a category.
func (s *Storage) UpdateCategory(ctx context.Context, id, title string) error {
	ent, err := s.category(ctx, id)
	if err != nil {
		return err
	}
	ent.Title = title
	return s.replace(ctx, ent)
}

// DeleteCategory removes the todos of the category, then the category itself,
// and renumbers the remaining categories.
func (s *Storage) DeleteCategory(ctx context.Context, id string) error {
	target, err := s.category(ctx, id)
	if err != nil {
		return err
	}
	todos, err := s.todos(ctx, id)
	if err != nil {
		return err
	}
	cats, err := s.categories(ctx)
	if err != nil {
		return err
	}

	var tx txn
	for _, t := range todos {
		tx.delete(t)
	}
	tx.delete(target)
	tx.renumberCategories(slices.DeleteFunc(cats, func(c categoryEntity) bool { return c.RowKey == target.RowKey }))
	return s.submit(ctx, &tx)
}

// ReorderCategories assigns positions following orderedIDs, which must name
// every category of the board exactly once.
func (s *Storage) ReorderCategories(ctx context.Context, orderedIDs []string) error {
	cats, err := s.categories(ctx)
	if err != nil {
		return err
	}
	ordered, err := orderByIDs(cats, orderedIDs, categoryEntity.id)
	if err != nil {
		return err
	}
	var tx txn
	tx.renumberCategories(ordered)
	return s.submit(ctx, &tx)
}

// CreateTodo inserts todo at todo.Position in its category, shifting the
// siblings at or after that position, and returns the new id.
func (s *Storage) CreateTodo(ctx context.Context, categoryID string, todo domain.Todo) (string, error) {
	cat, err := s.category(ctx, categoryID)
	if err != nil {
		return "", err
	}
	siblings, err := s.todos(ctx, categoryID)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	todo.ID = id
	todo.CategoryID = categoryID
	todo.Position = min(max(todo.Position, 0), len(siblings))
	ent, err := todoEntity{PartitionKey: s.boardID, RowKey: todoPrefix + id}.withTodo(todo)
	if err != nil {
		return "", err
	}

	var tx txn
	tx.add(ent)
	ordered := slices.Insert(siblings, todo.Position, ent)
	tx.setTodoCount(cat, len(ordered))
	tx.renumberTodos(ordered, categoryID, ent.RowKey)
	if err := s.submit(ctx, &tx); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateTodo merges upd into a todo. When upd names another category the todo
// is appended to it and the source category is renumbered.
func (s *Storage) UpdateTodo(ctx context.Context, id string, upd domain.TodoUpdate) error {
	ent, err := s.todo(ctx, id)
	if err != nil {
		return err
	}
	current, err := ent.toDomain()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	next := upd.Apply(current)

	if next.CategoryID == current.CategoryID {
		updated, err := ent.withTodo(next)
		if err != nil {
			return err
		}
		return s.replace(ctx, updated)
	}

	source, err := s.category(ctx, current.CategoryID)
	if err != nil {
		return err
	}
	dest, err := s.category(ctx, next.CategoryID)
	if err != nil {
		return err
	}
	sourceTodos, err := s.todos(ctx, current.CategoryID)
	if err != nil {
		return err
	}
	destTodos, err := s.todos(ctx, next.CategoryID)
	if err != nil {
		return err
	}

	next.Position = len(destTodos)
	moved, err := ent.withTodo(next)
	if err != nil {
		return err
	}
	rest := slices.DeleteFunc(sourceTodos, func(t todoEntity) bool { return t.RowKey == ent.RowKey })

	var tx txn
	tx.replace(moved)
	tx.setTodoCount(source, len(rest))
	tx.setTodoCount(dest, len(destTodos)+1)
	tx.renumberTodos(rest, current.CategoryID, "")
	return s.submit(ctx, &tx)
}

// DeleteTodo removes a todo and renumbers its remaining siblings.
func (s *Storage) DeleteTodo(ctx context.Context, categoryID, id string) error {
	cat, err := s.category(ctx, categoryID)
	if err != nil {
		return err
	}
	siblings, err := s.todos(ctx, categoryID)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(siblings, func(t todoEntity) bool { return t.id() == id })
	if idx < 0 {
		return fmt.Errorf("todo %q in category %q: %w", id, categoryID, domain.ErrNotFound)
	}

	var tx txn
	tx.delete(siblings[idx])
	rest := slices.Delete(siblings, idx, idx+1)
	tx.setTodoCount(cat, len(rest))
	tx.renumberTodos(rest, categoryID, "")
	return s.submit(ctx, &tx)
}

// ReindexPositions assigns positions within a category following orderedIDs,
// which must name every todo of the category exactly once.
func (s *Storage) ReindexPositions(ctx context.Context, categoryID string, orderedIDs []string) error {
	siblings, err := s.todos(ctx, categoryID)
	if err != nil {
		return err
	}
	ordered, err := orderByIDs(siblings, orderedIDs, todoEntity.id)
	if err != nil {
		return err
	}
	var tx txn
	tx.renumberTodos(ordered, categoryID, "")
	return s.submit(ctx, &tx)
}

// MoveTodoAcrossCategories moves a todo to destIndex of another category and
// renumbers both categories. The moved row and both counters are written
// together in the first batch. A non-empty order must match
// the resulting durable id order, otherwise the caller's view is stale and
// ErrTransactionConflict is returned.
func (s *Storage) MoveTodoAcrossCategories(ctx context.Context, fromCategoryID, toCategoryID, todoID string, destIndex int, order domain.MoveOrder) error {
	source, err := s.category(ctx, fromCategoryID)
	if err != nil {
		return err
	}
	dest, err := s.category(ctx, toCategoryID)
	if err != nil {
		return err
	}
	sourceTodos, err := s.todos(ctx, fromCategoryID)
	if err != nil {
		return err
	}
	destTodos, err := s.todos(ctx, toCategoryID)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(sourceTodos, func(t todoEntity) bool { return t.id() == todoID })
	if idx < 0 {
		return fmt.Errorf("todo %q in category %q: %w", todoID, fromCategoryID, domain.ErrNotFound)
	}

	moved := sourceTodos[idx]
	rest := slices.Delete(sourceTodos, idx, idx+1)
	at := min(max(destIndex, 0), len(destTodos))
	landed := slices.Insert(destTodos, at, moved)
	if (order.Source != nil && !slices.Equal(entityIDs(rest, todoEntity.id), order.Source)) ||
		(order.Dest != nil && !slices.Equal(entityIDs(landed, todoEntity.id), order.Dest)) {
		return fmt.Errorf("move of todo %q does not match stored order: %w", todoID, domain.ErrTransactionConflict)
	}

	moved.CategoryID = toCategoryID
	moved.Position = at

	var tx txn
	tx.replace(moved)
	tx.setTodoCount(source, len(rest))
	tx.setTodoCount(dest, len(landed))
	tx.renumberTodos(rest, fromCategoryID, "")
	tx.renumberTodos(landed, toCategoryID, moved.RowKey)
	return s.submit(ctx, &tx)
}

func (s *Storage) categories(ctx context.Context) ([]categoryEntity, error) {
	filter := eq("PartitionKey", s.boardID) + " and " + eq("Kind", categoryKind)
	ents, err := listEntities[categoryEntity](ctx, s.table, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ents, func(i, j int) bool { return ents[i].Position < ents[j].Position })
	return ents, nil
}

func (s *Storage) todos(ctx context.Context, categoryID string) ([]todoEntity, error) {
	filter := eq("PartitionKey", s.boardID) + " and " + eq("Kind", todoKind) + " and " + eq("CategoryID", categoryID)
	ents, err := listEntities[todoEntity](ctx, s.table, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ents, func(i, j int) bool { return ents[i].Position < ents[j].Position })
	return ents, nil
}

func (s *Storage) category(ctx context.Context, id string) (categoryEntity, error) {
	var ent categoryEntity
	if err := s.get(ctx, categoryPrefix+id, &ent.ETag, &ent); err != nil {
		return categoryEntity{}, fmt.Errorf("category %q: %w", id, err)
	}
	return ent, nil
}

func (s *Storage) todo(ctx context.Context, id string) (todoEntity, error) {
	var ent todoEntity
	if err := s.get(ctx, todoPrefix+id, &ent.ETag, &ent); err != nil {
		return todoEntity{}, fmt.Errorf("todo %q: %w", id, err)
	}
	return ent, nil
}

func (s *Storage) get(ctx context.Context, rowKey string, etag *string, v any) error {
	resp, err := s.table.GetEntity(ctx, s.boardID, rowKey, nil)
	if err != nil {
		return classify(err)
	}
	if err := json.Unmarshal(resp.Value, v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", domain.ErrPersistence, rowKey, err)
	}
	if resp.ETag != "" {
		*etag = string(resp.ETag)
	}
	return nil
}

func (s *Storage) replace(ctx context.Context, ent tableEntity) error {
	payload, err := ent.payload()
	if err != nil {
		return err
	}
	etag := azcore.ETagAny
	if e := ent.etag(); e != "" {
		etag = azcore.ETag(e)
	}
	_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		return classify(err)
	}
	return nil
}

// submit writes the actions in order, in batches of at most
// maxTransactionActions. Every row appears once in tx, so the etags read
// before the first batch stay valid for the later ones.
func (s *Storage) submit(ctx context.Context, tx *txn) error {
	if tx.err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, tx.err)
	}
	batches := (len(tx.actions) + maxTransactionActions - 1) / maxTransactionActions
	batch := 0
	for actions := range slices.Chunk(tx.actions, maxTransactionActions) {
		batch++
		if _, err := s.table.SubmitTransaction(ctx, actions, nil); err != nil {
			var respErr *azcore.ResponseError
			if errors.As(err, &respErr) {
				return fmt.Errorf("%w: batch %d of %d: %w", domain.ErrTransactionConflict, batch, batches, err)
			}
			return fmt.Errorf("%w: batch %d of %d: %w", domain.ErrPersistence, batch, batches, err)
		}
	}
	return nil
}

type tableEntity interface {
	keys() (string, string)
	etag() string
	payload() ([]byte, error)
}

// txn collects the actions of one write, in submission order.
type txn struct {
	actions []aztables.TransactionAction
	err     error
}

func (t *txn) add(ent tableEntity)     { t.push(aztables.TransactionTypeAdd, ent) }
func (t *txn) replace(ent tableEntity) { t.push(aztables.TransactionTypeUpdateReplace, ent) }
func (t *txn) delete(ent tableEntity)  { t.push(aztables.TransactionTypeDelete, ent) }

func (t *txn) push(typ aztables.TransactionType, ent tableEntity) {
	if t.err != nil {
		return
	}
	var payload []byte
	var err error
	if typ == aztables.TransactionTypeDelete {
		pk, rk := ent.keys()
		payload, err = json.Marshal(map[string]string{"PartitionKey": pk, "RowKey": rk})
	} else {
		payload, err = ent.payload()
	}
	if err != nil {
		t.err = err
		return
	}
	action := aztables.TransactionAction{ActionType: typ, Entity: payload}
	if typ != aztables.TransactionTypeAdd {
		etag := azcore.ETagAny
		if e := ent.etag(); e != "" {
			etag = azcore.ETag(e)
		}
		action.IfMatch = &etag
	}
	t.actions = append(t.actions, action)
}

// renumberTodos replaces every todo of list whose position or category does
// not match its index in list. The row named by except is already part of
// the transaction.
func (t *txn) renumberTodos(list []todoEntity, categoryID, except string) {
	for i, e := range list {
		if e.RowKey == except || (e.Position == i && e.CategoryID == categoryID) {
			continue
		}
		e.Position = i
		e.CategoryID = categoryID
		t.replace(e)
	}
}

func (t *txn) renumberCategories(list []categoryEntity) {
	for i, e := range list {
		if e.Position == i {
			continue
		}
		e.Position = i
		t.replace(e)
	}
}

func (t *txn) setTodoCount(cat categoryEntity, n int) {
	if cat.TodoCount == n {
		return
	}
	cat.TodoCount = n
	t.replace(cat)
}

func listEntities[T any](ctx context.Context, table tableClient, filter string) ([]T, error) {
	pager := table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []T{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, raw := range resp.Entities {
			var ent T
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, fmt.Errorf("%w: decode entity: %w", domain.ErrPersistence, err)
			}
			out = append(out, ent)
		}
	}
	return out, nil
}

// orderByIDs arranges list following ids. Unknown ids are ErrNotFound; a
// different member count means the stored list changed underneath the
// caller.
func orderByIDs[T any](list []T, ids []string, id func(T) string) ([]T, error) {
	byID := make(map[string]T, len(list))
	for _, item := range list {
		byID[id(item)] = item
	}
	out := make([]T, 0, len(ids))
	for _, key := range ids {
		item, ok := byID[key]
		if !ok {
			return nil, fmt.Errorf("%q: %w", key, domain.ErrNotFound)
		}
		delete(byID, key)
		out = append(out, item)
	}
	if len(byID) > 0 || len(out) != len(list) {
		return nil, fmt.Errorf("order names %d of %d stored rows: %w", len(out), len(list), domain.ErrTransactionConflict)
	}
	return out, nil
}

func entityIDs[T any](list []T, id func(T) string) []string {
	out := make([]string, len(list))
	for i, item := range list {
		out[i] = id(item)
	}
	return out
}

func eq(field, value string) string {
	return field + " eq '" + strings.ReplaceAll(value, "'", "''") + "'"
}

// classify maps Azure response errors of single-entity calls onto the domain
// error taxonomy.
func classify(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
		case http.StatusConflict, http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %w", domain.ErrTransactionConflict, err)
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}
