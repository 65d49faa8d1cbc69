package board

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aliftan/zero-kanban/domain"
)

const (
	tracerName        = "github.com/aliftan/zero-kanban/board"
	provisionalPrefix = "tmp-"
)

// Persistence is the durable copy of the board. Multi-document writes must be
// all-or-nothing.
type Persistence interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListTodos(ctx context.Context, categoryID string) ([]domain.Todo, error)
	CreateCategory(ctx context.Context, title string, position int) (string, error)
	UpdateCategory(ctx context.Context, id, title string) error
	// DeleteCategory removes the category and all of its todos and renumbers
	// the remaining categories.
	DeleteCategory(ctx context.Context, id string) error
	ReorderCategories(ctx context.Context, orderedIDs []string) error
	// CreateTodo stores todo at todo.Position, shifting the siblings at or
	// after that position down by one.
	CreateTodo(ctx context.Context, categoryID string, todo domain.Todo) (string, error)
	// UpdateTodo merges upd into the todo. A CategoryID naming another
	// category re-parents the todo to the end of that category and renumbers
	// both sides.
	UpdateTodo(ctx context.Context, id string, upd domain.TodoUpdate) error
	// DeleteTodo removes the todo and renumbers its remaining siblings.
	DeleteTodo(ctx context.Context, categoryID, id string) error
	ReindexPositions(ctx context.Context, categoryID string, orderedIDs []string) error
	MoveTodoAcrossCategories(ctx context.Context, fromCategoryID, toCategoryID, todoID string, destIndex int, order domain.MoveOrder) error
}

// Publisher receives events for changes that have been persisted.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the destination for board change events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithIDGenerator overrides how provisional ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// Service applies board mutations optimistically to the Store and persists
// them, restoring the previous state when persistence fails.
//
// Operations are serialized: each one observes the state left by the
// previous one and its rollback snapshot can never clobber another
// operation's effect. Readers are not blocked while a persist is in flight.
type Service struct {
	mu    sync.Mutex
	store *Store
	st    Persistence
	pub   Publisher
	log   *log.Logger
	newID func() string
	now   func() time.Time
}

// NewService creates a Service mutating store and persisting through st.
func NewService(st Persistence, store *Store, logger *log.Logger, opts ...Option) *Service {
	if st == nil {
		panic("board.NewService: persistence is nil")
	}
	if store == nil {
		store = NewStore(nil)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Service{
		store: store,
		st:    st,
		log:   logger,
		newID: func() string { return provisionalPrefix + uuid.NewString() },
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Categories returns the current, possibly optimistic, board state.
func (s *Service) Categories() []domain.Category {
	return s.store.Categories()
}

// Search returns the board filtered by term. It never touches persistence.
func (s *Service) Search(term string) []domain.Category {
	return domain.Filter(s.store.Categories(), term)
}

// Refresh replaces the whole board with the durable state. On failure the
// current state is left untouched.
func (s *Service) Refresh(ctx context.Context) (err error) {
	ctx, span := startSpan(ctx, "Refresh")
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	categories, err := s.st.ListCategories(ctx)
	if err != nil {
		err = classify(err)
		s.log.WithError(err).Error("refresh: list categories")
		return err
	}
	for i := range categories {
		todos, err := s.st.ListTodos(ctx, categories[i].ID)
		if err != nil {
			err = classify(err)
			s.log.WithError(err).WithField("category", categories[i].ID).Error("refresh: list todos")
			return err
		}
		if todos == nil {
			todos = []domain.Todo{}
		}
		categories[i].Todos = todos
	}
	domain.SortByPosition(categories)
	s.store.Replace(categories)
	span.SetAttributes(attribute.Int("board.categories", len(categories)))
	s.log.WithField("categories", len(categories)).Debug("board refreshed")
	return nil
}

// AddCategory appends a new category at the end of the board.
func (s *Service) AddCategory(ctx context.Context, title string) (cat domain.Category, err error) {
	ctx, span := startSpan(ctx, "AddCategory")
	defer func() { endSpan(span, err) }()

	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Category{}, fmt.Errorf("category title is empty: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.store.Snapshot()
	provisional := s.newID()
	cat = domain.Category{ID: provisional, Title: title, Todos: []domain.Todo{}}
	next := domain.InsertAt(s.store.Snapshot(), cat, len(snapshot))
	cat.Position = next[len(next)-1].Position

	var id string
	err = s.commit(ctx, log.Fields{"op": "AddCategory", "category": provisional}, snapshot, next, func(ctx context.Context) error {
		var err error
		id, err = s.st.CreateCategory(ctx, title, cat.Position)
		return err
	})
	if err != nil {
		return domain.Category{}, err
	}
	if id != "" && id != provisional {
		s.resolveCategoryID(provisional, id)
		cat.ID = id
	}
	span.SetAttributes(attribute.String("board.category_id", cat.ID))
	s.publish(ctx, domain.Event{EntityType: "category", EntityID: cat.ID, Type: domain.CategoryCreated}, cat)
	return cat, nil
}

// UpdateCategory renames a category in place.
func (s *Service) UpdateCategory(ctx context.Context, id, title string) (err error) {
	ctx, span := startSpan(ctx, "UpdateCategory", attribute.String("board.category_id", id))
	defer func() { endSpan(span, err) }()

	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("category title is empty: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.store.Snapshot()
	next := s.store.Snapshot()
	ci := domain.FindCategory(next, id)
	if ci < 0 {
		return fmt.Errorf("category %q: %w", id, domain.ErrNotFound)
	}
	next[ci].Title = title

	err = s.commit(ctx, log.Fields{"op": "UpdateCategory", "category": id}, snapshot, next, func(ctx context.Context) error {
		return s.st.UpdateCategory(ctx, id, title)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, domain.Event{EntityType: "category", EntityID: id, Type: domain.CategoryUpdated}, map[string]string{"title": title})
	return nil
}

// DeleteCategory removes a category with all of its todos and renumbers the
// remaining categories.
func (s *Service) DeleteCategory(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "DeleteCategory", attribute.String("board.category_id", id))
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.store.Snapshot()
	next, err := domain.RemoveByID(s.store.Snapshot(), id)
	if err != nil {
		return fmt.Errorf("category: %w", err)
	}

	err = s.commit(ctx, log.Fields{"op": "DeleteCategory", "category": id}, snapshot, next, func(ctx context.Context) error {
		return s.st.DeleteCategory(ctx, id)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, domain.Event{EntityType: "category", EntityID: id, Type: domain.CategoryDeleted}, nil)
	return nil
}

// MoveCategory moves a category to toIndex using drag-and-drop semantics.
func (s *Service) MoveCategory(ctx context.Context, id string, toIndex int) (err error) {
	ctx, span := startSpan(ctx, "MoveCategory", attribute.String("board.category_id", id), attribute.Int("board.to_index", toIndex))
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.store.Snapshot()
	from := domain.FindCategory(snapshot, id)
	if from < 0 {
		return fmt.Errorf("category %q: %w", id, domain.ErrNotFound)
	}
	next, err := domain.MoveWithinList(s.store.Snapshot(), from, toIndex)
	if err != nil {
		return err
	}
	order := domain.IDs(next)
	if slices.Equal(order, domain.IDs(snapshot)) {
		return nil
	}

	err = s.commit(ctx, log.Fields{"op": "MoveCategory", "category": id}, snapshot, next, func(ctx context.Context) error {
		return s.st.ReorderCategories(ctx, order)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, domain.Event{EntityType: "category", EntityID: id, Type: domain.CategoriesReordered}, map[string][]string{"order": order})
	return nil
}

// AddTodo prepends a new todo to a category, shifting its siblings down.
func (s *Service) AddTodo(ctx context.Context, categoryID, content string) (todo domain.Todo, err error) {
	ctx, span := startSpan(ctx, "AddTodo", attribute.String("board.category_id", categoryID))
	defer func() { endSpan(span, err) }()

	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Todo{}, fmt.Errorf("todo content is empty: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.store.Snapshot()
	next := s.store.Snapshot()
	ci := domain.FindCategory(next, categoryID)
	if ci < 0 {
		return domain.Todo{}, fmt.Errorf("category %q: %w", categoryID, domain.ErrNotFound)
	}
	provisional := s.newID()
	todo = domain.Todo{ID: provisional, Content: content, CategoryID: categoryID, Position: 0}
	next[ci].Todos = domain.InsertAt(next[ci].Todos, todo, 0)

	var id string
	err = s.commit(ctx, log.Fields{"op": "AddTodo", "category": categoryID, "todo": provisional}, snapshot, next, func(ctx context.Context) error {
		durable := todo
		durable.ID = ""
		var err error
		id, err = s.st.CreateTodo(ctx, categoryID, durable)
		return err
	})
	if err != nil {
		return domain.Todo{}, err
	}
	if id != "" && id != provisional {
		s.resolveTodoID(categoryID, provisional, id)
		todo.ID = id
	}
	span.SetAttributes(attribute.String("board.todo_id", todo.ID))
	s.publish(ctx, domain.Event{EntityType: "todo", EntityID: todo.ID, Type: domain.TodoCreated}, todo)
	return todo, nil
}

// UpdateTodo merges updates into a todo. When updates names a different
// category the todo is moved to the end of that category.
func (s *Service) UpdateTodo(ctx context.Context, todoID, currentCategoryID string, updates domain.TodoUpdate) (todo domain.Todo, err error) {
	ctx, span := startSpan(ctx, "UpdateTodo", attribute.String("board.todo_id", todoID), attribute.String("board.category_id", currentCategoryID))
	defer func() { endSpan(span, err) }()

	updates, err = normalizeUpdate(updates)
	if err != nil {
		return domain.Todo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateTodoLocked(ctx, todoID, currentCategoryID, updates)
}

// ToggleTodo flips the completion flag of a todo.
func (s *Service) ToggleTodo(ctx context.Context, categoryID, todoID string) (todo domain.Todo, err error) {
	ctx, span := startSpan(ctx, "ToggleTodo", attribute.String("board.todo_id", todoID), attribute.String("board.category_id", categoryID))
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.lookupTodo(categoryID, todoID)
	if err != nil {
		return domain.Todo{}, err
	}
	done := !current.IsCompleted
	return s.updateTodoLocked(ctx, todoID, categoryID, domain.TodoUpdate{IsCompleted: &done})
}

func (s *Service) updateTodoLocked(ctx context.Context, todoID, currentCategoryID string, updates domain.TodoUpdate) (domain.Todo, error) {
	snapshot := s.store.Snapshot()
	next := s.store.Snapshot()
	ci := domain.FindCategory(next, currentCategoryID)
	if ci < 0 {
		return domain.Todo{}, fmt.Errorf("category %q: %w", currentCategoryID, domain.ErrNotFound)
	}
	ti := domain.FindTodo(next[ci].Todos, todoID)
	if ti < 0 {
		return domain.Todo{}, fmt.Errorf("todo %q in category %q: %w", todoID, currentCategoryID, domain.ErrNotFound)
	}

	var todo domain.Todo
	fields := log.Fields{"op": "UpdateTodo", "category": currentCategoryID, "todo": todoID}
	if updates.CategoryID != nil && *updates.CategoryID != currentCategoryID {
		destID := *updates.CategoryID
		di := domain.FindCategory(next, destID)
		if di < 0 {
			return domain.Todo{}, fmt.Errorf("destination category %q: %w", destID, domain.ErrNotFound)
		}
		moved := updates.Apply(next[ci].Todos[ti])
		next[ci].Todos, _ = domain.RemoveByID(next[ci].Todos, todoID)
		next[di].Todos = domain.InsertAt(next[di].Todos, moved, len(next[di].Todos))
		todo = next[di].Todos[len(next[di].Todos)-1]
		fields["destination"] = destID
	} else {
		inPlace := updates
		inPlace.CategoryID = nil
		next[ci].Todos[ti] = inPlace.Apply(next[ci].Todos[ti])
		todo = next[ci].Todos[ti]
	}

	err := s.commit(ctx, fields, snapshot, next, func(ctx context.Context) error {
		return s.st.UpdateTodo(ctx, todoID, updates)
	})
	if err != nil {
		return domain.Todo{}, err
	}
	s.publish(ctx, domain.Event{EntityType: "todo", EntityID: todoID, Type: domain.TodoUpdated}, updates)
	return todo.Clone(), nil
}

// DeleteTodo removes a todo and renumbers its remaining siblings.
func (s *Service) DeleteTodo(ctx context.Context, categoryID, todoID string) (err error) {
	ctx, span := startSpan(ctx, "DeleteTodo", attribute.String("board.todo_id", todoID), attribute.String("board.category_id", categoryID))
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.store.Snapshot()
	next := s.store.Snapshot()
	ci := domain.FindCategory(next, categoryID)
	if ci < 0 {
		return fmt.Errorf("category %q: %w", categoryID, domain.ErrNotFound)
	}
	next[ci].Todos, err = domain.RemoveByID(next[ci].Todos, todoID)
	if err != nil {
		return fmt.Errorf("todo in category %q: %w", categoryID, err)
	}

	err = s.commit(ctx, log.Fields{"op": "DeleteTodo", "category": categoryID, "todo": todoID}, snapshot, next, func(ctx context.Context) error {
		return s.st.DeleteTodo(ctx, categoryID, todoID)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, domain.Event{EntityType: "todo", EntityID: todoID, Type: domain.TodoDeleted}, map[string]string{"categoryId": categoryID})
	return nil
}

// MoveTodo handles a drag-and-drop of a todo to destIndex of
// destCategoryID. destIndex past the end appends.
func (s *Service) MoveTodo(ctx context.Context, sourceCategoryID, destCategoryID, todoID string, destIndex int) (err error) {
	ctx, span := startSpan(ctx, "MoveTodo",
		attribute.String("board.todo_id", todoID),
		attribute.String("board.source_category_id", sourceCategoryID),
		attribute.String("board.dest_category_id", destCategoryID),
		attribute.Int("board.dest_index", destIndex),
	)
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.store.Snapshot()
	next := s.store.Snapshot()
	si := domain.FindCategory(next, sourceCategoryID)
	if si < 0 {
		return fmt.Errorf("source category %q: %w", sourceCategoryID, domain.ErrNotFound)
	}
	from := domain.FindTodo(next[si].Todos, todoID)
	if from < 0 {
		return fmt.Errorf("todo %q in category %q: %w", todoID, sourceCategoryID, domain.ErrNotFound)
	}
	fields := log.Fields{"op": "MoveTodo", "category": sourceCategoryID, "destination": destCategoryID, "todo": todoID}

	var persist func(ctx context.Context) error
	var landed int
	if sourceCategoryID == destCategoryID {
		moved, err := domain.MoveWithinList(next[si].Todos, from, destIndex)
		if err != nil {
			return err
		}
		order := domain.IDs(moved)
		if slices.Equal(order, domain.IDs(next[si].Todos)) {
			return nil
		}
		next[si].Todos = moved
		landed = domain.FindTodo(moved, todoID)
		persist = func(ctx context.Context) error {
			return s.st.ReindexPositions(ctx, sourceCategoryID, order)
		}
	} else {
		di := domain.FindCategory(next, destCategoryID)
		if di < 0 {
			return fmt.Errorf("destination category %q: %w", destCategoryID, domain.ErrNotFound)
		}
		source, dest, err := domain.MoveAcrossLists(next[si].Todos, next[di].Todos, todoID, destCategoryID, destIndex)
		if err != nil {
			return err
		}
		next[si].Todos, next[di].Todos = source, dest
		landed = domain.FindTodo(dest, todoID)
		order := domain.MoveOrder{Source: domain.IDs(source), Dest: domain.IDs(dest)}
		persist = func(ctx context.Context) error {
			return s.st.MoveTodoAcrossCategories(ctx, sourceCategoryID, destCategoryID, todoID, landed, order)
		}
	}

	if err = s.commit(ctx, fields, snapshot, next, persist); err != nil {
		return err
	}
	s.publish(ctx, domain.Event{EntityType: "todo", EntityID: todoID, Type: domain.TodoMoved}, domain.TodoMovedEventData{
		FromCategoryID: sourceCategoryID,
		ToCategoryID:   destCategoryID,
		DestIndex:      landed,
	})
	return nil
}

// commit makes next visible immediately and persists it. When persist fails
// the snapshot is restored and the classified error returned. The persist
// call is not cancelled with ctx: once started it resolves to success or
// rollback.
func (s *Service) commit(ctx context.Context, fields log.Fields, snapshot, next []domain.Category, persist func(ctx context.Context) error) error {
	s.store.Replace(next)
	if err := persist(context.WithoutCancel(ctx)); err != nil {
		s.store.Replace(snapshot)
		err = classify(err)
		s.log.WithFields(fields).WithError(err).Error("board operation failed, local state restored")
		return err
	}
	s.log.WithFields(fields).Debug("board operation persisted")
	return nil
}

func (s *Service) lookupTodo(categoryID, todoID string) (domain.Todo, error) {
	categories := s.store.Snapshot()
	ci := domain.FindCategory(categories, categoryID)
	if ci < 0 {
		return domain.Todo{}, fmt.Errorf("category %q: %w", categoryID, domain.ErrNotFound)
	}
	ti := domain.FindTodo(categories[ci].Todos, todoID)
	if ti < 0 {
		return domain.Todo{}, fmt.Errorf("todo %q in category %q: %w", todoID, categoryID, domain.ErrNotFound)
	}
	return categories[ci].Todos[ti], nil
}

func (s *Service) resolveCategoryID(provisional, id string) {
	current := s.store.Snapshot()
	ci := domain.FindCategory(current, provisional)
	if ci < 0 {
		return
	}
	current[ci].ID = id
	for i := range current[ci].Todos {
		current[ci].Todos[i].CategoryID = id
	}
	s.store.Replace(current)
}

func (s *Service) resolveTodoID(categoryID, provisional, id string) {
	current := s.store.Snapshot()
	ci := domain.FindCategory(current, categoryID)
	if ci < 0 {
		return
	}
	ti := domain.FindTodo(current[ci].Todos, provisional)
	if ti < 0 {
		return
	}
	current[ci].Todos[ti].ID = id
	s.store.Replace(current)
}

func (s *Service) publish(ctx context.Context, ev domain.Event, data any) {
	if s.pub == nil {
		return
	}
	if data != nil {
		payload, err := sonic.Marshal(data)
		if err != nil {
			s.log.WithError(err).WithField("type", ev.Type).Error("Unable to encode event data")
			return
		}
		ev.Data = payload
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = s.now().UnixMilli()
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.WithError(err).WithFields(log.Fields{"type": ev.Type, "entity": ev.EntityID}).Error("Unable to publish board event")
	}
}

func normalizeUpdate(upd domain.TodoUpdate) (domain.TodoUpdate, error) {
	if upd.IsEmpty() {
		return upd, fmt.Errorf("todo update has no fields: %w", domain.ErrValidation)
	}
	if upd.Content != nil {
		content := strings.TrimSpace(*upd.Content)
		if content == "" {
			return upd, fmt.Errorf("todo content is empty: %w", domain.ErrValidation)
		}
		upd.Content = &content
	}
	if upd.DueDate != nil && *upd.DueDate != "" {
		if _, err := time.Parse(domain.DueDateLayout, *upd.DueDate); err != nil {
			return upd, fmt.Errorf("due date %q: %w", *upd.DueDate, domain.ErrValidation)
		}
	}
	if upd.CategoryID != nil && strings.TrimSpace(*upd.CategoryID) == "" {
		return upd, fmt.Errorf("category id is empty: %w", domain.ErrValidation)
	}
	if upd.Tags != nil {
		tags := domain.NormalizeTags(*upd.Tags)
		upd.Tags = &tags
	}
	return upd, nil
}

// classify makes sure every persistence error carries one of the domain
// sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrPersistence),
		errors.Is(err, domain.ErrTransactionConflict):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
}

func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "board."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
