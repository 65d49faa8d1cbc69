package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/aliftan/zero-kanban/domain"
)

// HeaderIdempotencyKey names the optional header used to reject replays of a
// mutating request.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxBodySize = 64 << 10

var validate = validator.New()

type handlers struct {
	board  Board
	dedupe Deduper
	scope  string
	log    *log.Logger
}

// mutationFunc performs one request and returns the success status and body.
// A returned error is mapped onto the response status by the caller.
type mutationFunc func(c echo.Context, m *requestMetrics) (int, any, error)

// Register wires up all API routes on the provided Echo instance. dedupe may
// be nil, in which case idempotency keys are ignored. scope namespaces the
// idempotency keys, normally the board id.
func Register(e *echo.Echo, board Board, dedupe Deduper, scope string, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handlers{board: board, dedupe: dedupe, scope: scope, log: logger}

	e.GET("/healthz", healthz)
	e.GET("/api/board", h.getBoard)
	e.POST("/api/board/refresh", h.mutation("/api/board/refresh", h.refresh))
	e.POST("/api/categories", h.mutation("/api/categories", h.addCategory))
	e.PATCH("/api/categories/:id", h.mutation("/api/categories/:id", h.updateCategory))
	e.DELETE("/api/categories/:id", h.mutation("/api/categories/:id", h.deleteCategory))
	e.POST("/api/categories/:id/move", h.mutation("/api/categories/:id/move", h.moveCategory))
	e.POST("/api/categories/:id/todos", h.mutation("/api/categories/:id/todos", h.addTodo))
	e.PATCH("/api/categories/:id/todos/:todoId", h.mutation("/api/categories/:id/todos/:todoId", h.updateTodo))
	e.POST("/api/categories/:id/todos/:todoId/toggle", h.mutation("/api/categories/:id/todos/:todoId/toggle", h.toggleTodo))
	e.DELETE("/api/categories/:id/todos/:todoId", h.mutation("/api/categories/:id/todos/:todoId", h.deleteTodo))
	e.POST("/api/todos/:todoId/move", h.mutation("/api/todos/:todoId/move", h.moveTodo))
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *handlers) getBoard(c echo.Context) error {
	m := newRequestMetrics(h.log, c.Request().Method, "/api/board")
	start := time.Now()
	var cats []domain.Category
	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		cats = h.board.Search(q)
	} else {
		cats = h.board.Categories()
	}
	m.ObserveBoard(time.Since(start))
	return h.respond(c, m, http.StatusOK, boardResponse{Categories: cats}, nil)
}

func (h *handlers) mutation(route string, fn mutationFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		m := newRequestMetrics(h.log, c.Request().Method, route)

		key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
		m.SetIdempotencyKey(key != "")
		if key != "" && h.dedupe != nil {
			added, err := h.dedupe.Add(ctx, h.scope, key)
			switch {
			case err != nil:
				h.log.WithError(err).WithField("route", route).Warn("idempotency store unavailable; processing request")
				key = ""
			case !added:
				m.SetErrorStage("duplicate")
				return h.respond(c, m, http.StatusConflict, errorResponse{Error: "duplicate request"}, nil)
			}
		} else {
			key = ""
		}

		status, body, err := fn(c, m)
		if err != nil {
			status = statusFor(err)
			body = errorResponse{Error: err.Error()}
			if key != "" {
				if rerr := h.dedupe.Remove(ctx, h.scope, key); rerr != nil {
					h.log.WithError(rerr).WithField("route", route).Warn("Unable to release idempotency key")
				}
			}
		}
		return h.respond(c, m, status, body, err)
	}
}

func (h *handlers) respond(c echo.Context, m *requestMetrics, status int, body any, opErr error) error {
	var err error
	if body == nil {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		m.SetErrorStage("encode_response")
		opErr = err
	}
	m.Log(status, opErr)
	return err
}

func (h *handlers) refresh(c echo.Context, m *requestMetrics) (int, any, error) {
	if err := observe(m, func() error { return h.board.Refresh(c.Request().Context()) }); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, boardResponse{Categories: h.board.Categories()}, nil
}

func (h *handlers) addCategory(c echo.Context, m *requestMetrics) (int, any, error) {
	var req categoryRequest
	if err := decode(c, m, &req); err != nil {
		return 0, nil, err
	}
	var cat domain.Category
	err := observe(m, func() (err error) {
		cat, err = h.board.AddCategory(c.Request().Context(), req.Title)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, cat, nil
}

func (h *handlers) updateCategory(c echo.Context, m *requestMetrics) (int, any, error) {
	var req categoryRequest
	if err := decode(c, m, &req); err != nil {
		return 0, nil, err
	}
	err := observe(m, func() error {
		return h.board.UpdateCategory(c.Request().Context(), c.Param("id"), req.Title)
	})
	return http.StatusNoContent, nil, err
}

func (h *handlers) deleteCategory(c echo.Context, m *requestMetrics) (int, any, error) {
	err := observe(m, func() error {
		return h.board.DeleteCategory(c.Request().Context(), c.Param("id"))
	})
	return http.StatusNoContent, nil, err
}

func (h *handlers) moveCategory(c echo.Context, m *requestMetrics) (int, any, error) {
	var req moveCategoryRequest
	if err := decode(c, m, &req); err != nil {
		return 0, nil, err
	}
	err := observe(m, func() error {
		return h.board.MoveCategory(c.Request().Context(), c.Param("id"), *req.ToIndex)
	})
	return http.StatusNoContent, nil, err
}

func (h *handlers) addTodo(c echo.Context, m *requestMetrics) (int, any, error) {
	var req todoRequest
	if err := decode(c, m, &req); err != nil {
		return 0, nil, err
	}
	var todo domain.Todo
	err := observe(m, func() (err error) {
		todo, err = h.board.AddTodo(c.Request().Context(), c.Param("id"), req.Content)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, todo, nil
}

func (h *handlers) updateTodo(c echo.Context, m *requestMetrics) (int, any, error) {
	var req updateTodoRequest
	if err := decode(c, m, &req); err != nil {
		return 0, nil, err
	}
	var todo domain.Todo
	err := observe(m, func() (err error) {
		todo, err = h.board.UpdateTodo(c.Request().Context(), c.Param("todoId"), c.Param("id"), req.toUpdate())
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, todo, nil
}

func (h *handlers) toggleTodo(c echo.Context, m *requestMetrics) (int, any, error) {
	var todo domain.Todo
	err := observe(m, func() (err error) {
		todo, err = h.board.ToggleTodo(c.Request().Context(), c.Param("id"), c.Param("todoId"))
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, todo, nil
}

func (h *handlers) deleteTodo(c echo.Context, m *requestMetrics) (int, any, error) {
	err := observe(m, func() error {
		return h.board.DeleteTodo(c.Request().Context(), c.Param("id"), c.Param("todoId"))
	})
	return http.StatusNoContent, nil, err
}

func (h *handlers) moveTodo(c echo.Context, m *requestMetrics) (int, any, error) {
	var req moveTodoRequest
	if err := decode(c, m, &req); err != nil {
		return 0, nil, err
	}
	err := observe(m, func() error {
		return h.board.MoveTodo(c.Request().Context(), req.SourceCategoryID, req.DestCategoryID, c.Param("todoId"), *req.DestIndex)
	})
	return http.StatusNoContent, nil, err
}

// decode reads a JSON body into v and validates it. Failures are reported as
// ErrValidation.
func decode(c echo.Context, m *requestMetrics, v any) error {
	start := time.Now()
	defer func() { m.ObserveDecode(time.Since(start)) }()

	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		m.SetErrorStage("decode")
		return fmt.Errorf("invalid body: %w", domain.ErrValidation)
	}
	if err := validate.Struct(v); err != nil {
		m.SetErrorStage("validate")
		return fmt.Errorf("%s: %w", err.Error(), domain.ErrValidation)
	}
	return nil
}

func observe(m *requestMetrics, fn func() error) error {
	start := time.Now()
	err := fn()
	m.ObserveBoard(time.Since(start))
	if err != nil {
		m.SetErrorStage("board")
	}
	return err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidIndex):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTransactionConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
