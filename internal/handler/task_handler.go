package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"todo-backend/internal/model"
	"todo-backend/internal/pagination"
	"todo-backend/internal/service/task"
	"todo-backend/pkg/logger"
)

const (
	detailNotFound    = "Not found."
	detailInvalidPage = "Invalid page."
	detailServerError = "A server error occurred."
)

// PageConfig 列表分页参数
type PageConfig struct {
	DefaultSize int
	MaxSize     int
}

type TaskHandler struct {
	service    *task.Service
	serializer *task.Serializer
	page       PageConfig
	logger     *zap.Logger
}

func NewTaskHandler(service *task.Service, serializer *task.Serializer, page PageConfig, logger *zap.Logger) *TaskHandler {
	if page.DefaultSize <= 0 {
		page.DefaultSize = 3
	}
	return &TaskHandler{service: service, serializer: serializer, page: page, logger: logger}
}

// List handles GET /todo/
func (h *TaskHandler) List(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	params, err := pagination.ParseParams(c.Request.URL.Query(), h.page.DefaultSize, h.page.MaxSize)
	if err != nil {
		log.Warn("List: invalid page", zap.String("page", c.Query(pagination.PageParam)))
		c.JSON(http.StatusNotFound, gin.H{"detail": detailInvalidPage})
		return
	}

	page, tasks, err := h.service.List(c.Request.Context(), params)
	if err != nil {
		h.fail(c, "List", err)
		return
	}

	env := pagination.NewEnvelope(pagination.RequestURL(c.Request), page, h.serializer.EncodeList(tasks))
	c.JSON(http.StatusOK, env)
}

// Create handles POST /todo/
func (h *TaskHandler) Create(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, "Create", err)
		return
	}

	in, err := h.serializer.Decode(body, task.ModeCreate)
	if err != nil {
		h.fail(c, "Create", err)
		return
	}

	created, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "Create", err)
		return
	}
	c.JSON(http.StatusCreated, h.serializer.Encode(created))
}

// Retrieve handles GET /todo/:id/
func (h *TaskHandler) Retrieve(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	t, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Retrieve", err)
		return
	}
	c.JSON(http.StatusOK, h.serializer.Encode(t))
}

// Update handles PUT /todo/:id/
func (h *TaskHandler) Update(c *gin.Context) {
	h.write(c, "Update", task.ModeReplace)
}

// PartialUpdate handles PATCH /todo/:id/
func (h *TaskHandler) PartialUpdate(c *gin.Context) {
	h.write(c, "PartialUpdate", task.ModePartial)
}

func (h *TaskHandler) write(c *gin.Context, op string, mode task.Mode) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, op, err)
		return
	}

	in, err := h.serializer.Decode(body, mode)
	if err != nil {
		h.fail(c, op, err)
		return
	}

	var t *model.Task
	if mode == task.ModeReplace {
		t, err = h.service.Replace(c.Request.Context(), id, in)
	} else {
		t, err = h.service.Patch(c.Request.Context(), id, in)
	}
	if err != nil {
		h.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, h.serializer.Encode(t))
}

// Destroy handles DELETE /todo/:id/
func (h *TaskHandler) Destroy(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, "Destroy", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Summary handles GET /todo/summary/
func (h *TaskHandler) Summary(c *gin.Context) {
	s, err := h.service.Summary(c.Request.Context())
	if err != nil {
		h.fail(c, "Summary", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// taskID 非整数的 id 与不存在的任务一样返回 404
func (h *TaskHandler) taskID(c *gin.Context) (int64, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		logger.WithTrace(c.Request.Context(), h.logger).Warn("Invalid task id", zap.String("task_id", raw))
		c.JSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
		return 0, false
	}
	return id, true
}

// fail 把错误映射为响应：校验 400，不存在 404，其余 500
func (h *TaskHandler) fail(c *gin.Context, op string, err error) {
	log := logger.WithTrace(c.Request.Context(), h.logger).With(zap.String("op", op))

	var (
		verr *task.ValidationError
		perr *task.ParseError
	)
	switch {
	case errors.As(err, &verr):
		log.Warn("Validation failed", zap.Any("fields", verr.Fields))
		c.JSON(http.StatusBadRequest, verr.Fields)
	case errors.As(err, &perr):
		log.Warn("Malformed request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"detail": perr.Error()})
	case errors.Is(err, task.ErrNotFound):
		log.Warn("Task not found", zap.String("task_id", c.Param("id")))
		c.JSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
	case errors.Is(err, pagination.ErrInvalidPage):
		log.Warn("Invalid page", zap.String("page", c.Query(pagination.PageParam)))
		c.JSON(http.StatusNotFound, gin.H{"detail": detailInvalidPage})
	default:
		log.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": detailServerError})
	}
}
