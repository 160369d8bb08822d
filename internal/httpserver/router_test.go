package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"todo-backend/internal/handler"
	"todo-backend/internal/service/task"
	"todo-backend/internal/service/task/tasktest"
	"todo-backend/pkg/trace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	engine *gin.Engine
	store  *tasktest.MemoryStore
}

func newTestServer(t *testing.T, basePath string, checks ...ReadinessCheck) *testServer {
	t.Helper()

	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	store := tasktest.NewMemoryStore()
	svc := task.NewService(store, &tasktest.MemoryCache{}, zap.NewNop())
	h := handler.NewTaskHandler(svc, task.NewSerializer(loc), handler.PageConfig{DefaultSize: 3, MaxSize: 100}, zap.NewNop())

	engine := NewRouter(Options{
		Tasks:    h,
		Checks:   checks,
		BasePath: basePath,
		Logger:   zap.NewNop(),
	})
	return &testServer{engine: engine, store: store}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Host = "example.com"
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) create(t *testing.T, body string) task.TaskResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/todo/", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[task.TaskResponse](t, w)
}

type envelope struct {
	Links struct {
		Next     *string `json:"next"`
		Previous *string `json:"previous"`
	} `json:"links"`
	Count    int64               `json:"count"`
	PageSize int                 `json:"page_size"`
	Results  []task.TaskResponse `json:"results"`
}

func TestCreate_EmptyTitleFails(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodPost, "/todo/", `{"title": ""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"title": ["This field may not be blank."]}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/todo/", `{"description": "no title"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"title": ["This field is required."]}`, w.Body.String())
}

func TestCreate_Valid(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodPost, "/todo/", `{"title": "牛乳を買う", "priority": 2, "due_date": "2024-05-01T10:00:00Z"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName))

	got := decode[task.TaskResponse](t, w)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "牛乳を買う", got.Title)
	assert.Nil(t, got.Description)
	assert.Equal(t, 0, got.Status)
	assert.Equal(t, 2, got.Priority)
	require.NotNil(t, got.DueDate)
	assert.Equal(t, "2024-05-01T19:00:00+09:00", *got.DueDate)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
	assert.True(t, strings.HasSuffix(got.CreatedAt, "+09:00"))
}

func TestCreate_MalformedJSON(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodPost, "/todo/", `{"title": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]string](t, w)
	assert.True(t, strings.HasPrefix(body["detail"], "JSON parse error - "))
}

func TestList_OrderedAndPaginated(t *testing.T) {
	s := newTestServer(t, "")

	s.create(t, `{"title": "no due"}`)
	s.create(t, `{"title": "third", "due_date": "2024-01-03T00:00:00Z"}`)
	s.create(t, `{"title": "first", "due_date": "2024-01-01T00:00:00Z"}`)
	s.create(t, `{"title": "second", "due_date": "2024-01-02T00:00:00Z"}`)

	w := s.do(t, http.MethodGet, "/todo/", "")
	require.Equal(t, http.StatusOK, w.Code)
	env := decode[envelope](t, w)

	assert.Equal(t, int64(4), env.Count)
	assert.Equal(t, 3, env.PageSize)
	require.Len(t, env.Results, 3)
	assert.Equal(t, "first", env.Results[0].Title)
	assert.Equal(t, "second", env.Results[1].Title)
	assert.Equal(t, "third", env.Results[2].Title)
	require.NotNil(t, env.Links.Next)
	assert.Equal(t, "http://example.com/todo/?page=2", *env.Links.Next)
	assert.Nil(t, env.Links.Previous)

	w = s.do(t, http.MethodGet, "/todo/?page=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	env = decode[envelope](t, w)
	require.Len(t, env.Results, 1)
	assert.Equal(t, "no due", env.Results[0].Title)
	assert.Nil(t, env.Links.Next)
	require.NotNil(t, env.Links.Previous)
	assert.Equal(t, "http://example.com/todo/", *env.Links.Previous)
}

func TestList_PageSizeParam(t *testing.T) {
	s := newTestServer(t, "")
	for i := 0; i < 5; i++ {
		s.create(t, `{"title": "t"}`)
	}

	w := s.do(t, http.MethodGet, "/todo/?page_size=2&page=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	env := decode[envelope](t, w)
	assert.Equal(t, 2, env.PageSize)
	assert.Len(t, env.Results, 2)
	require.NotNil(t, env.Links.Next)
	assert.Equal(t, "http://example.com/todo/?page=3&page_size=2", *env.Links.Next)
	require.NotNil(t, env.Links.Previous)
	assert.Equal(t, "http://example.com/todo/?page_size=2", *env.Links.Previous)
}

func TestList_EmptyAndInvalidPage(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodGet, "/todo/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"links": {"next": null, "previous": null}, "count": 0, "page_size": 3, "results": []}`, w.Body.String())

	for _, target := range []string{"/todo/?page=2", "/todo/?page=abc", "/todo/?page=0"} {
		w = s.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, w.Code, target)
		assert.JSONEq(t, `{"detail": "Invalid page."}`, w.Body.String(), target)
	}
}

func TestRetrieve(t *testing.T) {
	s := newTestServer(t, "")
	created := s.create(t, `{"title": "a", "description": "d"}`)

	w := s.do(t, http.MethodGet, "/todo/1/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created, decode[task.TaskResponse](t, w))

	for _, target := range []string{"/todo/99/", "/todo/abc/"} {
		w = s.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, w.Code, target)
		assert.JSONEq(t, `{"detail": "Not found."}`, w.Body.String())
	}
}

func TestPatch_ChangesOnlyGivenFields(t *testing.T) {
	s := newTestServer(t, "")
	created := s.create(t, `{"title": "a", "description": "d", "priority": 1}`)

	w := s.do(t, http.MethodPatch, "/todo/1/", `{"status": 2, "id": 50, "created_at": "2000-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[task.TaskResponse](t, w)

	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "a", got.Title)
	assert.Equal(t, "d", *got.Description)
	assert.Equal(t, 1, got.Priority)
	assert.Equal(t, 2, got.Status)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)

	before, err := time.Parse(time.RFC3339Nano, created.UpdatedAt)
	require.NoError(t, err)
	after, err := time.Parse(time.RFC3339Nano, got.UpdatedAt)
	require.NoError(t, err)
	assert.True(t, after.After(before))

	w = s.do(t, http.MethodPatch, "/todo/1/", `{"status": 5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"status": ["\"5\" is not a valid choice."]}`, w.Body.String())
}

func TestPut_RequiresTitle(t *testing.T) {
	s := newTestServer(t, "")
	s.create(t, `{"title": "a", "description": "keep"}`)

	w := s.do(t, http.MethodPut, "/todo/1/", `{"status": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"title": ["This field is required."]}`, w.Body.String())

	w = s.do(t, http.MethodPut, "/todo/1/", `{"title": "b", "due_date": null}`)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[task.TaskResponse](t, w)
	assert.Equal(t, "b", got.Title)
	assert.Equal(t, "keep", *got.Description)
	assert.Nil(t, got.DueDate)

	w = s.do(t, http.MethodPut, "/todo/7/", `{"title": "b"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDelete(t *testing.T) {
	s := newTestServer(t, "")
	s.create(t, `{"title": "a"}`)

	w := s.do(t, http.MethodDelete, "/todo/1/", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = s.do(t, http.MethodGet, "/todo/1/", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/todo/1/", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSummary(t *testing.T) {
	s := newTestServer(t, "/api")

	for _, body := range []string{`{"title": "a", "status": 2}`, `{"title": "b", "status": 1}`, `{"title": "c"}`} {
		w := s.do(t, http.MethodPost, "/api/todo/", body)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := s.do(t, http.MethodGet, "/api/todo/summary/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total_tasks": 3, "completed_tasks": 1}`, w.Body.String())

	w = s.do(t, http.MethodPatch, "/api/todo/2/", `{"status": 2}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/todo/summary/", "")
	assert.JSONEq(t, `{"total_tasks": 3, "completed_tasks": 2}`, w.Body.String())
}

func TestStoreFailureIs500(t *testing.T) {
	s := newTestServer(t, "")
	s.store.Err = errors.New("connection reset")

	w := s.do(t, http.MethodGet, "/todo/", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"detail": "A server error occurred."}`, w.Body.String())
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := ReadinessCheck{Name: "db", Check: func(context.Context) error { return nil }}
	broken := ReadinessCheck{Name: "redis", Check: func(context.Context) error { return errors.New("dial tcp: refused") }}

	s := newTestServer(t, "", healthy)
	w := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodHead, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ready"}`, w.Body.String())

	s = newTestServer(t, "", healthy, broken)
	w = s.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "redis_not_ready", decode[map[string]string](t, w)["status"])
}

func TestTraceIDEchoed(t *testing.T) {
	s := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(trace.HeaderName, "abc123")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, "abc123", w.Header().Get(trace.HeaderName))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	s.do(t, http.MethodGet, "/healthz", "")

	w := s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
}

func TestNormalizeBasePath(t *testing.T) {
	assert.Equal(t, "/", normalizeBasePath(""))
	assert.Equal(t, "/api", normalizeBasePath("api/"))
	assert.Equal(t, "/api", normalizeBasePath("/api"))
}
