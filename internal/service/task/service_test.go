package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"todo-backend/internal/model"
	"todo-backend/internal/pagination"
	"todo-backend/internal/service/task/tasktest"
)

func strPtr(s string) *string { return &s }

func newTestService() (*Service, *tasktest.MemoryStore, *tasktest.MemoryCache) {
	store := tasktest.NewMemoryStore()
	cache := &tasktest.MemoryCache{}
	return NewService(store, cache, zap.NewNop()), store, cache
}

func TestService_CreateDefaults(t *testing.T) {
	svc, _, _ := newTestService()

	created, err := svc.Create(context.Background(), model.TaskUpdate{Title: strPtr("task")})
	require.NoError(t, err)

	assert.Equal(t, model.StatusNotStarted, created.Status)
	assert.Equal(t, model.PriorityLow, created.Priority)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)
	assert.Nil(t, created.DueDate)
}

func TestService_PatchChangesOnlyGivenFields(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	created, err := svc.Create(ctx, model.TaskUpdate{
		Title:          strPtr("a"),
		DescriptionSet: true,
		Description:    strPtr("desc"),
		DueDateSet:     true,
		DueDate:        &due,
	})
	require.NoError(t, err)

	high := model.PriorityHigh
	patched, err := svc.Patch(ctx, created.ID, model.TaskUpdate{Priority: &high})
	require.NoError(t, err)

	assert.Equal(t, "a", patched.Title)
	assert.Equal(t, "desc", *patched.Description)
	assert.Equal(t, model.PriorityHigh, patched.Priority)
	assert.True(t, due.Equal(*patched.DueDate))
	assert.True(t, patched.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, created.CreatedAt, patched.CreatedAt)
}

func TestService_ReplaceMissing(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Replace(context.Background(), 1, model.TaskUpdate{Title: strPtr("x")})
	assert.True(t, IsNotFound(err))
}

func TestService_DeleteThenGet(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, model.TaskUpdate{Title: strPtr("a")})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, created.ID), ErrNotFound)
}

func TestService_ListPaginates(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 4; i >= 0; i-- {
		due := base.Add(time.Duration(i) * time.Hour)
		_, err := svc.Create(ctx, model.TaskUpdate{Title: strPtr("t"), DueDateSet: true, DueDate: &due})
		require.NoError(t, err)
	}

	page, tasks, err := svc.List(ctx, pagination.Params{Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	require.Len(t, tasks, 2)
	assert.True(t, tasks[0].DueDate.Before(*tasks[1].DueDate))
	assert.True(t, tasks[0].DueDate.Equal(base.Add(3*time.Hour)))

	_, _, err = svc.List(ctx, pagination.Params{Page: 3, PageSize: 3})
	assert.ErrorIs(t, err, pagination.ErrInvalidPage)
}

func TestService_ListEmpty(t *testing.T) {
	svc, _, _ := newTestService()

	page, tasks, err := svc.List(context.Background(), pagination.Params{Page: 1, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Number)
	assert.Empty(t, tasks)
}

func TestService_SummaryUsesCache(t *testing.T) {
	svc, _, cache := newTestService()
	ctx := context.Background()

	done := model.StatusDone
	_, err := svc.Create(ctx, model.TaskUpdate{Title: strPtr("a"), Status: &done})
	require.NoError(t, err)
	_, err = svc.Create(ctx, model.TaskUpdate{Title: strPtr("b")})
	require.NoError(t, err)

	s, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Summary{TotalTasks: 2, CompletedTasks: 1}, s)
	assert.Equal(t, 1, cache.Sets)

	s, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.TotalTasks)
	assert.Equal(t, 1, cache.Hits)

	_, err = svc.Create(ctx, model.TaskUpdate{Title: strPtr("c")})
	require.NoError(t, err)
	s, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.TotalTasks)
	assert.Equal(t, 1, cache.Hits)
}

func TestService_SummaryFallsBackWhenCacheDown(t *testing.T) {
	svc, _, cache := newTestService()
	ctx := context.Background()
	cache.Down = true

	_, err := svc.Create(ctx, model.TaskUpdate{Title: strPtr("a")})
	require.NoError(t, err)

	s, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.TotalTasks)
}

func TestService_SummaryConcurrentMisses(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		_, err := svc.Create(ctx, model.TaskUpdate{Title: strPtr(title)})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	results := make([]model.Summary, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Summary(ctx)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, model.Summary{TotalTasks: 3}, results[i])
	}
}

// blockingSummaryStore 读取计数后阻塞，直到 release 关闭或 ctx 取消
type blockingSummaryStore struct {
	*tasktest.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func newBlockingSummaryStore() *blockingSummaryStore {
	return &blockingSummaryStore{
		MemoryStore: tasktest.NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
}

func (b *blockingSummaryStore) Summary(ctx context.Context) (model.Summary, error) {
	s, err := b.MemoryStore.Summary(ctx)
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return s, err
	case <-ctx.Done():
		return model.Summary{}, ctx.Err()
	}
}

func TestService_SummaryNotCachedAcrossConcurrentWrite(t *testing.T) {
	store := newBlockingSummaryStore()
	cache := &tasktest.MemoryCache{}
	svc := NewService(store, cache, zap.NewNop())
	ctx := context.Background()

	done := make(chan model.Summary)
	go func() {
		s, err := svc.Summary(ctx)
		assert.NoError(t, err)
		done <- s
	}()
	<-store.entered

	// 查询读到旧计数后提交写入
	_, err := svc.Create(ctx, model.TaskUpdate{Title: strPtr("a")})
	require.NoError(t, err)

	close(store.release)
	assert.Equal(t, model.Summary{}, <-done)
	assert.Equal(t, 0, cache.Sets)

	s, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Summary{TotalTasks: 1}, s)

	s, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Summary{TotalTasks: 1}, s)
	assert.Equal(t, 1, cache.Hits)
}

func TestService_SummaryIgnoresCallerCancellation(t *testing.T) {
	store := newBlockingSummaryStore()
	svc := NewService(store, nil, zap.NewNop())
	_, err := svc.Create(context.Background(), model.TaskUpdate{Title: strPtr("a")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		s   model.Summary
		err error
	}
	done := make(chan result)
	go func() {
		s, err := svc.Summary(ctx)
		done <- result{s, err}
	}()
	<-store.entered

	// 发起请求的客户端断开，共享的查询仍然完成
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, model.Summary{TotalTasks: 1}, r.s)
}

func TestService_StoreErrorPropagates(t *testing.T) {
	store := tasktest.NewMemoryStore()
	store.Err = errors.New("connection refused")
	svc := NewService(store, nil, zap.NewNop())

	_, err := svc.Summary(context.Background())
	assert.EqualError(t, err, "connection refused")
	_, _, err = svc.List(context.Background(), pagination.Params{Page: 1, PageSize: 3})
	assert.Error(t, err)
}
