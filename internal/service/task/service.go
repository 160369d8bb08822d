// Package task 实现任务的增删改查、分页列表与汇总。
package task

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"todo-backend/internal/model"
	"todo-backend/internal/pagination"
	"todo-backend/pkg/logger"
	"todo-backend/pkg/metrics"
)

// Store 任务持久化
type Store interface {
	Create(ctx context.Context, t *model.Task) (*model.Task, error)
	Get(ctx context.Context, id int64) (*model.Task, error)
	List(ctx context.Context, limit, offset int) ([]*model.Task, error)
	Count(ctx context.Context) (int64, error)
	Update(ctx context.Context, id int64, u model.TaskUpdate) (*model.Task, error)
	Delete(ctx context.Context, id int64) error
	Summary(ctx context.Context) (model.Summary, error)
}

// SummaryCache 汇总结果缓存；ok 为 false 表示未命中
type SummaryCache interface {
	Get(ctx context.Context) (s model.Summary, ok bool, err error)
	Set(ctx context.Context, s model.Summary) error
	Invalidate(ctx context.Context) error
}

type Service struct {
	store  Store
	cache  SummaryCache
	logger *zap.Logger
	// 合并并发的汇总查询，避免缓存失效后击穿到数据库
	summaryFlight singleflight.Group
	// 每次写操作递增；汇总查询期间发生写入时结果不回填缓存
	writeGen atomic.Uint64
}

// summaryQueryTimeout 共享的汇总查询不随单个请求取消
const summaryQueryTimeout = 5 * time.Second

// NewService cache 为 nil 时汇总每次直接查库
func NewService(store Store, cache SummaryCache, logger *zap.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger}
}

// Create 新建任务；未给出的字段取默认值
func (s *Service) Create(ctx context.Context, in model.TaskUpdate) (*model.Task, error) {
	t := &model.Task{Status: model.StatusNotStarted, Priority: model.PriorityLow}
	in.Apply(t)

	created, err := s.store.Create(ctx, t)
	if err != nil {
		return nil, err
	}

	metrics.IncrementTaskWrite("create")
	s.invalidateSummary(ctx)
	logger.WithTrace(ctx, s.logger).Info("Task created", zap.Int64("task_id", created.ID))
	return created, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*model.Task, error) {
	return s.store.Get(ctx, id)
}

// List 返回确定后的页与该页任务；页码越界返回 pagination.ErrInvalidPage
func (s *Service) List(ctx context.Context, params pagination.Params) (pagination.Page, []*model.Task, error) {
	total, err := s.store.Count(ctx)
	if err != nil {
		return pagination.Page{}, nil, err
	}

	page, err := pagination.Resolve(params, total)
	if err != nil {
		return pagination.Page{}, nil, err
	}
	if total == 0 {
		return page, []*model.Task{}, nil
	}

	tasks, err := s.store.List(ctx, page.Limit(), page.Offset())
	if err != nil {
		return pagination.Page{}, nil, err
	}
	return page, tasks, nil
}

// Replace PUT：payload 中未出现的可变字段保持原值
func (s *Service) Replace(ctx context.Context, id int64, in model.TaskUpdate) (*model.Task, error) {
	return s.update(ctx, "replace", id, in)
}

// Patch 部分更新
func (s *Service) Patch(ctx context.Context, id int64, in model.TaskUpdate) (*model.Task, error) {
	return s.update(ctx, "patch", id, in)
}

func (s *Service) update(ctx context.Context, operation string, id int64, in model.TaskUpdate) (*model.Task, error) {
	updated, err := s.store.Update(ctx, id, in)
	if err != nil {
		return nil, err
	}

	metrics.IncrementTaskWrite(operation)
	s.invalidateSummary(ctx)
	logger.WithTrace(ctx, s.logger).Info("Task updated",
		zap.String("operation", operation),
		zap.Int64("task_id", id),
	)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	metrics.IncrementTaskWrite("delete")
	s.invalidateSummary(ctx)
	logger.WithTrace(ctx, s.logger).Info("Task deleted", zap.Int64("task_id", id))
	return nil
}

// Summary 先查缓存，未命中或缓存出错时查库并回填
func (s *Service) Summary(ctx context.Context) (model.Summary, error) {
	log := logger.WithTrace(ctx, s.logger)

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			log.Warn("Summary cache read failed", zap.Error(err))
		case ok:
			return cached, nil
		}
	}

	// 以写入代数作 key：写入之后到达的请求不会加入写入之前开始的查询
	gen := s.writeGen.Load()
	v, err, _ := s.summaryFlight.Do("summary:"+strconv.FormatUint(gen, 10), func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), summaryQueryTimeout)
		defer cancel()

		summary, err := s.store.Summary(qctx)
		if err != nil {
			return model.Summary{}, err
		}
		if s.cache == nil || s.writeGen.Load() != gen {
			return summary, nil
		}
		if err := s.cache.Set(qctx, summary); err != nil {
			log.Warn("Summary cache write failed", zap.Error(err))
			return summary, nil
		}
		// Set 与并发写入的失效交错时，撤回刚写入的值
		if s.writeGen.Load() != gen {
			if err := s.cache.Invalidate(qctx); err != nil {
				log.Warn("Summary cache invalidation failed", zap.Error(err))
			}
		}
		return summary, nil
	})
	if err != nil {
		return model.Summary{}, err
	}
	return v.(model.Summary), nil
}

func (s *Service) invalidateSummary(ctx context.Context) {
	s.writeGen.Add(1)
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		logger.WithTrace(ctx, s.logger).Warn("Summary cache invalidation failed", zap.Error(err))
	}
}

// IsNotFound 是否为任务不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
