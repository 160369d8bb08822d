// Package tasktest 提供测试用的内存实现。
package tasktest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"todo-backend/internal/model"
)

// MemoryStore 内存版任务存储，排序与时间戳规则（微秒精度、updated_at 严格递增）和 PostgreSQL 实现一致
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]model.Task
	now    func() time.Time

	// Err 非空时所有操作返回该错误
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[int64]model.Task), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, t *model.Task) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	m.nextID++
	created := *t
	created.ID = m.nextID
	created.CreatedAt = m.now().Truncate(time.Microsecond)
	created.UpdatedAt = created.CreatedAt
	m.tasks[created.ID] = created
	return &created, nil
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	t, ok := m.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	return &t, nil
}

func (m *MemoryStore) List(_ context.Context, limit, offset int) ([]*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	all := make([]model.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].DueDate, all[j].DueDate
		switch {
		case a == nil && b == nil:
			return all[i].ID < all[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		default:
			return all[i].ID < all[j].ID
		}
	})

	out := []*model.Task{}
	for i := offset; i < len(all) && len(out) < limit; i++ {
		t := all[i]
		out = append(out, &t)
	}
	return out, nil
}

func (m *MemoryStore) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return int64(len(m.tasks)), nil
}

func (m *MemoryStore) Update(_ context.Context, id int64, u model.TaskUpdate) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	t, ok := m.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	u.Apply(&t)
	now := m.now().Truncate(time.Microsecond)
	if !now.After(t.UpdatedAt) {
		now = t.UpdatedAt.Add(time.Microsecond)
	}
	t.UpdatedAt = now
	m.tasks[id] = t
	return &t, nil
}

func (m *MemoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if _, ok := m.tasks[id]; !ok {
		return model.ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *MemoryStore) Summary(_ context.Context) (model.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Summary{}, m.Err
	}

	s := model.Summary{TotalTasks: int64(len(m.tasks))}
	for _, t := range m.tasks {
		if t.Status == model.StatusDone {
			s.CompletedTasks++
		}
	}
	return s, nil
}

// ErrCacheDown 模拟缓存不可用
var ErrCacheDown = errors.New("cache down")

// MemoryCache 内存版汇总缓存，记录调用次数
type MemoryCache struct {
	mu      sync.Mutex
	value   *model.Summary
	Down    bool
	Hits    int
	Sets    int
	Invalid int
}

func (c *MemoryCache) Get(_ context.Context) (model.Summary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Down {
		return model.Summary{}, false, ErrCacheDown
	}
	if c.value == nil {
		return model.Summary{}, false, nil
	}
	c.Hits++
	return *c.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, s model.Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Down {
		return ErrCacheDown
	}
	c.Sets++
	c.value = &s
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Down {
		return ErrCacheDown
	}
	c.Invalid++
	c.value = nil
	return nil
}
