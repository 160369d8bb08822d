package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontract "todo-backend/contracts/mq"
	"todo-backend/internal/model"
	"todo-backend/pkg/metrics"
	"todo-backend/pkg/otel"
	"todo-backend/pkg/outbox"
	"todo-backend/pkg/trace"
)

const taskColumns = `id, title, description, status, priority, due_date, created_at, updated_at`

// TaskRepository 任务表读写；所有写操作与 outbox 事件在同一事务中提交
type TaskRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewTaskRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{db: db, outbox: outboxRepo, logger: logger}
}

// Create 插入任务，created_at 与 updated_at 取同一个事务时间
func (r *TaskRepository) Create(ctx context.Context, t *model.Task) (*model.Task, error) {
	query := `
        INSERT INTO tasks (title, description, status, priority, due_date, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
        RETURNING ` + taskColumns

	var created *model.Task
	err := r.observe(ctx, "insert", query, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			var err error
			created, err = scanTask(tx.QueryRow(ctx, query,
				t.Title, t.Description, int16(t.Status), int16(t.Priority), t.DueDate,
			))
			if err != nil {
				return err
			}
			return r.emit(ctx, tx, mqcontract.RoutingKeyTaskCreated, created)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return created, nil
}

// Get 根据 ID 获取任务
func (r *TaskRepository) Get(ctx context.Context, id int64) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	var t *model.Task
	err := r.observe(ctx, "select", query, func(ctx context.Context) error {
		var err error
		t, err = scanTask(r.db.QueryRow(ctx, query, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// List 按 due_date 升序（空值在后）分页列出任务
func (r *TaskRepository) List(ctx context.Context, limit, offset int) ([]*model.Task, error) {
	query := `
        SELECT ` + taskColumns + `
        FROM tasks
        ORDER BY due_date ASC NULLS LAST, id ASC
        LIMIT $1 OFFSET $2
    `

	tasks := make([]*model.Task, 0, limit)
	err := r.observe(ctx, "select", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Count 任务总数
func (r *TaskRepository) Count(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM tasks`

	var n int64
	err := r.observe(ctx, "count", query, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// Update 在事务内锁定行、合并字段并写回；updated_at 保证严格递增
func (r *TaskRepository) Update(ctx context.Context, id int64, u model.TaskUpdate) (*model.Task, error) {
	selectQuery := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 FOR UPDATE`
	updateQuery := `
        UPDATE tasks
        SET title = $2, description = $3, status = $4, priority = $5, due_date = $6,
            updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
        WHERE id = $1
        RETURNING ` + taskColumns

	var updated *model.Task
	err := r.observe(ctx, "update", updateQuery, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			current, err := scanTask(tx.QueryRow(ctx, selectQuery, id))
			if err != nil {
				return err
			}
			before := current.Status

			u.Apply(current)
			updated, err = scanTask(tx.QueryRow(ctx, updateQuery,
				id, current.Title, current.Description, int16(current.Status), int16(current.Priority), current.DueDate,
			))
			if err != nil {
				return err
			}

			if err := r.emit(ctx, tx, mqcontract.RoutingKeyTaskUpdated, updated); err != nil {
				return err
			}
			if before != model.StatusDone && updated.Status == model.StatusDone {
				return r.emit(ctx, tx, mqcontract.RoutingKeyTaskCompleted, updated)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrTaskNotFound
		}
		return nil, fmt.Errorf("update task %d: %w", id, err)
	}
	return updated, nil
}

// Delete 删除任务
func (r *TaskRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM tasks WHERE id = $1 RETURNING ` + taskColumns

	err := r.observe(ctx, "delete", query, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			deleted, err := scanTask(tx.QueryRow(ctx, query, id))
			if err != nil {
				return err
			}
			return r.emit(ctx, tx, mqcontract.RoutingKeyTaskDeleted, deleted)
		})
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrTaskNotFound
		}
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

// Summary 一条语句统计总数与已完成数
func (r *TaskRepository) Summary(ctx context.Context) (model.Summary, error) {
	query := `
        SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 2)
        FROM tasks
    `

	var s model.Summary
	err := r.observe(ctx, "summary", query, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query).Scan(&s.TotalTasks, &s.CompletedTasks)
	})
	if err != nil {
		return model.Summary{}, fmt.Errorf("summarize tasks: %w", err)
	}
	return s, nil
}

func (r *TaskRepository) emit(ctx context.Context, tx pgx.Tx, routingKey string, t *model.Task) error {
	payload := mqcontract.TaskEventPayload{
		TaskID:     t.ID,
		Title:      t.Title,
		Status:     int(t.Status),
		Priority:   int(t.Priority),
		DueDate:    t.DueDate,
		OccurredAt: time.Now().UTC(),
		TraceID:    trace.FromContext(ctx),
	}
	if err := r.outbox.Append(ctx, tx, mqcontract.AggregateTask, t.ID, routingKey, payload); err != nil {
		r.logger.Error("Failed to write outbox event",
			zap.String("routing_key", routingKey),
			zap.Int64("task_id", t.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// observe 为一次数据库操作加上 span 与耗时指标
func (r *TaskRepository) observe(ctx context.Context, operation, query string, fn func(context.Context) error) error {
	start := time.Now()
	err := otel.Query(ctx, operation, query, fn)
	metrics.RecordDBQueryDuration(operation, "tasks", time.Since(start))
	return err
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var (
		t                model.Task
		status, priority int16
	)
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&status,
		&priority,
		&t.DueDate,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = model.Status(status)
	t.Priority = model.Priority(priority)
	return &t, nil
}
