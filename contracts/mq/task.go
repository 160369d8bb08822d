package mq

import "time"

// 任务事件 routing key，发布到 events topic exchange
const (
	RoutingKeyTaskCreated   = "task.created"
	RoutingKeyTaskUpdated   = "task.updated"
	RoutingKeyTaskCompleted = "task.completed"
	RoutingKeyTaskDeleted   = "task.deleted"
)

// AggregateTask outbox 中任务事件的聚合类型
const AggregateTask = "task"

// TaskEventPayload 任务变更事件；删除事件只保证 task_id 与 occurred_at
type TaskEventPayload struct {
	TaskID     int64      `json:"task_id"`
	Title      string     `json:"title,omitempty"`
	Status     int        `json:"status"`
	Priority   int        `json:"priority"`
	DueDate    *time.Time `json:"due_date"`
	OccurredAt time.Time  `json:"occurred_at"`
	TraceID    string     `json:"trace_id,omitempty"`
}
