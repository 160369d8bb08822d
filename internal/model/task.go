package model

import (
	"errors"
	"strconv"
	"time"
)

// ErrTaskNotFound 任务不存在
var ErrTaskNotFound = errors.New("task not found")

// Status 任务状态
type Status int

const (
	StatusNotStarted Status = 0 // 未実施
	StatusInProgress Status = 1 // 実施中
	StatusDone       Status = 2 // 完了
)

// Valid 是否为合法的状态值
func (s Status) Valid() bool {
	return s >= StatusNotStarted && s <= StatusDone
}

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusInProgress:
		return "in_progress"
	case StatusDone:
		return "done"
	default:
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Label 返回界面上展示的标签
func (s Status) Label() string {
	switch s {
	case StatusNotStarted:
		return "未実施"
	case StatusInProgress:
		return "実施中"
	case StatusDone:
		return "完了"
	default:
		return ""
	}
}

// Priority 任务优先级
type Priority int

const (
	PriorityLow    Priority = 0 // 低
	PriorityMedium Priority = 1 // 中
	PriorityHigh   Priority = 2 // 高
)

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "Priority(" + strconv.Itoa(int(p)) + ")"
	}
}

func (p Priority) Label() string {
	switch p {
	case PriorityLow:
		return "低"
	case PriorityMedium:
		return "中"
	case PriorityHigh:
		return "高"
	default:
		return ""
	}
}

type Task struct {
	ID          int64
	Title       string
	Description *string
	Status      Status
	Priority    Priority
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskUpdate 描述一次更新中出现的字段；nil 表示保持原值。
// description 与 due_date 可显式置空，因此用 *Set 标记是否出现。
type TaskUpdate struct {
	Title          *string
	DescriptionSet bool
	Description    *string
	Status         *Status
	Priority       *Priority
	DueDateSet     bool
	DueDate        *time.Time
}

// Apply 把更新合并到 t 上，不修改 id 和时间戳
func (u TaskUpdate) Apply(t *Task) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.DescriptionSet {
		t.Description = u.Description
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.DueDateSet {
		t.DueDate = u.DueDate
	}
}

// Empty 没有任何字段需要修改
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && !u.DescriptionSet && u.Status == nil && u.Priority == nil && !u.DueDateSet
}

// Summary 任务汇总
type Summary struct {
	TotalTasks     int64 `json:"total_tasks"`
	CompletedTasks int64 `json:"completed_tasks"`
}
