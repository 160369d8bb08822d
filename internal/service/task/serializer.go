package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"todo-backend/internal/model"
)

// Mode 决定哪些字段必填
type Mode int

const (
	ModeCreate  Mode = iota // POST：title 必填
	ModeReplace             // PUT：title 必填，其余缺省保持原值
	ModePartial             // PATCH：全部可选
)

const (
	msgRequired  = "This field is required."
	msgNull      = "This field may not be null."
	msgBlank     = "This field may not be blank."
	msgMaxLength = "Ensure this field has no more than %s characters."
	msgString    = "Not a valid string."
	msgInteger   = "A valid integer is required."
	msgChoice    = "\"%s\" is not a valid choice."
	msgDatetime  = "Datetime has wrong format. Use one of these formats instead: YYYY-MM-DDThh:mm[:ss[.uuuuuu]][+HH:MM|-HH:MM|Z]."
)

// taskInput 承载需要规则校验的字段，类型错误在解码阶段已经处理
type taskInput struct {
	Title    *string `json:"title" validate:"omitnil,notblank,max=255"`
	Status   *int    `json:"status" validate:"omitnil,oneof=0 1 2"`
	Priority *int    `json:"priority" validate:"omitnil,oneof=0 1 2"`
}

var trailingZeros = regexp.MustCompile(`\.0*$`)

// maxExactInt float64 能精确表示的最大整数
const maxExactInt = 1 << 53

// 带时区的格式在前，无时区的按服务器时区解释
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04Z07:00",
		"2006-01-02T15:04Z0700",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
	}
)

// Serializer 任务 JSON 与模型之间的转换
type Serializer struct {
	loc      *time.Location
	validate *validator.Validate
}

func NewSerializer(loc *time.Location) *Serializer {
	if loc == nil {
		loc = time.UTC
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(fmt.Sprintf("register notblank validation: %v", err))
	}

	return &Serializer{loc: loc, validate: v}
}

// Location 输出时间使用的时区
func (s *Serializer) Location() *time.Location { return s.loc }

// Decode 解析请求体。返回 *ParseError 或 *ValidationError；未知字段与只读字段忽略
func (s *Serializer) Decode(body []byte, mode Mode) (model.TaskUpdate, error) {
	raw := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return model.TaskUpdate{}, &ParseError{Err: err}
		}
	}

	var (
		u    model.TaskUpdate
		in   taskInput
		verr = &ValidationError{}
	)

	if v, ok := raw["title"]; ok {
		if title, msg := decodeString(v, false); msg != "" {
			verr.Add("title", msg)
		} else {
			// 首尾空白不保存
			trimmed := strings.TrimSpace(*title)
			in.Title = &trimmed
		}
	} else if mode != ModePartial {
		verr.Add("title", msgRequired)
	}

	if v, ok := raw["description"]; ok {
		if desc, msg := decodeString(v, true); msg != "" {
			verr.Add("description", msg)
		} else {
			u.DescriptionSet = true
			u.Description = desc
		}
	}

	if v, ok := raw["status"]; ok {
		if n, msg := decodeInt(v); msg != "" {
			verr.Add("status", msg)
		} else {
			in.Status = &n
		}
	}

	if v, ok := raw["priority"]; ok {
		if n, msg := decodeInt(v); msg != "" {
			verr.Add("priority", msg)
		} else {
			in.Priority = &n
		}
	}

	if v, ok := raw["due_date"]; ok {
		if due, msg := s.decodeTime(v); msg != "" {
			verr.Add("due_date", msg)
		} else {
			u.DueDateSet = true
			u.DueDate = due
		}
	}

	if err := s.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return model.TaskUpdate{}, fmt.Errorf("validate task: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Add(fe.Field(), ruleMessage(fe, in))
		}
	}

	if err := verr.orNil(); err != nil {
		return model.TaskUpdate{}, err
	}

	u.Title = in.Title
	if in.Status != nil {
		st := model.Status(*in.Status)
		u.Status = &st
	}
	if in.Priority != nil {
		p := model.Priority(*in.Priority)
		u.Priority = &p
	}
	return u, nil
}

func ruleMessage(fe validator.FieldError, in taskInput) string {
	switch fe.Tag() {
	case "notblank":
		return msgBlank
	case "max":
		return fmt.Sprintf(msgMaxLength, fe.Param())
	case "oneof":
		var n int
		switch fe.Field() {
		case "status":
			n = *in.Status
		case "priority":
			n = *in.Priority
		}
		return fmt.Sprintf(msgChoice, strconv.Itoa(n))
	default:
		return fmt.Sprintf("Failed on the %q rule.", fe.Tag())
	}
}

func decodeString(v json.RawMessage, nullable bool) (*string, string) {
	if isNull(v) {
		if nullable {
			return nil, ""
		}
		return nil, msgNull
	}
	var str string
	if err := json.Unmarshal(v, &str); err != nil {
		return nil, msgString
	}
	return &str, ""
}

// decodeInt 接受 JSON 整数、小数部分为 0 的数字，以及同样形式的字符串（"2"、"2.0"）
func decodeInt(v json.RawMessage) (int, string) {
	if isNull(v) {
		return 0, msgNull
	}
	var n int
	if err := json.Unmarshal(v, &n); err == nil {
		return n, ""
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		if f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
			return int(f), ""
		}
		return 0, msgInteger
	}
	var str string
	if err := json.Unmarshal(v, &str); err == nil {
		str = trailingZeros.ReplaceAllString(strings.TrimSpace(str), "")
		if n, err := strconv.Atoi(str); err == nil {
			return n, ""
		}
	}
	return 0, msgInteger
}

func (s *Serializer) decodeTime(v json.RawMessage) (*time.Time, string) {
	if isNull(v) {
		return nil, ""
	}
	var str string
	if err := json.Unmarshal(v, &str); err != nil {
		return nil, msgDatetime
	}
	t, err := s.ParseTime(str)
	if err != nil {
		return nil, msgDatetime
	}
	return &t, ""
}

// ParseTime 解析 ISO 8601 时间；没有时区偏移时按服务器时区解释
func (s *Serializer) ParseTime(value string) (time.Time, error) {
	value = strings.Replace(strings.TrimSpace(value), " ", "T", 1)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, s.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", value)
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}

// TaskResponse 任务的 JSON 表示
type TaskResponse struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Status      int     `json:"status"`
	Priority    int     `json:"priority"`
	DueDate     *string `json:"due_date"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Encode 转为响应结构，时间以配置的时区输出
func (s *Serializer) Encode(t *model.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      int(t.Status),
		Priority:    int(t.Priority),
		CreatedAt:   s.FormatTime(t.CreatedAt),
		UpdatedAt:   s.FormatTime(t.UpdatedAt),
	}
	if t.DueDate != nil {
		due := s.FormatTime(*t.DueDate)
		resp.DueDate = &due
	}
	return resp
}

// EncodeList 批量转换
func (s *Serializer) EncodeList(tasks []*model.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, s.Encode(t))
	}
	return out
}

// FormatTime 微秒精度；微秒为 0 时省略小数部分，UTC 输出 Z
func (s *Serializer) FormatTime(t time.Time) string {
	t = t.In(s.loc)
	if t.Nanosecond()/1000 == 0 {
		return t.Format("2006-01-02T15:04:05Z07:00")
	}
	return t.Format("2006-01-02T15:04:05.000000Z07:00")
}
