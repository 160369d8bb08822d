package task

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todo-backend/internal/model"
)

func tokyo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	return loc
}

func fieldErrors(t *testing.T, err error) map[string][]string {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	return verr.Fields
}

func TestSerializer_DecodeCreate(t *testing.T) {
	s := NewSerializer(tokyo(t))

	u, err := s.Decode([]byte(`{
		"id": 99,
		"title": "買い物",
		"description": null,
		"status": 1,
		"priority": "2",
		"due_date": "2024-05-01T10:00:00+09:00",
		"created_at": "ignored",
		"unknown": true
	}`), ModeCreate)
	require.NoError(t, err)

	require.NotNil(t, u.Title)
	assert.Equal(t, "買い物", *u.Title)
	assert.True(t, u.DescriptionSet)
	assert.Nil(t, u.Description)
	assert.Equal(t, model.StatusInProgress, *u.Status)
	assert.Equal(t, model.PriorityHigh, *u.Priority)
	require.True(t, u.DueDateSet)
	assert.True(t, u.DueDate.Equal(time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)))
}

func TestSerializer_DecodeErrors(t *testing.T) {
	s := NewSerializer(time.UTC)

	tests := []struct {
		name  string
		body  string
		mode  Mode
		field string
		want  string
	}{
		{"missing title", `{}`, ModeCreate, "title", "This field is required."},
		{"missing title on replace", `{"status": 1}`, ModeReplace, "title", "This field is required."},
		{"empty title", `{"title": ""}`, ModeCreate, "title", "This field may not be blank."},
		{"blank title", `{"title": "   "}`, ModePartial, "title", "This field may not be blank."},
		{"null title", `{"title": null}`, ModeCreate, "title", "This field may not be null."},
		{"number title", `{"title": 12}`, ModeCreate, "title", "Not a valid string."},
		{"long title", `{"title": "` + strings.Repeat("あ", 256) + `"}`, ModeCreate, "title", "Ensure this field has no more than 255 characters."},
		{"bad status", `{"title": "a", "status": 3}`, ModeCreate, "status", `"3" is not a valid choice.`},
		{"string status", `{"title": "a", "status": "x"}`, ModeCreate, "status", "A valid integer is required."},
		{"fractional status", `{"title": "a", "status": 1.5}`, ModeCreate, "status", "A valid integer is required."},
		{"fractional string priority", `{"title": "a", "priority": "1.5"}`, ModeCreate, "priority", "A valid integer is required."},
		{"whole float out of range", `{"title": "a", "status": 3.0}`, ModeCreate, "status", `"3" is not a valid choice.`},
		{"null priority", `{"priority": null}`, ModePartial, "priority", "This field may not be null."},
		{"bad priority", `{"priority": -1}`, ModePartial, "priority", `"-1" is not a valid choice.`},
		{"bad due date", `{"title": "a", "due_date": "tomorrow"}`, ModeCreate, "due_date",
			"Datetime has wrong format. Use one of these formats instead: YYYY-MM-DDThh:mm[:ss[.uuuuuu]][+HH:MM|-HH:MM|Z]."},
		{"bad description", `{"description": []}`, ModePartial, "description", "Not a valid string."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Decode([]byte(tt.body), tt.mode)
			fields := fieldErrors(t, err)
			assert.Equal(t, []string{tt.want}, fields[tt.field])
		})
	}
}

func TestSerializer_DecodeTrimsTitle(t *testing.T) {
	s := NewSerializer(time.UTC)

	u, err := s.Decode([]byte(`{"title": "  buy milk \n"}`), ModeCreate)
	require.NoError(t, err)
	assert.Equal(t, "buy milk", *u.Title)

	// 长度按去除空白后计算
	padded := "  " + strings.Repeat("a", 255) + "  "
	u, err = s.Decode([]byte(`{"title": "`+padded+`"}`), ModeCreate)
	require.NoError(t, err)
	assert.Len(t, *u.Title, 255)
}

func TestSerializer_DecodeWholeNumbers(t *testing.T) {
	s := NewSerializer(time.UTC)

	tests := []struct {
		name string
		body string
		want model.Status
	}{
		{"float", `{"status": 1.0}`, model.StatusInProgress},
		{"float string", `{"status": "2.0"}`, model.StatusDone},
		{"exponent", `{"status": 2e0}`, model.StatusDone},
		{"padded string", `{"status": " 1 "}`, model.StatusInProgress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := s.Decode([]byte(tt.body), ModePartial)
			require.NoError(t, err)
			require.NotNil(t, u.Status)
			assert.Equal(t, tt.want, *u.Status)
		})
	}
}

func TestNewSerializer_RegistersNotBlank(t *testing.T) {
	var s *Serializer
	require.NotPanics(t, func() { s = NewSerializer(nil) })
	assert.Equal(t, time.UTC, s.Location())

	_, err := s.Decode([]byte(`{"title": "\t"}`), ModeCreate)
	assert.Equal(t, []string{"This field may not be blank."}, fieldErrors(t, err)["title"])
}

func TestSerializer_DecodeCollectsAllFields(t *testing.T) {
	s := NewSerializer(time.UTC)

	_, err := s.Decode([]byte(`{"title": "", "status": 9, "due_date": 5}`), ModeCreate)
	fields := fieldErrors(t, err)
	assert.Len(t, fields, 3)
	assert.Contains(t, err.Error(), "title: This field may not be blank.")
}

func TestSerializer_DecodePartialAllowsEmpty(t *testing.T) {
	s := NewSerializer(time.UTC)

	u, err := s.Decode(nil, ModePartial)
	require.NoError(t, err)
	assert.True(t, u.Empty())
}

func TestSerializer_DecodeParseError(t *testing.T) {
	s := NewSerializer(time.UTC)

	for _, body := range []string{`{"title":`, `[1, 2]`, `"text"`} {
		_, err := s.Decode([]byte(body), ModeCreate)
		var perr *ParseError
		require.ErrorAs(t, err, &perr, body)
		assert.True(t, strings.HasPrefix(perr.Error(), "JSON parse error - "))
	}
}

func TestSerializer_ParseTime(t *testing.T) {
	loc := tokyo(t)
	s := NewSerializer(loc)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T10:00:00Z", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-05-01T10:00:00.5-05:00", time.Date(2024, 5, 1, 15, 0, 0, 500000000, time.UTC)},
		{"2024-05-01T10:00+0900", time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)},
		{"2024-05-01 10:00:00", time.Date(2024, 5, 1, 10, 0, 0, 0, loc)},
		{"2024-05-01T10:00", time.Date(2024, 5, 1, 10, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		got, err := s.ParseTime(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %s", tt.in, got)
	}

	_, err := s.ParseTime("2024-05-01")
	assert.Error(t, err)
}

func TestSerializer_Encode(t *testing.T) {
	s := NewSerializer(tokyo(t))

	created := time.Date(2024, 5, 1, 0, 0, 0, 123456789, time.UTC)
	due := time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC)
	desc := "milk"
	resp := s.Encode(&model.Task{
		ID:          7,
		Title:       "buy",
		Description: &desc,
		Status:      model.StatusDone,
		Priority:    model.PriorityMedium,
		DueDate:     &due,
		CreatedAt:   created,
		UpdatedAt:   created,
	})

	assert.Equal(t, int64(7), resp.ID)
	assert.Equal(t, 2, resp.Status)
	assert.Equal(t, 1, resp.Priority)
	assert.Equal(t, "2024-05-01T09:00:00.123456+09:00", resp.CreatedAt)
	require.NotNil(t, resp.DueDate)
	assert.Equal(t, "2024-05-02T12:00:00+09:00", *resp.DueDate)

	resp = s.Encode(&model.Task{ID: 8, Title: "no due", CreatedAt: created, UpdatedAt: created})
	assert.Nil(t, resp.DueDate)
	assert.Nil(t, resp.Description)
}

func TestSerializer_FormatTimeUTC(t *testing.T) {
	s := NewSerializer(time.UTC)
	assert.Equal(t, "2024-05-01T00:00:00Z", s.FormatTime(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
}
