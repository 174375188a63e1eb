package repo

import (
	"strconv"
	"strings"
)

type placeholderStyle int

const (
	dollarPlaceholders placeholderStyle = iota
	questionPlaceholders
)

// filter собирает набор равенств для WHERE. Значения всегда уходят в args.
type filter struct {
	style   placeholderStyle
	clauses []string
	args    []any
}

func newFilter(style placeholderStyle) *filter {
	return &filter{style: style}
}

func (f *filter) bind(value any) string {
	f.args = append(f.args, value)
	if f.style == questionPlaceholders {
		return "?"
	}
	return "$" + strconv.Itoa(len(f.args))
}

// eq добавляет "column = value". Обязательные колонки передаются с required=true.
func (f *filter) eq(column, value string, required bool) {
	if value == "" && !required {
		return
	}
	f.clauses = append(f.clauses, column+" = "+f.bind(value))
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

// listQuery строит выборку последних записей: новые первыми, id как tie-breaker.
func listQuery(table string, columns []string, f *filter, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(table)
	b.WriteString(f.where())
	b.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ")
	b.WriteString(f.bind(limit))
	return b.String(), f.args
}

var (
	memoryColumns   = []string{"id", "tenant_id", "user_id", "session_id", "content", "message_type", "metadata", "created_at"}
	feedbackColumns = []string{"id", "tenant_id", "user_id", "response_id", "rating", "feedback_text", "metadata", "created_at"}
)

func memoryListQuery(style placeholderStyle, tenantID, userID, sessionID string, limit int) (string, []any) {
	f := newFilter(style)
	f.eq("tenant_id", tenantID, true)
	f.eq("user_id", userID, false)
	f.eq("session_id", sessionID, false)
	return listQuery(memoryTable, memoryColumns, f, limit)
}

func feedbackListQuery(style placeholderStyle, tenantID, userID, responseID string, limit int) (string, []any) {
	f := newFilter(style)
	f.eq("tenant_id", tenantID, true)
	f.eq("user_id", userID, false)
	f.eq("response_id", responseID, false)
	return listQuery(feedbackTable, feedbackColumns, f, limit)
}

func insertQuery(style placeholderStyle, table string, columns []string) string {
	f := newFilter(style)
	marks := make([]string, len(columns))
	for i := range columns {
		marks[i] = f.bind(nil)
	}
	return "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
}
