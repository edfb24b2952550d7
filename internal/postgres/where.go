package postgres

import (
	"strconv"
	"strings"
	"time"
)

// whereBuilder accumulates WHERE conditions with numbered placeholders.
// Empty values are skipped, so callers can feed optional filters straight in.
type whereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

func newWhereBuilder() *whereBuilder {
	return &whereBuilder{argIndex: 1}
}

// add appends an equality condition unless the value is empty.
func (wb *whereBuilder) add(column, value string) {
	if value == "" {
		return
	}
	wb.conditions = append(wb.conditions, column+" = $"+strconv.Itoa(wb.argIndex))
	wb.args = append(wb.args, value)
	wb.argIndex++
}

// addTimestampRange appends a half-open [start, end) condition. Zero bounds
// are skipped individually.
func (wb *whereBuilder) addTimestampRange(column string, start, end time.Time) {
	if !start.IsZero() {
		wb.conditions = append(wb.conditions, column+" >= $"+strconv.Itoa(wb.argIndex))
		wb.args = append(wb.args, start)
		wb.argIndex++
	}
	if !end.IsZero() {
		wb.conditions = append(wb.conditions, column+" < $"+strconv.Itoa(wb.argIndex))
		wb.args = append(wb.args, end)
		wb.argIndex++
	}
}

// build returns the assembled clause (including the leading " WHERE", or ""
// when no conditions were added) and the matching args.
func (wb *whereBuilder) build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// nextArgIndex returns the placeholder number the next condition would use.
// Useful when callers append LIMIT/OFFSET placeholders after build.
func (wb *whereBuilder) nextArgIndex() int {
	return wb.argIndex
}

