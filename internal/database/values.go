package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	nullText          = "NULL"
	sampleCellMaxRune = 100
)

func normalizeValues(values []any) []any {
	for i, value := range values {
		if b, ok := value.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values
}

// FormatValue renders a scanned value the way schema samples and prompts
// show it. nil renders as NULL.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return nullText
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format(time.DateOnly)
		}
		return v.Format(time.DateTime)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}

// ColumnFromRow maps one aliased catalog row onto ColumnInfo.
func ColumnFromRow(row map[string]any) ColumnInfo {
	return ColumnInfo{
		Name:         stringField(row, "column_name"),
		DataType:     stringField(row, "data_type"),
		Nullable:     strings.EqualFold(stringField(row, "is_nullable"), "YES"),
		PrimaryKey:   boolField(row, "is_primary_key"),
		DefaultValue: stringField(row, "column_default"),
		Comment:      stringField(row, "column_comment"),
	}
}

func lookupField(row map[string]any, key string) (any, bool) {
	if value, ok := row[key]; ok {
		return value, true
	}
	for k, value := range row {
		if strings.EqualFold(k, key) {
			return value, true
		}
	}
	return nil, false
}

func stringField(row map[string]any, key string) string {
	value, ok := lookupField(row, key)
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(FormatValue(value))
}

func boolField(row map[string]any, key string) bool {
	value, ok := lookupField(row, key)
	if !ok || value == nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int32:
		return v != 0
	case int:
		return v != 0
	case uint8:
		return v != 0
	case uint64:
		return v != 0
	}
	switch strings.ToLower(strings.TrimSpace(FormatValue(value))) {
	case "1", "t", "true", "yes", "y", "pri":
		return true
	default:
		return false
	}
}
