package datasource

import (
	"fmt"
	"strconv"
	"time"
)

// formatKey converts an identifier into the stable text used as the cache
// key suffix. Two equal identifiers always format identically, so a value
// cached by one call path is found by every other.
func formatKey(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		// covers uuid.UUID and similar opaque identifier types
		return v.String()
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
