package turnclock

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Epoch magnitude thresholds. Values below secondsLimit are seconds, below millisLimit
// milliseconds, anything larger microseconds.
const (
	secondsLimit = 1e11
	millisLimit  = 1e14
)

// ParseTimestamp reads a ledger timestamp: an RFC3339 string or an integer epoch in
// seconds, milliseconds or microseconds. ok is false for missing or unparseable values.
func ParseTimestamp(v any) (t time.Time, ok bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, !x.IsZero()
	case int:
		return fromEpoch(int64(x))
	case int64:
		return fromEpoch(x)
	case uint64:
		if x > math.MaxInt64 {
			return time.Time{}, false
		}
		return fromEpoch(int64(x))
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxInt64 {
			return time.Time{}, false
		}
		return fromEpoch(int64(x))
	case json.Number:
		return parseString(x.String())
	case string:
		return parseString(x)
	}
	return time.Time{}, false
}

func parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpoch(n)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func fromEpoch(n int64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	switch {
	case n < secondsLimit:
		return time.Unix(n, 0).UTC(), true
	case n < millisLimit:
		return time.UnixMilli(n).UTC(), true
	default:
		return time.UnixMicro(n).UTC(), true
	}
}
