package token

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// ExpiryBuffer is how long before its deadline a token stops being trusted.
// It absorbs clock skew between this host and the issuing backend.
const ExpiryBuffer = time.Minute

// maxSeconds keeps seconds*1000 inside int64.
const maxSeconds = math.MaxInt64 / 1000

// IsExpired reports whether a token expiring at expMillis (epoch milliseconds)
// must be treated as dead at now. A missing (zero) or negative expiry is expired.
func IsExpired(expMillis int64, now time.Time) bool {
	if expMillis <= 0 {
		return true
	}
	return expMillis < now.Add(ExpiryBuffer).UnixMilli()
}

// isoLayouts are the date string shapes accepted from backend payloads.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeExpiration converts an expiry as found in a login payload into epoch
// milliseconds. Accepted shapes:
//   - ISO-8601 string
//   - number of epoch seconds (JWT "exp" convention)
//   - date-like value: time.Time, anything with UnixMilli(), or an object such as
//     {"_seconds": 1, "_nanoseconds": 0}, {"seconds": 1, "nanos": 0} or {"$date": ...}
//
// The second return value is false when v is missing or cannot be interpreted.
func NormalizeExpiration(v any) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case string:
		return parseISO(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return secondsToMillis(f)
	case float64:
		return secondsToMillis(t)
	case float32:
		return secondsToMillis(float64(t))
	case int:
		return secondsToMillis(float64(t))
	case int32:
		return secondsToMillis(float64(t))
	case int64:
		if t > maxSeconds || t < -maxSeconds {
			return 0, false
		}
		return t * 1000, true
	case uint32:
		return int64(t) * 1000, true
	case *time.Time:
		if t == nil {
			return 0, false
		}
		return dateMillis(*t)
	case time.Time:
		return dateMillis(t)
	case interface{ UnixMilli() int64 }:
		return t.UnixMilli(), true
	case map[string]any:
		return dateObjectMillis(t)
	}
	return 0, false
}

func parseISO(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UnixMilli(), true
		}
	}
	return 0, false
}

func secondsToMillis(sec float64) (int64, bool) {
	if math.IsNaN(sec) || math.IsInf(sec, 0) {
		return 0, false
	}
	if sec > maxSeconds || sec < -maxSeconds {
		return 0, false
	}
	return int64(sec * 1000), true
}

func dateMillis(t time.Time) (int64, bool) {
	if t.IsZero() {
		return 0, false
	}
	return t.UnixMilli(), true
}

// dateObjectMillis handles serialized timestamp objects (Firestore/protobuf
// Timestamp and extended JSON dates).
func dateObjectMillis(obj map[string]any) (int64, bool) {
	if d, ok := obj["$date"]; ok {
		switch dv := d.(type) {
		case string:
			return parseISO(dv)
		case map[string]any:
			// {"$date": {"$numberLong": "1700000000000"}}
			if n, ok := dv["$numberLong"].(string); ok {
				ms, err := json.Number(n).Int64()
				return ms, err == nil
			}
			return 0, false
		default:
			// extended JSON numeric dates are already in milliseconds
			sec, ok := toFloat(dv)
			if !ok {
				return 0, false
			}
			return secondsToMillis(sec / 1000)
		}
	}

	for _, key := range []string{"_seconds", "seconds"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		sec, ok := toFloat(raw)
		if !ok {
			return 0, false
		}
		var nanos float64
		for _, nk := range []string{"_nanoseconds", "nanoseconds", "nanos"} {
			if n, ok := toFloat(obj[nk]); ok {
				nanos = n
				break
			}
		}
		ms, ok := secondsToMillis(sec)
		if !ok {
			return 0, false
		}
		return ms + int64(nanos/1e6), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
