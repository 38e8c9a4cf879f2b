package results

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"startup-analyst/internal/shared/util"
)

// reader wraps one raw record and remembers which fields could not be
// interpreted, so the caller can log them once per record.
type reader struct {
	m      map[string]any
	issues []string
}

func newReader(m map[string]any) *reader {
	if m == nil {
		m = map[string]any{}
	}
	return &reader{m: m}
}

func (r *reader) has(keys ...string) bool {
	for _, key := range keys {
		if v, ok := r.m[key]; ok && v != nil {
			return true
		}
	}
	return false
}

func (r *reader) str(keys ...string) string {
	for _, key := range keys {
		switch v := r.m[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func (r *reader) num(keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := r.m[key]
		if !ok || v == nil {
			continue
		}
		if n, ok := toFloat(v); ok {
			return n, true
		}
		r.issues = append(r.issues, key)
	}
	return 0, false
}

// sub returns a nested object. A nested object serialized as a JSON string
// is decoded; anything else yields an empty reader.
func (r *reader) sub(keys ...string) *reader {
	for _, key := range keys {
		switch v := r.m[key].(type) {
		case map[string]any:
			return newReader(v)
		case string:
			var m map[string]any
			if err := json.Unmarshal([]byte(v), &m); err == nil && m != nil {
				return newReader(m)
			}
			r.issues = append(r.issues, key)
		}
	}
	return newReader(nil)
}

// list reads a string list that may arrive natively or serialized. A value
// that cannot be parsed yields an empty list.
func (r *reader) list(keys ...string) []string {
	for _, key := range keys {
		v, ok := r.m[key]
		if !ok || v == nil {
			continue
		}
		out, ok := toStringList(v)
		if !ok {
			r.issues = append(r.issues, key)
			return []string{}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{}
}

func (r *reader) timestamp(keys ...string) (time.Time, bool) {
	for _, key := range keys {
		v, ok := r.m[key]
		if !ok || v == nil {
			continue
		}
		if ts, ok := toTime(v); ok {
			return ts, true
		}
		r.issues = append(r.issues, key)
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
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
	case bool:
		return 0, false
	case string:
		return ExtractNumeric(n)
	default:
		return 0, false
	}
}

// ExtractNumeric parses figures such as "$1,200,000" or "45%". Currency
// symbols, separators and other text are ignored.
func ExtractNumeric(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	negative := strings.HasPrefix(s, "-")
	var b strings.Builder
	dot := false
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch == '.' && !dot:
			dot = true
			b.WriteRune(ch)
		}
	}
	clean := strings.TrimSuffix(b.String(), ".")
	if clean == "" || clean == "." {
		return 0, false
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}

func toStringList(v any) ([]string, bool) {
	switch items := v.(type) {
	case []string:
		return compactStrings(items), true
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case float64:
				out = append(out, strconv.FormatFloat(s, 'f', -1, 64))
			}
		}
		return compactStrings(out), true
	case string:
		trimmed := strings.TrimSpace(items)
		if trimmed == "" {
			return []string{}, true
		}
		var decoded []any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return nil, false
		}
		return toStringList(decoded)
	default:
		return nil, false
	}
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// toTime accepts ISO strings, unix seconds or millis, and document-store
// timestamp objects ({"seconds":..,"nanoseconds":..}).
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if ts, ok := util.ParseTimestamp(t); ok {
			return ts, true
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil && f > 0 {
			return util.TimeFromUnix(f), true
		}
		return time.Time{}, false
	case float64:
		if t <= 0 {
			return time.Time{}, false
		}
		return util.TimeFromUnix(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil || f <= 0 {
			return time.Time{}, false
		}
		return util.TimeFromUnix(f), true
	case time.Time:
		return t.UTC(), !t.IsZero()
	case map[string]any:
		obj := newReader(t)
		sec, ok := obj.num("seconds", "_seconds")
		if !ok {
			return time.Time{}, false
		}
		nanos, _ := obj.num("nanoseconds", "_nanoseconds")
		return time.Unix(int64(sec), int64(nanos)).UTC(), true
	default:
		return time.Time{}, false
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
