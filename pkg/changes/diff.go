// Package changes decides whether a freshly fetched record differs from its
// stored version and records field-level diffs in the record's history.
package changes

import (
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/docket-sync/pkg/record"
)

// Equal reports whether two JSON-shaped values are structurally equal.
// Maps compare by key set and values, lists by length and position. Go-typed
// collections such as []string or map[string]string compare as their JSON
// form.
func Equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, value := range av {
			other, ok := bv[key]
			if !ok || !Equal(value, other) {
				return false
			}
		}
		return true

	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	}

	if _, ok := b.(map[string]any); ok {
		return false
	}
	if _, ok := b.([]any); ok {
		return false
	}
	return equalScalar(a, b)
}

// normalize converts composite values that are not already in decoded JSON
// shape by encoding them and decoding the result.
func normalize(v any) any {
	switch v.(type) {
	case nil, bool, string, json.Number, map[string]any, []any:
		return v
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct, reflect.Pointer:
	default:
		return v
	}

	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func equalScalar(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
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
	default:
		return 0, false
	}
}

// Diff returns the field-level changes that turn before into after. It walks
// maps and lists recursively; lists are compared by index, with extra trailing
// items reported as added or removed. The result is empty iff
// Equal(before, after).
func Diff(before, after any) []record.Change {
	var changes []record.Change
	walk("", before, after, &changes)
	return changes
}

func walk(path string, before, after any, changes *[]record.Change) {
	before, after = normalize(before), normalize(after)
	switch ov := before.(type) {
	case map[string]any:
		if nv, ok := after.(map[string]any); ok {
			diffMaps(path, ov, nv, changes)
			return
		}
	case []any:
		if nv, ok := after.([]any); ok {
			diffLists(path, ov, nv, changes)
			return
		}
	}

	if !Equal(before, after) {
		*changes = append(*changes, record.Change{Path: path, Op: record.OpChanged, Old: before, New: after})
	}
}

func diffMaps(path string, before, after map[string]any, changes *[]record.Change) {
	keys := make([]string, 0, len(before)+len(after))
	for key := range before {
		keys = append(keys, key)
	}
	for key := range after {
		if _, ok := before[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		child := path + "/" + escapePointer(key)
		ov, inOld := before[key]
		nv, inNew := after[key]
		switch {
		case inOld && inNew:
			walk(child, ov, nv, changes)
		case inOld:
			*changes = append(*changes, record.Change{Path: child, Op: record.OpRemoved, Old: ov})
		default:
			*changes = append(*changes, record.Change{Path: child, Op: record.OpAdded, New: nv})
		}
	}
}

func diffLists(path string, before, after []any, changes *[]record.Change) {
	common := min(len(before), len(after))
	for i := 0; i < common; i++ {
		walk(path+"/"+strconv.Itoa(i), before[i], after[i], changes)
	}
	for i := common; i < len(before); i++ {
		*changes = append(*changes, record.Change{Path: path + "/" + strconv.Itoa(i), Op: record.OpRemoved, Old: before[i]})
	}
	for i := common; i < len(after); i++ {
		*changes = append(*changes, record.Change{Path: path + "/" + strconv.Itoa(i), Op: record.OpAdded, New: after[i]})
	}
}

// escapePointer escapes a JSON pointer reference token (RFC 6901).
func escapePointer(token string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(token)
}
