// Package query encodes nested request parameters into the bracketed
// query-string form used by JSON:API style providers, for example
// page[number]=1&page[size]=25&filter[docketId]=ABC.
package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Value is a single parameter value: either a scalar or a nested Params set.
type Value struct {
	scalar string
	params Params
	nested bool
}

// String returns a scalar value.
func String(s string) Value {
	return Value{scalar: s}
}

// Int returns a scalar value holding the decimal form of n.
func Int(n int) Value {
	return Value{scalar: strconv.Itoa(n)}
}

// Nested returns a value that expands into bracketed sub-keys.
func Nested(p Params) Value {
	return Value{params: p, nested: true}
}

// IsNested reports whether v holds a nested parameter set.
func (v Value) IsNested() bool {
	return v.nested
}

// Scalar returns the scalar form of v. It is empty for nested values.
func (v Value) Scalar() string {
	return v.scalar
}

// Params returns the nested parameter set of v.
func (v Value) Params() Params {
	return v.params
}

type entry struct {
	key   string
	value Value
}

// Params is an ordered parameter mapping. Encoding follows insertion order.
// The zero value is an empty set ready to use.
type Params struct {
	entries []entry
}

// Set stores v under key. An existing key keeps its position.
func (p *Params) Set(key string, v Value) *Params {
	for i := range p.entries {
		if p.entries[i].key == key {
			p.entries[i].value = v
			return p
		}
	}
	p.entries = append(p.entries, entry{key: key, value: v})
	return p
}

// Get returns the value stored under key.
func (p Params) Get(key string) (Value, bool) {
	for _, e := range p.entries {
		if e.key == key {
			return e.value, true
		}
	}
	return Value{}, false
}

// Keys returns the keys in insertion order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		keys = append(keys, e.key)
	}
	return keys
}

// Len returns the number of top-level keys.
func (p Params) Len() int {
	return len(p.entries)
}

// Encode serializes p into a query string. Nested sets are expanded
// recursively as prefix[key]=value pairs. Brackets stay literal; key segments
// and values are escaped.
func Encode(p Params) string {
	return strings.Join(appendPairs(nil, "", p), "&")
}

func appendPairs(dst []string, prefix string, p Params) []string {
	for _, e := range p.entries {
		name := escape(e.key)
		if prefix != "" {
			name = prefix + "[" + name + "]"
		}
		if e.value.nested {
			dst = appendPairs(dst, name, e.value.params)
			continue
		}
		dst = append(dst, name+"="+escape(e.value.scalar))
	}
	return dst
}

// escape is url.QueryEscape with spaces as %20, which every server decodes
// the same way.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Parse is the inverse of Encode: it rebuilds the nested parameter set from a
// bracketed query string. Pair order is preserved. A key used both as a
// scalar and as a nested set is an error.
//
// Keys are split on literal brackets before unescaping, so an escaped
// bracket inside a key (a%5Bb%5D) stays part of that key. An empty nested
// set encodes to no pairs at all and comes back absent.
func Parse(raw string) (Params, error) {
	var p Params
	if raw == "" {
		return p, nil
	}

	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")

		path, err := splitKey(rawKey)
		if err != nil {
			return Params{}, err
		}
		for i, segment := range path {
			if path[i], err = url.QueryUnescape(segment); err != nil {
				return Params{}, fmt.Errorf("unescape key %q: %w", rawKey, err)
			}
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return Params{}, fmt.Errorf("unescape value of %q: %w", rawKey, err)
		}

		if err := p.setPath(path, value); err != nil {
			return Params{}, fmt.Errorf("key %q: %w", rawKey, err)
		}
	}

	return p, nil
}

// splitKey turns "filter[lastModifiedDate][ge]" into its still escaped
// segments.
func splitKey(key string) ([]string, error) {
	base, rest, found := strings.Cut(key, "[")
	if base == "" {
		return nil, fmt.Errorf("malformed key %q", key)
	}
	path := []string{base}
	if !found {
		return path, nil
	}

	rest = "[" + rest
	for rest != "" {
		if rest[0] != '[' {
			return nil, fmt.Errorf("malformed key %q", key)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("unclosed bracket in key %q", key)
		}
		path = append(path, rest[1:end])
		rest = rest[end+1:]
	}
	return path, nil
}

func (p *Params) setPath(path []string, value string) error {
	if len(path) == 1 {
		if existing, ok := p.Get(path[0]); ok && existing.IsNested() {
			return fmt.Errorf("%q already holds nested parameters", path[0])
		}
		p.Set(path[0], String(value))
		return nil
	}

	var child Params
	if existing, ok := p.Get(path[0]); ok {
		if !existing.IsNested() {
			return fmt.Errorf("%q already holds a scalar", path[0])
		}
		child = existing.Params()
	}
	if err := child.setPath(path[1:], value); err != nil {
		return err
	}
	p.Set(path[0], Nested(child))
	return nil
}
