package script

import (
	"strconv"
	"strings"
)

// Params is a parsed view of key=value startup parameters. Entries without
// exactly one '=' are ignored and later keys override earlier ones.
type Params map[string]string

// ParseParams parses raw startup parameters.
func ParseParams(raw []string) Params {
	p := make(Params, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.Contains(value, "=") {
			continue
		}
		p[key] = value
	}
	return p
}

// String returns the raw value for key.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// Int parses the value for key as a base-10 integer.
func (p Params) Int(key string) (int64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

// Float parses the value for key as a float.
func (p Params) Float(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

// Bool parses the value for key with strconv.ParseBool.
func (p Params) Bool(key string) (bool, bool) {
	v, ok := p[key]
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	return b, err == nil
}

// List splits the value for key on commas, dropping empty items.
func (p Params) List(key string) ([]string, bool) {
	v, ok := p[key]
	if !ok {
		return nil, false
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item != "" {
			out = append(out, item)
		}
	}
	return out, true
}

// IntList parses a comma list of integers, skipping unparsable items.
func (p Params) IntList(key string) ([]int64, bool) {
	items, ok := p.List(key)
	if !ok {
		return nil, false
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		if n, err := strconv.ParseInt(item, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out, true
}
