package main

import (
	"math"
	"strings"

	"github.com/danieldreier/anki-mcp/internal/ankiconnect"
)

// Tool arguments arrive as decoded JSON: numbers are float64, arrays are
// []interface{} and objects are map[string]interface{}.

func requiredString(args map[string]interface{}, name string) (string, error) {
	v, _ := args[name].(string)
	if strings.TrimSpace(v) == "" {
		return "", ankiconnect.Validationf("%s must not be empty", name)
	}
	return v, nil
}

func optionalString(args map[string]interface{}, name string) string {
	v, _ := args[name].(string)
	return strings.TrimSpace(v)
}

// requiredText is like requiredString but returns the value untrimmed.
func requiredText(args map[string]interface{}, name string) (string, error) {
	if _, err := requiredString(args, name); err != nil {
		return "", err
	}
	return args[name].(string), nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// intArg reads an optional integer, falling back to def when absent.
func intArg(args map[string]interface{}, name string, def int) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, ankiconnect.Validationf("%s must be an integer", name)
	}
	return int(n), nil
}

func boolArg(args map[string]interface{}, name string, def bool) bool {
	v, ok := args[name].(bool)
	if !ok {
		return def
	}
	return v
}

func positiveID(args map[string]interface{}, name string) (int64, error) {
	id, ok := toInt64(args[name])
	if !ok || id <= 0 {
		return 0, ankiconnect.Validationf("%s must be a positive integer", name)
	}
	return id, nil
}

// idList reads a non-empty list of positive ids.
func idList(args map[string]interface{}, name string) ([]int64, error) {
	raw, _ := args[name].([]interface{})
	if len(raw) == 0 {
		return nil, ankiconnect.Validationf("%s must not be empty", name)
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		id, ok := toInt64(v)
		if !ok || id <= 0 {
			return nil, ankiconnect.Validationf("all %s must be positive integers", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// stringList reads an optional list of strings, dropping blanks.
func stringList(args map[string]interface{}, name string) []string {
	raw, _ := args[name].([]interface{})
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// stringMap reads an object of string values.
func stringMap(args map[string]interface{}, name string) (map[string]string, error) {
	raw, ok := args[name].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, ankiconnect.Validationf("%s.%s must be a string", name, k)
		}
		out[k] = s
	}
	return out, nil
}
