package translate

import (
	"fmt"
	"strings"

	"toolbridge/internal/catalog"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Validator checks structured call arguments against the catalog's declared
// parameter schema before a call crosses to the other protocol.
//
// In strict mode a failing call is not forwarded as a call; the caller
// downgrades it to plain text. Permissive mode forwards calls unvalidated.
type Validator struct {
	Strict bool
}

// ValidateCall verifies argsJSON against the tool's parameter schema and
// returns the arguments with best-effort primitive coercions applied
// (numeric string to number, boolean string to boolean, scalar to string).
// In permissive mode arguments pass through untouched.
func (v *Validator) ValidateCall(tool *catalog.Tool, argsJSON string) (string, error) {
	if !v.Strict {
		return argsJSON, nil
	}
	if tool == nil {
		return argsJSON, fmt.Errorf("unknown tool")
	}
	args := gjson.Parse(argsJSON)
	if !args.IsObject() {
		return argsJSON, fmt.Errorf("arguments are not a JSON object")
	}

	for _, req := range requiredNames(tool.Parameters) {
		if !args.Get(escapePathKey(req)).Exists() {
			return argsJSON, fmt.Errorf("missing required parameter %q", req)
		}
	}

	props, _ := tool.Parameters["properties"].(map[string]any)
	out := argsJSON
	var err error
	args.ForEach(func(key, value gjson.Result) bool {
		schema, _ := props[key.String()].(map[string]any)
		if schema == nil {
			return true
		}
		var coerced string
		var ok bool
		coerced, ok, err = coerceValue(value, schema)
		if err != nil {
			err = fmt.Errorf("parameter %q: %w", key.String(), err)
			return false
		}
		if ok {
			out, _ = sjson.SetRaw(out, escapePathKey(key.String()), coerced)
		}
		return true
	})
	if err != nil {
		return argsJSON, err
	}
	return out, nil
}

// coerceValue checks value against schema. It returns the replacement raw
// JSON and true when a coercion is needed, or an error when the value
// cannot be made to fit.
func coerceValue(value gjson.Result, schema map[string]any) (string, bool, error) {
	if value.Type == gjson.Null {
		// Null pruning against the strict schema happens at render time.
		return "", false, nil
	}

	switch {
	case hasType(schema, "string"):
		if value.Type == gjson.String {
			return "", false, nil
		}
		if value.IsObject() || value.IsArray() {
			return "", false, fmt.Errorf("expected string, got %s", jsonKind(value))
		}
		return encodeJSONString(value.Raw), true, nil

	case hasType(schema, "number") || hasType(schema, "integer"):
		if value.Type == gjson.Number {
			return "", false, nil
		}
		if value.Type == gjson.String {
			trimmed := strings.TrimSpace(value.String())
			if gjson.Valid(trimmed) && gjson.Parse(trimmed).Type == gjson.Number {
				return trimmed, true, nil
			}
		}
		return "", false, fmt.Errorf("expected number, got %s", jsonKind(value))

	case hasType(schema, "boolean"):
		if value.Type == gjson.True || value.Type == gjson.False {
			return "", false, nil
		}
		if value.Type == gjson.String {
			switch strings.TrimSpace(value.String()) {
			case "true":
				return "true", true, nil
			case "false":
				return "false", true, nil
			}
		}
		return "", false, fmt.Errorf("expected boolean, got %s", jsonKind(value))

	case hasType(schema, "array"):
		if !value.IsArray() {
			return "", false, fmt.Errorf("expected array, got %s", jsonKind(value))
		}
		itemSchema, _ := schema["items"].(map[string]any)
		if itemSchema == nil {
			return "", false, nil
		}
		out := value.Raw
		changed := false
		var err error
		idx := 0
		value.ForEach(func(_, item gjson.Result) bool {
			var coerced string
			var ok bool
			coerced, ok, err = coerceValue(item, itemSchema)
			if err != nil {
				return false
			}
			if ok {
				out, _ = sjson.SetRaw(out, fmt.Sprintf("%d", idx), coerced)
				changed = true
			}
			idx++
			return true
		})
		if err != nil {
			return "", false, err
		}
		if changed {
			return out, true, nil
		}
		return "", false, nil

	case hasType(schema, "object"):
		if !value.IsObject() {
			return "", false, fmt.Errorf("expected object, got %s", jsonKind(value))
		}
		props, _ := schema["properties"].(map[string]any)
		for _, req := range requiredNames(schema) {
			if !value.Get(escapePathKey(req)).Exists() {
				return "", false, fmt.Errorf("missing required field %q", req)
			}
		}
		out := value.Raw
		changed := false
		var err error
		value.ForEach(func(key, item gjson.Result) bool {
			sub, _ := props[key.String()].(map[string]any)
			if sub == nil {
				return true
			}
			var coerced string
			var ok bool
			coerced, ok, err = coerceValue(item, sub)
			if err != nil {
				err = fmt.Errorf("field %q: %w", key.String(), err)
				return false
			}
			if ok {
				out, _ = sjson.SetRaw(out, escapePathKey(key.String()), coerced)
				changed = true
			}
			return true
		})
		if err != nil {
			return "", false, err
		}
		if changed {
			return out, true, nil
		}
		return "", false, nil
	}

	// Untyped or union-typed schema slots accept anything.
	return "", false, nil
}

func requiredNames(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func jsonKind(v gjson.Result) string {
	switch {
	case v.IsObject():
		return "object"
	case v.IsArray():
		return "array"
	case v.Type == gjson.String:
		return "string"
	case v.Type == gjson.Number:
		return "number"
	case v.Type == gjson.True, v.Type == gjson.False:
		return "boolean"
	case v.Type == gjson.Null:
		return "null"
	}
	return "unknown"
}
