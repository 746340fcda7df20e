package catalog

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// unsupported JSON Schema keywords for strict-mode backends. A schema using
// any of these keeps its original, non-strict form.
var unsupportedStrictKeywords = []string{
	"allOf", "not", "dependentRequired", "dependentSchemas",
	"if", "then", "else", "$anchor", "$dynamicAnchor", "$dynamicRef",
	"$id", "patternProperties", "prefixItems",
	"unevaluatedItems", "unevaluatedProperties",
}

// StrictifySchema rewrites a parameter schema for strict structured output:
// every property becomes required, originally optional properties become
// nullable, and objects forbid additional properties. The input is not
// modified.
func StrictifySchema(schema map[string]any) (map[string]any, error) {
	out, ok := deepCopyJSON(schema).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema is not an object")
	}
	resolved := make(map[string]bool)
	if err := strictifyNode(out, out, resolved); err != nil {
		return nil, err
	}
	return out, nil
}

func strictifyNode(node, root map[string]any, resolvedRefs map[string]bool) error {
	for _, kw := range unsupportedStrictKeywords {
		if _, ok := node[kw]; ok {
			return fmt.Errorf("unsupported schema keyword %q", kw)
		}
	}
	for {
		ref, ok := node["$ref"].(string)
		if !ok {
			break
		}
		target, err := resolveRef(ref, root, resolvedRefs)
		if err != nil {
			return err
		}
		if target == nil {
			return nil
		}
		node = target
	}

	for _, kw := range []string{"anyOf", "oneOf"} {
		subs, _ := node[kw].([]any)
		for _, sub := range subs {
			if m, ok := sub.(map[string]any); ok {
				if err := strictifyNode(m, root, resolvedRefs); err != nil {
					return err
				}
			}
		}
	}

	types := schemaTypes(node)
	if containsString(types, "object") {
		props, _ := node["properties"].(map[string]any)
		originallyRequired := stringSlice(node["required"])
		required := make([]string, 0, len(props))
		for name := range props {
			required = append(required, name)
		}
		node["required"] = required
		node["additionalProperties"] = false

		for name, raw := range props {
			prop, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if !containsString(originallyRequired, name) {
				makeNullable(prop)
			}
			if err := strictifyNode(prop, root, resolvedRefs); err != nil {
				return err
			}
		}
	}
	if containsString(types, "array") {
		items, _ := node["items"].(map[string]any)
		if items == nil {
			items, _ = node["contains"].(map[string]any)
		}
		if items != nil {
			if err := strictifyNode(items, root, resolvedRefs); err != nil {
				return err
			}
		}
	}
	return nil
}

func makeNullable(prop map[string]any) {
	if t, ok := prop["type"]; ok {
		types := schemaTypesOf(t)
		if !containsString(types, "null") {
			merged := make([]any, 0, len(types)+1)
			for _, v := range types {
				merged = append(merged, v)
			}
			prop["type"] = append(merged, "null")
		}
		return
	}
	for _, kw := range []string{"anyOf", "oneOf"} {
		subs, ok := prop[kw].([]any)
		if !ok {
			continue
		}
		for _, sub := range subs {
			if m, ok := sub.(map[string]any); ok && containsString(schemaTypes(m), "null") {
				return
			}
		}
		prop[kw] = append(subs, map[string]any{"type": "null"})
		return
	}
}

// resolveRef follows a "#/..."-style pointer within the root schema. A ref
// seen before resolves to nil to break cycles.
func resolveRef(ref string, root map[string]any, resolved map[string]bool) (map[string]any, error) {
	if resolved[ref] {
		return nil, nil
	}
	resolved[ref] = true
	if !strings.HasPrefix(ref, "#/") {
		return nil, fmt.Errorf("unsupported $ref format: %s", ref)
	}
	var node any = root
	for _, part := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("could not resolve $ref: %s", ref)
		}
		node, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("could not resolve $ref: %s", ref)
		}
	}
	m, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("$ref target is not a schema: %s", ref)
	}
	return m, nil
}

func schemaTypes(node map[string]any) []string {
	return schemaTypesOf(node["type"])
}

func schemaTypesOf(t any) []string {
	switch v := t.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func deepCopyJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopyJSON(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyJSON(e)
		}
		return out
	default:
		return v
	}
}

// PruneNulls removes null values whose schema slot does not admit null,
// preserving the document order of the arguments JSON. Strict-mode backends
// emit explicit nulls for the optional parameters strictification forced
// into the required list; those must not leak into the client's XML.
func PruneNulls(argsJSON string, schema map[string]any) string {
	out, keep := pruneValue(gjson.Parse(argsJSON), schema, schema)
	if !keep {
		return "{}"
	}
	return out
}

// pruneValue returns the pruned raw JSON for value and whether it survives.
func pruneValue(value gjson.Result, schema, root map[string]any) (string, bool) {
	schema = derefSchema(schema, root)

	if subs := subSchemas(schema); len(subs) > 0 {
		if match := resolveVariant(value, subs, root); match != nil {
			schema = match
		}
	}

	types := schemaTypes(schema)

	if value.Type == gjson.Null {
		if containsString(types, "null") {
			return "null", true
		}
		return "", false
	}

	if value.IsObject() && containsString(types, "object") {
		props, _ := schema["properties"].(map[string]any)
		out := "{}"
		value.ForEach(func(key, v gjson.Result) bool {
			propSchema, _ := props[key.String()].(map[string]any)
			if propSchema == nil {
				propSchema = map[string]any{}
			}
			raw, keep := pruneValue(v, propSchema, root)
			if keep {
				out, _ = sjson.SetRaw(out, escapeJSONPath(key.String()), raw)
			}
			return true
		})
		return out, true
	}

	if value.IsArray() && containsString(types, "array") {
		itemSchema, _ := schema["items"].(map[string]any)
		if itemSchema == nil {
			itemSchema, _ = schema["contains"].(map[string]any)
		}
		if itemSchema == nil {
			itemSchema = map[string]any{}
		}
		out := "[]"
		value.ForEach(func(_, v gjson.Result) bool {
			raw, keep := pruneValue(v, itemSchema, root)
			if keep {
				out, _ = sjson.SetRaw(out, "-1", raw)
			}
			return true
		})
		return out, true
	}

	return value.Raw, true
}

func derefSchema(schema, root map[string]any) map[string]any {
	seen := make(map[string]bool)
	for {
		ref, ok := schema["$ref"].(string)
		if !ok {
			return schema
		}
		target, err := resolveRef(ref, root, seen)
		if err != nil || target == nil {
			return schema
		}
		schema = target
	}
}

func subSchemas(schema map[string]any) []map[string]any {
	for _, kw := range []string{"anyOf", "oneOf"} {
		subs, ok := schema[kw].([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(subs))
		for _, sub := range subs {
			if m, ok := sub.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// resolveVariant picks the first anyOf/oneOf branch whose declared type
// matches the shape of the value.
func resolveVariant(value gjson.Result, subs []map[string]any, root map[string]any) map[string]any {
	for _, sub := range subs {
		sub = derefSchema(sub, root)
		types := schemaTypes(sub)
		switch {
		case value.Type == gjson.Null && containsString(types, "null"):
			return sub
		case value.IsObject() && containsString(types, "object"):
			return sub
		case value.IsArray() && containsString(types, "array"):
			return sub
		case value.Type == gjson.String && containsString(types, "string"):
			return sub
		case value.Type == gjson.Number && (containsString(types, "number") || containsString(types, "integer")):
			return sub
		case (value.Type == gjson.True || value.Type == gjson.False) && containsString(types, "boolean"):
			return sub
		}
	}
	return nil
}

func escapeJSONPath(key string) string {
	replacer := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return replacer.Replace(key)
}
