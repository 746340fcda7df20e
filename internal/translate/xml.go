package translate

import (
	"fmt"
	"regexp"
	"strings"

	"toolbridge/internal/catalog"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// The client's XML tool-call grammar embeds raw text without entity
// escaping, so neither side of the codec may escape or unescape content.
// Parsing is therefore driven by the catalog schema rather than by a
// conforming XML parser: only tags the schema declares are recognized, and
// everything inside a string-typed element is taken verbatim.

// renderCallXML renders one structured tool call as client XML markup. A
// non-empty call id travels as an extra <id> child so it survives the round
// trip through the client's history. Argument order follows the JSON
// document order the backend produced.
func renderCallXML(name, argsJSON, id string) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(name)
	b.WriteByte('>')
	gjson.Parse(argsJSON).ForEach(func(key, value gjson.Result) bool {
		renderElement(&b, key.String(), value)
		return true
	})
	if id != "" {
		b.WriteString("<id>")
		b.WriteString(id)
		b.WriteString("</id>")
	}
	b.WriteString("</" + name + ">")
	return b.String()
}

func renderElement(b *strings.Builder, tag string, value gjson.Result) {
	if value.IsArray() {
		value.ForEach(func(_, item gjson.Result) bool {
			renderElement(b, tag, item)
			return true
		})
		return
	}

	if value.IsObject() {
		if inner := value.Get("value"); inner.Exists() {
			b.WriteByte('<')
			b.WriteString(tag)
			value.ForEach(func(k, v gjson.Result) bool {
				if k.String() != "value" {
					fmt.Fprintf(b, " %s=%q", k.String(), v.String())
				}
				return true
			})
			b.WriteByte('>')
			writeScalarOrChildren(b, inner)
			b.WriteString("</" + tag + ">")
			return
		}
		b.WriteByte('<')
		b.WriteString(tag)
		b.WriteByte('>')
		value.ForEach(func(k, v gjson.Result) bool {
			renderElement(b, k.String(), v)
			return true
		})
		b.WriteString("</" + tag + ">")
		return
	}

	b.WriteByte('<')
	b.WriteString(tag)
	b.WriteByte('>')
	writeScalar(b, value)
	b.WriteString("</" + tag + ">")
}

func writeScalarOrChildren(b *strings.Builder, value gjson.Result) {
	if value.IsObject() {
		value.ForEach(func(k, v gjson.Result) bool {
			renderElement(b, k.String(), v)
			return true
		})
		return
	}
	writeScalar(b, value)
}

func writeScalar(b *strings.Builder, value gjson.Result) {
	switch value.Type {
	case gjson.Null:
	case gjson.String:
		b.WriteString(value.String())
	default:
		b.WriteString(value.Raw)
	}
}

var (
	idChildRe = regexp.MustCompile(`(?s)<id>(.*?)</id>`)
	attrRe    = regexp.MustCompile(`([\w:-]+)\s*=\s*"([^"]*)"`)
)

// parseCallXML parses one tool-invocation block back into the call name,
// an arguments JSON object in element order, and the embedded id (empty
// when the block carries none).
func parseCallXML(block string, tool *catalog.Tool) (name, argsJSON, id string, err error) {
	name = tool.Name

	openEnd := strings.IndexByte(block, '>')
	closeTag := "</" + name + ">"
	closeStart := strings.LastIndex(block, closeTag)
	if openEnd < 0 || closeStart < 0 || closeStart < openEnd {
		return "", "", "", fmt.Errorf("malformed block for %s", name)
	}
	inner := block[openEnd+1 : closeStart]

	// The id child is rendered last, so when content itself happens to
	// contain "<id>" markup the final occurrence is the real one.
	if ms := idChildRe.FindAllStringSubmatchIndex(inner, -1); len(ms) > 0 {
		m := ms[len(ms)-1]
		id = inner[m[2]:m[3]]
		inner = inner[:m[0]] + inner[m[1]:]
	}

	props, _ := tool.Parameters["properties"].(map[string]any)
	argsJSON, err = parseObjectContent(inner, props)
	if err != nil {
		return "", "", "", err
	}
	return name, argsJSON, id, nil
}

// parseObjectContent scans content for child elements declared in props
// and assembles a JSON object in encounter order.
func parseObjectContent(content string, props map[string]any) (string, error) {
	out := "{}"
	if len(props) == 0 {
		return out, nil
	}
	openRe, err := openTagRegexp(props)
	if err != nil {
		return "", err
	}

	pos := 0
	for pos < len(content) {
		m := openRe.FindStringSubmatchIndex(content[pos:])
		if m == nil {
			break
		}
		tag := content[pos+m[2] : pos+m[3]]
		attrText := content[pos+m[3] : pos+m[1]-1]
		closeTag := "</" + tag + ">"
		closeIdx := strings.Index(content[pos+m[1]:], closeTag)
		if closeIdx < 0 {
			return "", fmt.Errorf("unclosed element <%s>", tag)
		}
		inner := content[pos+m[1] : pos+m[1]+closeIdx]
		pos += m[1] + closeIdx + len(closeTag)

		tagSchema, _ := props[tag].(map[string]any)
		if tagSchema == nil {
			tagSchema = map[string]any{"type": "string"}
		}

		isArray := hasType(tagSchema, "array")
		elemSchema := tagSchema
		if isArray {
			if items, ok := tagSchema["items"].(map[string]any); ok {
				elemSchema = items
			} else if contains, ok := tagSchema["contains"].(map[string]any); ok {
				elemSchema = contains
			} else {
				elemSchema = map[string]any{"type": "string"}
			}
		}

		raw, err := parseElementValue(inner, attrText, elemSchema)
		if err != nil {
			return "", err
		}

		path := escapePathKey(tag)
		if isArray {
			out, _ = sjson.SetRaw(out, path+".-1", raw)
		} else if !gjson.Get(out, path).Exists() {
			out, _ = sjson.SetRaw(out, path, raw)
		}
	}
	return out, nil
}

// parseElementValue converts one element's inner text to the JSON value
// its schema declares.
func parseElementValue(inner, attrText string, schema map[string]any) (string, error) {
	if props, ok := schema["properties"].(map[string]any); ok {
		if valueSchema, hasValue := props["value"].(map[string]any); hasValue {
			valueRaw, err := parseElementValue(inner, "", valueSchema)
			if err != nil {
				return "", err
			}
			obj, _ := sjson.SetRaw("{}", "value", valueRaw)
			for _, attr := range attrRe.FindAllStringSubmatch(attrText, -1) {
				obj, _ = sjson.Set(obj, escapePathKey(attr[1]), attr[2])
			}
			return obj, nil
		}
		return parseObjectContent(inner, props)
	}

	switch {
	case hasType(schema, "number") || hasType(schema, "integer"):
		trimmed := strings.TrimSpace(inner)
		if gjson.Valid(trimmed) && gjson.Parse(trimmed).Type == gjson.Number {
			return trimmed, nil
		}
		return encodeJSONString(inner), nil
	case hasType(schema, "boolean"):
		switch strings.TrimSpace(inner) {
		case "true":
			return "true", nil
		case "false":
			return "false", nil
		}
		return encodeJSONString(inner), nil
	default:
		return encodeJSONString(inner), nil
	}
}

func openTagRegexp(props map[string]any) (*regexp.Regexp, error) {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, regexp.QuoteMeta(name))
	}
	return regexp.Compile(`<(` + strings.Join(names, "|") + `)(?:\s[^>]*)?>`)
}

func hasType(schema map[string]any, want string) bool {
	switch t := schema["type"].(type) {
	case string:
		return t == want
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range t {
			if s == want {
				return true
			}
		}
	}
	return false
}

func encodeJSONString(s string) string {
	out, _ := sjson.Set("{}", "v", s)
	return gjson.Get(out, "v").Raw
}

func escapePathKey(key string) string {
	replacer := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return replacer.Replace(key)
}
