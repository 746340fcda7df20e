package catalog

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

// sampleNode is a generic parsed XML element from a usage sample.
type sampleNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr   `xml:",any,attr"`
	Text    string       `xml:",chardata"`
	Nodes   []sampleNode `xml:",any"`
}

var (
	parenRe     = regexp.MustCompile(`\(([^)]*)\)`)
	pseudoTagRe = regexp.MustCompile(`</?(\w*)\s*/?>`)
	bareAmpRe   = regexp.MustCompile(`&(?:[^a-zA-Z#]|$)`)
)

// parseXMLSample parses one usage sample. Samples are written for humans,
// so parsing retries with two fixups: pseudo tags inside parentheses are
// demoted to backticked names, and bare ampersands are escaped.
func parseXMLSample(sample string) (*sampleNode, error) {
	sample = strings.TrimSpace(dedent(sample))

	node, err := decodeSample(sample)
	if err == nil {
		return node, nil
	}

	fixed := parenRe.ReplaceAllStringFunc(sample, func(s string) string {
		inner := pseudoTagRe.ReplaceAllString(s[1:len(s)-1], "`$1`")
		return "(" + inner + ")"
	})
	if node, err = decodeSample(fixed); err == nil {
		return node, nil
	}

	fixed = bareAmpRe.ReplaceAllStringFunc(fixed, func(s string) string {
		return "&amp;" + s[1:]
	})
	return decodeSample(fixed)
}

func decodeSample(sample string) (*sampleNode, error) {
	dec := xml.NewDecoder(bytes.NewReader([]byte(sample)))
	dec.Strict = false
	var node sampleNode
	if err := dec.Decode(&node); err != nil {
		return nil, err
	}
	return &node, nil
}

func dedent(s string) string {
	lines := strings.Split(s, "\n")
	margin := -1
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(trimmed)
		if margin < 0 || indent < margin {
			margin = indent
		}
	}
	if margin <= 0 {
		return s
	}
	for i, line := range lines {
		if len(line) >= margin {
			lines[i] = line[margin:]
		}
	}
	return strings.Join(lines, "\n")
}

// sampleStats aggregates element structure across all usage samples of one
// tool so arrays and attribute-bearing elements can be inferred.
type sampleStats struct {
	// childMax is the highest multiplicity of a child tag seen under a
	// parent path across all samples.
	childMax map[string]int
	// childPresence counts in how many samples a child appeared at all.
	childPresence map[string]int
	// attrs records attribute names seen on each element path.
	attrs map[string]map[string]bool
	// childOrder preserves first-seen child order per parent path.
	childOrder map[string][]string
}

func newSampleStats() *sampleStats {
	return &sampleStats{
		childMax:      make(map[string]int),
		childPresence: make(map[string]int),
		attrs:         make(map[string]map[string]bool),
		childOrder:    make(map[string][]string),
	}
}

func pathKey(path []string) string { return strings.Join(path, "\x00") }

func childKey(path []string, child string) string {
	return pathKey(path) + "\x00" + child
}

func (st *sampleStats) collect(root *sampleNode) {
	seen := make(map[string]bool)
	var walk func(n *sampleNode, path []string)
	walk = func(n *sampleNode, path []string) {
		counts := make(map[string]int)
		for i := range n.Nodes {
			child := &n.Nodes[i]
			tag := child.XMLName.Local
			counts[tag]++
			ck := childKey(path, tag)
			if !containsString(st.childOrder[pathKey(path)], tag) {
				st.childOrder[pathKey(path)] = append(st.childOrder[pathKey(path)], tag)
			}
			if !seen[ck] {
				seen[ck] = true
				st.childPresence[ck]++
			}
			childPath := append(append([]string{}, path...), tag)
			walk(child, childPath)
		}
		for tag, count := range counts {
			ck := childKey(path, tag)
			if count > st.childMax[ck] {
				st.childMax[ck] = count
			}
		}
		if len(n.Attrs) > 0 {
			pk := pathKey(path)
			if st.attrs[pk] == nil {
				st.attrs[pk] = make(map[string]bool)
			}
			for _, a := range n.Attrs {
				st.attrs[pk][a.Name.Local] = true
			}
		}
	}
	walk(root, []string{root.XMLName.Local})
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// buildSchemaFromSamples infers a JSON-schema parameter object for one tool
// from its XML usage samples. Elements repeated under one parent become
// arrays, elements with children become objects, everything else is a
// string. Elements carrying attributes are wrapped in an object with a
// "value" pseudo-property holding the element text.
func buildSchemaFromSamples(name string, samples []string, descs map[string]string, required map[string]bool) (map[string]any, error) {
	if len(samples) == 0 {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		}, nil
	}

	stats := newSampleStats()
	parsed := 0
	rootTag := name
	for _, sample := range samples {
		root, err := parseXMLSample(sample)
		if err != nil {
			return nil, fmt.Errorf("parse usage sample for %s: %w", name, err)
		}
		if parsed == 0 {
			rootTag = root.XMLName.Local
		}
		stats.collect(root)
		parsed++
	}

	var nodeSchema func(path []string) (map[string]any, []string)
	nodeSchema = func(path []string) (map[string]any, []string) {
		props := make(map[string]any)
		var req []string
		for _, child := range stats.childOrder[pathKey(path)] {
			childPath := append(append([]string{}, path...), child)
			base := make(map[string]any)
			if d, ok := descs[strings.ToLower(child)]; ok {
				base["description"] = d
			}
			if len(stats.childOrder[pathKey(childPath)]) > 0 {
				base["type"] = "object"
				base["properties"], base["required"] = nodeSchema(childPath)
			} else {
				base["type"] = "string"
			}
			if attrNames := stats.attrs[pathKey(childPath)]; len(attrNames) > 0 {
				attrProps := map[string]any{"value": base}
				for attr := range attrNames {
					attrProps[attr] = map[string]any{"type": "string"}
				}
				base = map[string]any{
					"type":       "object",
					"properties": attrProps,
					"required":   []string{"value"},
				}
			}

			var schema map[string]any
			if stats.childMax[childKey(path, child)] > 1 {
				schema = map[string]any{"type": "array", "items": base}
			} else {
				schema = base
			}
			props[child] = schema

			if stats.childPresence[childKey(path, child)] == parsed && required[strings.ToLower(child)] {
				req = append(req, child)
			}
		}
		if req == nil {
			req = []string{}
		}
		return props, req
	}

	rootProps, rootReq := nodeSchema([]string{rootTag})
	return map[string]any{
		"type":       "object",
		"properties": rootProps,
		"required":   rootReq,
	}, nil
}
