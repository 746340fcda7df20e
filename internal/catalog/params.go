package catalog

import (
	"regexp"
	"strings"
)

// paramNode is one bullet entry in a tool's parameter documentation,
// possibly with nested child bullets.
type paramNode struct {
	name        string
	description string
	required    bool
	indent      int
	children    []*paramNode
}

var bulletRe = regexp.MustCompile(`^(\s*)-\s*(\w+)\s*:\s*(.*)$`)

// parseParameterBullets parses an indented bullet list such as:
//
//	- args: Contains one or more file elements
//	  - file: ...
//	    - path: (required) File path
//
// into a forest of paramNode trees.
func parseParameterBullets(md string) []*paramNode {
	var nodes []*paramNode
	var stack []*paramNode

	for _, line := range strings.Split(md, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			// Continuation line: extend the previous bullet's description.
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.description = strings.TrimSpace(top.description + "\n" + strings.TrimSpace(line))
			}
			continue
		}
		indent := len(strings.ReplaceAll(m[1], "\t", "    "))
		desc := strings.TrimSpace(m[3])
		required := !strings.Contains(strings.ToLower(desc), "(optional)")
		desc = strings.TrimSpace(strings.NewReplacer("(required)", "", "(Required)", "").Replace(desc))

		node := &paramNode{name: strings.TrimSpace(m[2]), description: desc, required: required, indent: indent}
		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			top.children = append(top.children, node)
		} else {
			nodes = append(nodes, node)
		}
		stack = append(stack, node)
	}
	return nodes
}

// flattenParamInfo collapses a bullet forest into name-based lookups:
// parameter name (lowercased) to description, and the set of names marked
// required. Name-based rather than path-aware, which covers common cases.
func flattenParamInfo(nodes []*paramNode) (map[string]string, map[string]bool) {
	descs := make(map[string]string)
	required := make(map[string]bool)

	var walk func(n *paramNode)
	walk = func(n *paramNode) {
		key := strings.ToLower(n.name)
		if n.description != "" {
			if _, seen := descs[key]; !seen {
				descs[key] = n.description
			}
		}
		if n.required {
			required[key] = true
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return descs, required
}
