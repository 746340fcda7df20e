package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// toolDoc is one tool's raw documentation block lifted from the prompt.
type toolDoc struct {
	name        string
	description string
	paramsMD    string
	xmlSamples  []string
}

var (
	headingRe   = regexp.MustCompile(`(?m)^#\s+`)
	toolSplitRe = regexp.MustCompile(`(?m)^##\s+(\w+)\s*$`)

	// blockTerminatorRe marks where a labeled documentation block ends:
	// the next label, heading, or usage/example section.
	blockTerminatorRe = regexp.MustCompile(`(?m)^(\*\*)?((Required |Optional )?Parameters?:|Descriptions?:|##?\s|Usages?:|(Usage )?Examples?[\w ]*:)`)

	labeledBlockRe = regexp.MustCompile(`(?m)^(\*\*)?(Required |Optional )?(Description|Parameter)s?:(\*\*)?[ \t]*`)
)

// ExtractSection returns the markdown section beginning at the `# <title>`
// heading up to the next top-level heading, or "" if absent.
func ExtractSection(doc, title string) string {
	re, err := regexp.Compile(`(?m)^#\s+` + regexp.QuoteMeta(title) + `\b`)
	if err != nil {
		return ""
	}
	m := re.FindStringIndex(doc)
	if m == nil {
		return ""
	}
	rest := doc[m[1]:]
	if next := headingRe.FindStringIndex(rest); next != nil {
		return doc[m[0] : m[1]+next[0]]
	}
	return doc[m[0]:]
}

// parseToolsSection splits a `# Tools` section into per-tool documentation
// blocks delimited by `## <tool_name>` headings.
func parseToolsSection(toolsMD string) []toolDoc {
	locs := toolSplitRe.FindAllStringSubmatchIndex(toolsMD, -1)
	out := make([]toolDoc, 0, len(locs))
	for i, loc := range locs {
		name := toolsMD[loc[2]:loc[3]]
		bodyStart := loc[1]
		bodyEnd := len(toolsMD)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		body := toolsMD[bodyStart:bodyEnd]

		desc := extractBlockAfterLabel(body, "Description:")
		params := extractBlockAfterLabel(body, "Parameters:")
		requiredParams := extractBlockAfterLabel(body, "Required Parameters:")
		optionalParams := extractBlockAfterLabel(body, "Optional Parameters:")
		combined := strings.TrimSpace(params + "\n" + requiredParams + "\n" +
			markBulletsOptional(optionalParams))

		sampleSource := body
		for _, block := range []string{desc, params, requiredParams, optionalParams} {
			if block != "" {
				sampleSource = strings.Replace(sampleSource, block, "", 1)
			}
		}

		out = append(out, toolDoc{
			name:        name,
			description: strings.TrimSpace(desc),
			paramsMD:    combined,
			xmlSamples:  extractXMLBlocks(sampleSource, []string{name}),
		})
	}
	return out
}

var optionalBulletRe = regexp.MustCompile(`(?m)^(\w+: )`)

func markBulletsOptional(md string) string {
	return optionalBulletRe.ReplaceAllString(md, "$1(optional) ")
}

// extractBlockAfterLabel returns the text following a documentation label
// (e.g. "Description:", "Parameters:") up to the next label or heading.
func extractBlockAfterLabel(body, label string) string {
	re, err := regexp.Compile(`(?m)^(?:\*\*)?` + regexp.QuoteMeta(label) + `(?:\*\*)?[ \t]*`)
	if err != nil {
		return ""
	}
	m := re.FindStringIndex(body)
	if m == nil {
		return ""
	}
	rest := body[m[1]:]
	// Skip the remainder of the label line so a same-line terminator
	// cannot cut the block short before it starts.
	end := len(rest)
	searchFrom := 0
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		searchFrom = nl + 1
	}
	if t := blockTerminatorRe.FindStringIndex(rest[searchFrom:]); t != nil {
		end = searchFrom + t[0]
	}
	return strings.TrimSpace(rest[:end])
}

// removeLabeledBlocks strips Description/Parameters documentation blocks
// from the prompt once their content has been folded into the tool schemas.
func removeLabeledBlocks(doc string) string {
	for {
		m := labeledBlockRe.FindStringIndex(doc)
		if m == nil {
			return doc
		}
		rest := doc[m[1]:]
		end := len(rest)
		searchFrom := 0
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			searchFrom = nl + 1
		}
		if t := blockTerminatorRe.FindStringIndex(rest[searchFrom:]); t != nil {
			end = searchFrom + t[0]
		}
		doc = doc[:m[0]] + doc[m[1]+end:]
	}
}

// extractXMLBlocks finds all `<name ...>...</name>` blocks for the given
// tag names, leftmost and non-greedy, matching the client's markup habit of
// embedding unescaped content.
func extractXMLBlocks(body string, names []string) []string {
	if len(names) == 0 {
		return nil
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	var blocks []string
	pos := 0
	openRe := regexp.MustCompile(`(?i)<(` + strings.Join(quoted, "|") + `)\b[^>]*>`)
	for pos < len(body) {
		m := openRe.FindStringSubmatchIndex(body[pos:])
		if m == nil {
			break
		}
		tag := body[pos+m[2] : pos+m[3]]
		closeTag := fmt.Sprintf("</%s>", tag)
		closeIdx := indexFold(body[pos+m[1]:], closeTag)
		if closeIdx < 0 {
			pos += m[1]
			continue
		}
		end := pos + m[1] + closeIdx + len(closeTag)
		blocks = append(blocks, body[pos+m[0]:end])
		pos = end
	}
	return blocks
}

func indexFold(s, sub string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(sub))
}
