package catalog

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// McpToolSeparator joins the generic MCP dispatch tool, the server name and
// the server-side tool name into one flat backend tool name.
const McpToolSeparator = "."

const mcpSectionTitle = "Connected MCP Servers"

var (
	mcpServerSplitRe = regexp.MustCompile("(?m)^##\\s+(?P<name>[^\\(\n]+?)(?:\\s+\\(`(?P<uri>.+?)`\\))?\n")
	mcpToolSplitRe   = regexp.MustCompile(`(?m)^-\s+(?P<name>[^:\n]+):\s+`)
	mcpSchemaLeadRe  = regexp.MustCompile(`(?m)\n\s+Input Schema:\n`)

	mcpSectionEndRes = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^## Creating an MCP Server\n`),
		regexp.MustCompile(`(?m)^\n====\n\n[A-Z][A-Z ]+[A-Z]\n`),
	}
	mcpToolsEndRes = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^### Resource Templates\n`),
		regexp.MustCompile(`(?m)^### Direct Resources\n`),
	}
	availableToolsRe = regexp.MustCompile(`(?m)^### Available Tools\n`)
)

// extractMcpSection returns the "# Connected MCP Servers" section of the
// prompt, bounded by the known follow-up markers, or "".
func extractMcpSection(doc string) string {
	re := regexp.MustCompile(`(?m)^#\s+` + regexp.QuoteMeta(mcpSectionTitle) + `\n`)
	m := re.FindStringIndex(doc)
	if m == nil {
		return ""
	}
	rest := doc[m[1]:]
	end := len(rest)
	for _, endRe := range mcpSectionEndRes {
		if t := endRe.FindStringIndex(rest); t != nil {
			end = t[0]
			break
		}
	}
	return doc[m[0] : m[1]+end]
}

// mcpEntry pairs a server name with one of its tool docs.
type mcpEntry struct {
	server string
	doc    toolDoc
}

// parseMcpSections turns the MCP servers section into per-server tool docs,
// each carrying the embedded Input Schema JSON. It also returns the raw
// tool listings so they can be removed from the prompt once converted.
func parseMcpSections(mcpMD string) ([]mcpEntry, []string) {
	serverLocs := mcpServerSplitRe.FindAllStringSubmatchIndex(mcpMD, -1)
	var tools []mcpEntry
	var removed []string

	for i, loc := range serverLocs {
		serverName := strings.TrimSpace(mcpMD[loc[2]:loc[3]])
		bodyStart := loc[1]
		bodyEnd := len(mcpMD)
		if i+1 < len(serverLocs) {
			bodyEnd = serverLocs[i+1][0]
		}
		body := mcpMD[bodyStart:bodyEnd]

		// Take the text after the last "### Available Tools" marker.
		available := ""
		for {
			m := availableToolsRe.FindStringIndex(body)
			if m == nil {
				break
			}
			body = body[m[1]:]
			available = body
		}
		if available == "" {
			continue
		}
		for _, endRe := range mcpToolsEndRes {
			if t := endRe.FindStringIndex(available); t != nil {
				available = available[:t[0]]
				break
			}
		}

		for _, doc := range splitMcpTools(available) {
			tools = append(tools, mcpEntry{server: serverName, doc: doc})
		}
		removed = append(removed, available)
	}
	return tools, removed
}

// splitMcpTools parses "- <name>: <description>\n  Input Schema:\n {...}"
// entries, leaving the schema JSON in paramsMD.
func splitMcpTools(md string) []toolDoc {
	var out []toolDoc
	locs := mcpToolSplitRe.FindAllStringSubmatchIndex(md, -1)
	for i, loc := range locs {
		name := strings.TrimSpace(md[loc[2]:loc[3]])
		bodyStart := loc[1]
		bodyEnd := len(md)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		body := md[bodyStart:bodyEnd]
		lead := mcpSchemaLeadRe.FindStringIndex(body)
		if lead == nil {
			continue
		}
		out = append(out, toolDoc{
			name:        name,
			description: strings.TrimSpace(body[:lead[0]]),
			paramsMD:    body[lead[1]:],
		})
	}
	return out
}

// buildMcpTool converts one MCP tool doc into a Tool whose parameter schema
// is the leading JSON object embedded in its Input Schema block.
func buildMcpTool(server string, doc toolDoc) (*Tool, error) {
	var schema map[string]any
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(doc.paramsMD)))
	if err := dec.Decode(&schema); err != nil {
		return nil, fmt.Errorf("decode MCP input schema for %s: %w", doc.name, err)
	}
	return &Tool{
		Name:        "use_mcp_tool" + McpToolSeparator + server + McpToolSeparator + doc.name,
		Description: doc.description,
		Parameters:  schema,
	}, nil
}
