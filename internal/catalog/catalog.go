// Package catalog extracts structured tool definitions from the free-text
// tool documentation a coding-assistant client embeds in its system prompt,
// and rewrites that prompt so the backend is primed for structured calls
// instead of XML markup.
package catalog

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Tool is one entry of a request's tool catalog.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON-schema object describing the arguments.
	Parameters map[string]any
	XMLSamples []string
}

// Catalog is the set of tools recognized for one request. It is rebuilt
// from the current system prompt on every request and never shared.
//
// Two views exist: the client-grammar tools, whose names and schemas define
// the XML markup the client reads and writes, and the backend tools, where
// the generic MCP dispatch tool is flattened into one tool per connected
// MCP server tool.
type Catalog struct {
	clientTools  []*Tool
	backendTools []*Tool
	strictParams map[string]map[string]any
}

var mcpFlatNameRe = regexp.MustCompile(`^use_mcp_tool\.(?P<server>[^.]+)\.(?P<tool>.+)$`)

// ExtractFromPrompt builds the catalog from the system prompt and returns
// the rewritten prompt: tool-use formatting instructions dropped, parameter
// documentation folded into schemas, and each XML usage sample replaced by
// an equivalent structured call example. An empty catalog is a valid result
// for prompts without a tools section.
func ExtractFromPrompt(prompt string) (*Catalog, string) {
	c := &Catalog{strictParams: make(map[string]map[string]any)}

	toolsMD := ExtractSection(prompt, "Tools")
	if formatting := ExtractSection(prompt, "Tool Use Formatting"); formatting != "" {
		prompt = strings.Replace(prompt, formatting, "", 1)
	}

	if toolsMD == "" {
		return c, prompt
	}

	for _, doc := range parseToolsSection(toolsMD) {
		descs, requiredNames := flattenParamInfo(parseParameterBullets(doc.paramsMD))
		params, err := buildSchemaFromSamples(doc.name, doc.xmlSamples, descs, requiredNames)
		if err != nil {
			logrus.WithField("tool", doc.name).Warnf("Skipping malformed tool documentation: %v", err)
			continue
		}
		tool := &Tool{
			Name:        doc.name,
			Description: doc.description,
			Parameters:  params,
			XMLSamples:  doc.xmlSamples,
		}
		c.clientTools = append(c.clientTools, tool)

		if doc.name == "use_mcp_tool" {
			if mcpTools, trimmed, ok := expandMcpTools(prompt); ok {
				c.backendTools = append(c.backendTools, mcpTools...)
				prompt = trimmed
				continue
			}
		}
		c.backendTools = append(c.backendTools, tool)
	}

	prompt = removeLabeledBlocks(prompt)

	for _, tool := range c.clientTools {
		for _, sample := range tool.XMLSamples {
			example, err := c.sampleToCallExample(tool, sample)
			if err != nil {
				logrus.WithField("tool", tool.Name).Debugf("Could not rewrite usage sample: %v", err)
				continue
			}
			prompt = strings.ReplaceAll(prompt, sample, example)
		}
	}

	return c, prompt
}

// expandMcpTools flattens the connected MCP servers documented in the
// prompt into one backend tool per server-side tool.
func expandMcpTools(prompt string) ([]*Tool, string, bool) {
	section := extractMcpSection(prompt)
	if section == "" {
		return nil, prompt, false
	}
	entries, removed := parseMcpSections(section)
	if len(entries) == 0 {
		return nil, prompt, false
	}
	tools := make([]*Tool, 0, len(entries))
	for _, entry := range entries {
		tool, err := buildMcpTool(entry.server, entry.doc)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"server": entry.server,
				"tool":   entry.doc.name,
			}).Warnf("Skipping malformed MCP tool: %v", err)
			continue
		}
		tools = append(tools, tool)
	}
	if len(tools) == 0 {
		return nil, prompt, false
	}
	for _, listing := range removed {
		prompt = strings.Replace(prompt, listing, "", 1)
	}
	return tools, prompt, true
}

// Empty reports whether the prompt yielded no usable tools.
func (c *Catalog) Empty() bool {
	return len(c.backendTools) == 0
}

// ClientTools returns the tools defining the client's XML grammar.
func (c *Catalog) ClientTools() []*Tool {
	return c.clientTools
}

// ClientNames returns the XML root tag names recognized in history.
func (c *Catalog) ClientNames() []string {
	names := make([]string, len(c.clientTools))
	for i, t := range c.clientTools {
		names[i] = t.Name
	}
	return names
}

// ClientLookup finds the client-grammar tool with the given name.
func (c *Catalog) ClientLookup(name string) *Tool {
	for _, t := range c.clientTools {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// BackendLookup finds the backend tool with the given name.
func (c *Catalog) BackendLookup(name string) *Tool {
	for _, t := range c.backendTools {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// FindXMLBlocks returns all XML tool-invocation blocks in content whose
// root tag names a cataloged tool.
func (c *Catalog) FindXMLBlocks(content string) []string {
	return extractXMLBlocks(content, c.ClientNames())
}

// OpenAITools renders the backend tools array. With strict enabled each
// schema is strictified; a schema strictification cannot express falls back
// to its permissive form.
func (c *Catalog) OpenAITools(strict bool) []openai.Tool {
	out := make([]openai.Tool, 0, len(c.backendTools))
	for _, t := range c.backendTools {
		fn := &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
		if strict {
			if params := c.StrictParameters(t.Name); params != nil {
				fn.Parameters = params
				fn.Strict = true
			}
		}
		out = append(out, openai.Tool{Type: openai.ToolTypeFunction, Function: fn})
	}
	return out
}

// StrictParameters returns the strictified parameter schema for a backend
// tool, or nil when the schema cannot be strictified.
func (c *Catalog) StrictParameters(name string) map[string]any {
	if c.strictParams == nil {
		c.strictParams = make(map[string]map[string]any)
	}
	if params, ok := c.strictParams[name]; ok {
		return params
	}
	tool := c.BackendLookup(name)
	if tool == nil {
		c.strictParams[name] = nil
		return nil
	}
	params, err := StrictifySchema(tool.Parameters)
	if err != nil {
		logrus.WithField("tool", name).Debugf("Schema not strictifiable, keeping permissive form: %v", err)
		params = nil
	}
	c.strictParams[name] = params
	return params
}

// ToBackendCall maps a parsed client call onto the backend tool namespace.
// A use_mcp_tool invocation carrying server_name/tool_name/arguments is
// flattened into the matching per-server tool with its inner arguments.
func (c *Catalog) ToBackendCall(name, argsJSON string) (string, string) {
	if name != "use_mcp_tool" {
		return name, argsJSON
	}
	args := gjson.Parse(argsJSON)
	server := args.Get("server_name").String()
	tool := args.Get("tool_name").String()
	inner := args.Get("arguments").String()
	if server == "" || tool == "" || inner == "" {
		return name, argsJSON
	}
	if !gjson.Valid(strings.TrimSpace(inner)) {
		return name, argsJSON
	}
	return "use_mcp_tool" + McpToolSeparator + server + McpToolSeparator + tool, strings.TrimSpace(inner)
}

// ToClientCall maps a backend call back onto the client's XML grammar. A
// flattened MCP tool name folds back into a use_mcp_tool invocation.
func (c *Catalog) ToClientCall(name, argsJSON string) (string, string) {
	m := mcpFlatNameRe.FindStringSubmatch(name)
	if m == nil {
		return name, argsJSON
	}
	out := "{}"
	out, _ = sjson.Set(out, "server_name", m[1])
	out, _ = sjson.Set(out, "tool_name", m[2])
	out, _ = sjson.Set(out, "arguments", argsJSON)
	return "use_mcp_tool", out
}

// sampleToCallExample renders an XML usage sample as the structured call
// example the backend should imitate.
func (c *Catalog) sampleToCallExample(tool *Tool, sample string) (string, error) {
	node, err := parseXMLSample(sample)
	if err != nil {
		return "", err
	}
	if node.XMLName.Local != tool.Name {
		return "", fmt.Errorf("unexpected root tag %s in sample for %s", node.XMLName.Local, tool.Name)
	}
	args := sampleToArgs(node, tool.Parameters)
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	name, argsJSON := c.ToBackendCall(tool.Name, string(encoded))
	return fmt.Sprintf("%s arguments: %s", name, argsJSON), nil
}

// sampleToArgs converts a parsed sample element into the argument
// structure its schema describes. Leaf elements become strings, repeated
// tags become arrays, attribute-bearing elements become objects with a
// "value" pseudo-property.
func sampleToArgs(node *sampleNode, schema map[string]any) any {
	props, _ := schema["properties"].(map[string]any)

	if len(node.Nodes) == 0 {
		if _, hasValue := props["value"]; hasValue && len(node.Attrs) > 0 {
			obj := map[string]any{"value": node.Text}
			for _, a := range node.Attrs {
				obj[a.Name.Local] = a.Value
			}
			return obj
		}
		return node.Text
	}

	grouped := make(map[string][]*sampleNode)
	var order []string
	for i := range node.Nodes {
		child := &node.Nodes[i]
		tag := child.XMLName.Local
		if _, ok := grouped[tag]; !ok {
			order = append(order, tag)
		}
		grouped[tag] = append(grouped[tag], child)
	}

	obj := make(map[string]any, len(order))
	for _, tag := range order {
		children := grouped[tag]
		tagSchema, _ := props[tag].(map[string]any)
		if tagSchema == nil {
			tagSchema = map[string]any{"type": "string"}
		}
		if containsString(schemaTypes(tagSchema), "array") {
			items, _ := tagSchema["items"].(map[string]any)
			if items == nil {
				items = map[string]any{"type": "string"}
			}
			list := make([]any, 0, len(children))
			for _, child := range children {
				list = append(list, sampleToArgs(child, items))
			}
			obj[tag] = list
		} else {
			obj[tag] = sampleToArgs(children[0], tagSchema)
		}
	}
	return obj
}
