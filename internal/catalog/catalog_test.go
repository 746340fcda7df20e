package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const basicPrompt = `You are a coding assistant.

# Tool Use Formatting

Tool uses are formatted using XML-style tags. Here's the structure:

<tool_name>
<parameter1_name>value1</parameter1_name>
</tool_name>

# Tools

## read_file
Description: Request to read the contents of a file at the specified path.
Parameters:
- path: (required) The path of the file to read.
Usage:
<read_file>
<path>File path here</path>
</read_file>

## write_to_file
Description: Write content to a file at the specified path.
Parameters:
- path: (required) The path of the file to write to.
- content: (required) The content to write to the file.
- line_count: (optional) The number of lines in the file.
Usage:
<write_to_file>
<path>File path here</path>
<content>
Your file content here
</content>
<line_count>42</line_count>
</write_to_file>

# Rules

Follow the rules.
`

func TestExtractSection(t *testing.T) {
	doc := "intro\n# First\nalpha\n# Second\nbeta\n"

	first := ExtractSection(doc, "First")
	assert.Equal(t, "# First\nalpha\n", first)

	second := ExtractSection(doc, "Second")
	assert.Equal(t, "# Second\nbeta\n", second)

	assert.Equal(t, "", ExtractSection(doc, "Missing"))
}

func TestExtractFromPrompt(t *testing.T) {
	cat, rewritten := ExtractFromPrompt(basicPrompt)
	require.False(t, cat.Empty())
	require.Len(t, cat.ClientTools(), 2)

	readFile := cat.ClientLookup("read_file")
	require.NotNil(t, readFile)
	assert.Equal(t, "Request to read the contents of a file at the specified path.", readFile.Description)

	props, _ := readFile.Parameters["properties"].(map[string]any)
	require.Contains(t, props, "path")
	pathSchema := props["path"].(map[string]any)
	assert.Equal(t, "string", pathSchema["type"])
	assert.Equal(t, "The path of the file to read.", pathSchema["description"])
	assert.Equal(t, []string{"path"}, readFile.Parameters["required"])

	writeFile := cat.ClientLookup("write_to_file")
	require.NotNil(t, writeFile)
	assert.ElementsMatch(t, []string{"path", "content"}, writeFile.Parameters["required"])

	// The formatting section is gone and usage samples became structured
	// call examples.
	assert.NotContains(t, rewritten, "# Tool Use Formatting")
	assert.NotContains(t, rewritten, "<read_file>")
	assert.Contains(t, rewritten, `read_file arguments: {"path":"File path here"}`)
	// Other sections survive.
	assert.Contains(t, rewritten, "# Rules")
}

func TestExtractFromPromptWithoutTools(t *testing.T) {
	prompt := "just a conversation, no tools here"
	cat, rewritten := ExtractFromPrompt(prompt)
	assert.True(t, cat.Empty())
	assert.Equal(t, prompt, rewritten)
}

func TestSchemaInfersArraysAndAttributes(t *testing.T) {
	samples := []string{`<apply_patch>
<args>
<file>
<path>a.go</path>
<diff start="1">first</diff>
<diff start="9">second</diff>
</file>
</args>
</apply_patch>`}

	schema, err := buildSchemaFromSamples("apply_patch", samples, nil, map[string]bool{"path": true})
	require.NoError(t, err)

	args := schema["properties"].(map[string]any)["args"].(map[string]any)
	file := args["properties"].(map[string]any)["file"].(map[string]any)
	fileProps := file["properties"].(map[string]any)

	diff := fileProps["diff"].(map[string]any)
	assert.Equal(t, "array", diff["type"])
	items := diff["items"].(map[string]any)
	itemProps := items["properties"].(map[string]any)
	assert.Contains(t, itemProps, "value")
	assert.Contains(t, itemProps, "start")
	assert.Equal(t, []string{"value"}, items["required"])

	assert.Equal(t, "string", fileProps["path"].(map[string]any)["type"])
}

func TestSchemaFromNoSamples(t *testing.T) {
	schema, err := buildSchemaFromSamples("bare", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "object", schema["type"])
	assert.Empty(t, schema["properties"])
}

func TestExtractXMLBlocksLeavesUnknownTags(t *testing.T) {
	body := "before <read_file><path>a & b.txt</path></read_file> after <other>x</other>"
	blocks := extractXMLBlocks(body, []string{"read_file"})
	require.Len(t, blocks, 1)
	assert.Equal(t, "<read_file><path>a & b.txt</path></read_file>", blocks[0])
}

func TestExtractXMLBlocksSkipsUnclosed(t *testing.T) {
	body := "<read_file><path>a.txt</path>"
	assert.Empty(t, extractXMLBlocks(body, []string{"read_file"}))
}

func TestMcpSectionExpansion(t *testing.T) {
	prompt := `# Tools

## use_mcp_tool
Description: Request to use a tool provided by a connected MCP server.
Parameters:
- server_name: (required) The name of the MCP server.
- tool_name: (required) The name of the tool to execute.
- arguments: (required) A JSON object containing the tool's input.
Usage:
<use_mcp_tool>
<server_name>server name here</server_name>
<tool_name>tool name here</tool_name>
<arguments>
{"param": "value"}
</arguments>
</use_mcp_tool>

# Connected MCP Servers

When a server is connected, you can use its tools.

## weather (` + "`npx weather-server`" + `)

### Available Tools
- get_forecast: Get the weather forecast for a city
  Input Schema:
    {
      "type": "object",
      "properties": {
        "city": {"type": "string"}
      },
      "required": ["city"]
    }

====

EDITING FILES

More instructions.
`

	cat, rewritten := ExtractFromPrompt(prompt)
	require.Len(t, cat.ClientTools(), 1)

	flat := cat.BackendLookup("use_mcp_tool.weather.get_forecast")
	require.NotNil(t, flat)
	assert.Equal(t, "Get the weather forecast for a city", flat.Description)
	props := flat.Parameters["properties"].(map[string]any)
	assert.Contains(t, props, "city")

	// The generic dispatch tool keeps its client grammar but is not
	// offered to the backend.
	assert.Nil(t, cat.BackendLookup("use_mcp_tool"))
	assert.NotNil(t, cat.ClientLookup("use_mcp_tool"))

	// The tool listing is removed from the prompt, the section prose stays.
	assert.NotContains(t, rewritten, "Input Schema:")
	assert.Contains(t, rewritten, "# Connected MCP Servers")
}

func TestToBackendCallFlattensMcp(t *testing.T) {
	c := &Catalog{}
	name, args := c.ToBackendCall("use_mcp_tool", `{"server_name":"weather","tool_name":"get_forecast","arguments":"{\"city\":\"Oslo\"}"}`)
	assert.Equal(t, "use_mcp_tool.weather.get_forecast", name)
	assert.Equal(t, `{"city":"Oslo"}`, args)

	// Non-MCP calls pass through.
	name, args = c.ToBackendCall("read_file", `{"path":"a.txt"}`)
	assert.Equal(t, "read_file", name)
	assert.Equal(t, `{"path":"a.txt"}`, args)
}

func TestToClientCallFoldsMcp(t *testing.T) {
	c := &Catalog{}
	name, args := c.ToClientCall("use_mcp_tool.weather.get_forecast", `{"city":"Oslo"}`)
	assert.Equal(t, "use_mcp_tool", name)
	assert.Equal(t, "weather", gjson.Get(args, "server_name").String())
	assert.Equal(t, "get_forecast", gjson.Get(args, "tool_name").String())
	assert.Equal(t, `{"city":"Oslo"}`, gjson.Get(args, "arguments").String())
}

func TestOpenAIToolsStrict(t *testing.T) {
	cat, _ := ExtractFromPrompt(basicPrompt)

	tools := cat.OpenAITools(true)
	require.Len(t, tools, 2)
	for _, tool := range tools {
		assert.True(t, tool.Function.Strict)
		params := tool.Function.Parameters.(map[string]any)
		assert.Equal(t, false, params["additionalProperties"])
	}

	permissive := cat.OpenAITools(false)
	for _, tool := range permissive {
		assert.False(t, tool.Function.Strict)
	}
}

func TestStrictifySchema(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":       map[string]any{"type": "string"},
			"line_count": map[string]any{"type": "string"},
		},
		"required": []string{"path"},
	}

	strict, err := StrictifySchema(schema)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"path", "line_count"}, strict["required"])
	assert.Equal(t, false, strict["additionalProperties"])

	props := strict["properties"].(map[string]any)
	assert.Equal(t, "string", props["path"].(map[string]any)["type"])
	assert.ElementsMatch(t, []any{"string", "null"}, props["line_count"].(map[string]any)["type"])

	// The input schema is untouched.
	assert.Equal(t, "string", schema["properties"].(map[string]any)["line_count"].(map[string]any)["type"])
}

func TestStrictifySchemaRejectsUnsupportedKeywords(t *testing.T) {
	_, err := StrictifySchema(map[string]any{
		"type":  "object",
		"allOf": []any{},
	})
	assert.Error(t, err)
}

func TestPruneNulls(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":       map[string]any{"type": "string"},
			"line_count": map[string]any{"type": []any{"string", "null"}},
			"note":       map[string]any{"type": "string"},
		},
	}

	pruned := PruneNulls(`{"path":"a.txt","note":null,"line_count":null}`, schema)
	assert.Equal(t, `{"path":"a.txt","line_count":null}`, pruned)
}

func TestPruneNullsPreservesOrder(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"b": map[string]any{"type": "string"},
			"a": map[string]any{"type": "string"},
			"c": map[string]any{"type": "string"},
		},
	}
	pruned := PruneNulls(`{"b":"1","a":"2","c":"3"}`, schema)
	assert.Equal(t, `{"b":"1","a":"2","c":"3"}`, pruned)
}

func TestParseXMLSampleFixups(t *testing.T) {
	// A pseudo tag inside parentheses would break a strict parser.
	node, err := parseXMLSample("<ask>\n<question>Pick one (<yes/> or <no/>)</question>\n</ask>")
	require.NoError(t, err)
	assert.Equal(t, "ask", node.XMLName.Local)

	node, err = parseXMLSample("<search>\n<query>black & white</query>\n</search>")
	require.NoError(t, err)
	require.Len(t, node.Nodes, 1)
	assert.True(t, strings.Contains(node.Nodes[0].Text, "&"))
}
