// Package translate implements the bidirectional protocol translation
// between a client speaking XML-embedded tool calls and a backend speaking
// structured, schema-typed tool calls.
package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"toolbridge/internal/catalog"
	"toolbridge/internal/diag"
	"toolbridge/internal/rules"
	"toolbridge/internal/utils"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Options configures per-request translation policy.
type Options struct {
	// Strict rejects tool calls whose arguments fail schema validation,
	// downgrading them to plain text instead of forwarding them.
	Strict bool
	// ForceToolChoice sets tool_choice=required on the outgoing request
	// whenever the catalog is non-empty.
	ForceToolChoice bool
}

// Conversation holds all state scoped to one in-flight request: the tool
// catalog extracted from the system prompt, a rule pass with its capture
// context, and the validation policy. Nothing survives the request.
type Conversation struct {
	catalog   *catalog.Catalog
	ruleSet   *rules.Set
	pass      *rules.Pass
	validator *Validator
	opts      Options
	sink      diag.Sink
}

// NewConversation creates the request-scoped translation state.
func NewConversation(ruleSet *rules.Set, opts Options, sink diag.Sink) *Conversation {
	if sink == nil {
		sink = diag.NopSink{}
	}
	if ruleSet == nil {
		ruleSet = rules.NewSet(nil)
	}
	return &Conversation{
		catalog:   &catalog.Catalog{},
		ruleSet:   ruleSet,
		pass:      ruleSet.NewPass(sink),
		validator: &Validator{Strict: opts.Strict},
		opts:      opts,
		sink:      sink,
	}
}

// TranslateRequest rewrites a raw chat-completion request body for the
// backend: the system prompt's tool documentation becomes a structured
// tools array, XML tool exchanges in history become call/result message
// pairs, and replacement rules rewrite message content. Unknown request
// fields pass through untouched.
func (c *Conversation) TranslateRequest(body []byte) ([]byte, error) {
	messages := gjson.GetBytes(body, "messages")
	if !messages.Exists() || !messages.IsArray() {
		return nil, fmt.Errorf("request has no messages array")
	}

	out := string(body)

	first := messages.Get("0")
	if role := first.Get("role").String(); role == "system" || role == "user" {
		prompt := contentText(first.Get("content"))
		cat, rewritten := catalog.ExtractFromPrompt(prompt)
		c.catalog = cat
		if rewritten != prompt {
			out, _ = sjson.Set(out, "messages.0.content", rewritten)
		}
	}

	if !c.catalog.Empty() {
		tools := c.catalog.OpenAITools(c.opts.Strict)
		encoded, err := json.Marshal(tools)
		if err != nil {
			return nil, fmt.Errorf("encode tools: %w", err)
		}
		out, _ = sjson.SetRaw(out, "tools", string(encoded))
		if c.opts.ForceToolChoice {
			out, _ = sjson.Set(out, "tool_choice", "required")
		}
	}

	converted := c.applyRules(c.convertHistory(gjson.Get(out, "messages").Raw))
	out, _ = sjson.SetRaw(out, "messages", converted)

	c.sink.DumpOutgoing([]byte(gjson.Get(out, "messages").Raw), []byte(gjson.Get(out, "tools").Raw))
	return []byte(out), nil
}

// Stream reports whether the request asked for a streamed response.
func Stream(body []byte) bool {
	return gjson.GetBytes(body, "stream").Bool()
}

// convertHistory walks prior turns and converts XML tool invocations in
// assistant messages into structured tool calls, pairing each following
// textual tool result into a tool-role message. Markup that cannot be
// parsed, or that names no cataloged tool, stays verbatim in content.
func (c *Conversation) convertHistory(messagesJSON string) string {
	out := "[]"
	var pendingIDs []string
	var pendingNames []string

	gjson.Parse(messagesJSON).ForEach(func(_, msg gjson.Result) bool {
		raw := msg.Raw
		role := msg.Get("role").String()
		content := msg.Get("content")

		switch {
		case role == "assistant" && content.Type == gjson.String && content.String() != "":
			converted, ids, names := c.convertAssistantMessage(raw, content.String())
			raw = converted
			pendingIDs, pendingNames = ids, names

		case role == "user" && content.IsArray() && len(content.Array()) > 0:
			head := content.Get("0.text").String()
			if len(pendingIDs) > 0 && isToolResult(head, pendingNames[0]) {
				raw, _ = sjson.Set(raw, "role", "tool")
				raw, _ = sjson.Set(raw, "tool_call_id", pendingIDs[0])
				pendingIDs = pendingIDs[1:]
				pendingNames = pendingNames[1:]
			} else {
				if strings.HasPrefix(head, "[ERROR] ") {
					if reminder := catalog.ExtractSection(head, "Reminder: Instructions for Tool Use"); reminder != "" {
						raw, _ = sjson.Set(raw, "content.0.text", strings.Replace(head, reminder, "", 1))
					}
				}
				pendingIDs, pendingNames = nil, nil
			}

		default:
			pendingIDs, pendingNames = nil, nil
		}

		out, _ = sjson.SetRaw(out, "-1", raw)
		return true
	})
	return out
}

// convertAssistantMessage extracts XML call blocks from one assistant
// message. It returns the rewritten message plus the call ids and client
// tool names awaiting their results.
func (c *Conversation) convertAssistantMessage(raw, content string) (string, []string, []string) {
	blocks := c.catalog.FindXMLBlocks(content)
	if len(blocks) == 0 {
		return raw, nil, nil
	}

	var calls []openai.ToolCall
	var ids, names []string
	for _, block := range blocks {
		tool := c.catalog.ClientLookup(rootTag(block))
		if tool == nil {
			continue
		}
		name, argsJSON, id, err := parseCallXML(block, tool)
		if err != nil {
			logrus.WithField("tool", tool.Name).Debugf("Leaving unparseable tool markup in history: %v", err)
			continue
		}
		if id == "" {
			id = utils.GenerateCallID()
		}
		backendName, backendArgs := c.catalog.ToBackendCall(name, argsJSON)
		calls = append(calls, openai.ToolCall{
			ID:   id,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      backendName,
				Arguments: backendArgs,
			},
		})
		ids = append(ids, id)
		names = append(names, name)
		content = strings.Replace(content, block, "", 1)
	}

	if len(calls) == 0 {
		return raw, nil, nil
	}

	raw, _ = sjson.Set(raw, "content", content)
	encoded, err := json.Marshal(calls)
	if err != nil {
		return raw, nil, nil
	}
	raw, _ = sjson.SetRaw(raw, "tool_calls", string(encoded))
	return raw, ids, names
}

// isToolResult reports whether a user message opens with the client's
// "[<tool name> ...]" result framing for the awaited tool.
func isToolResult(head, toolName string) bool {
	if !strings.HasPrefix(head, "["+toolName) {
		return false
	}
	rest := head[1+len(toolName):]
	return rest == "" || !isWordByte(rest[0])
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func rootTag(block string) string {
	end := strings.IndexAny(block[1:], " \t\n>")
	if end < 0 {
		return ""
	}
	return block[1 : 1+end]
}

// applyRules runs the replacement pass over every message's text content,
// in conversation order so captures thread forward.
func (c *Conversation) applyRules(messagesJSON string) string {
	if c.pass == nil {
		return messagesJSON
	}
	out := messagesJSON
	idx := 0
	gjson.Parse(messagesJSON).ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		content := msg.Get("content")
		switch {
		case content.Type == gjson.String:
			rewritten := c.pass.ApplyMessage(role, content.String())
			if rewritten != content.String() {
				out, _ = sjson.Set(out, fmt.Sprintf("%d.content", idx), rewritten)
			}
		case content.IsArray():
			c.pass.BeginMessage(role)
			partIdx := 0
			content.ForEach(func(_, part gjson.Result) bool {
				if text := part.Get("text"); text.Exists() {
					rewritten := c.pass.Apply(role, text.String())
					if rewritten != text.String() {
						out, _ = sjson.Set(out, fmt.Sprintf("%d.content.%d.text", idx, partIdx), rewritten)
					}
				}
				partIdx++
				return true
			})
		}
		idx++
		return true
	})
	return out
}

// contentText flattens a message content field, which may be a plain
// string or a list of typed parts, into one text blob.
func contentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var parts []string
		content.ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() {
				parts = append(parts, text.String())
			}
			return true
		})
		return strings.Join(parts, "\n")
	}
	return ""
}
