package translate

import (
	"fmt"
	"strings"

	"toolbridge/internal/catalog"
	"toolbridge/internal/diag"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// TranslateResponse rewrites a complete backend response for the client:
// structured tool calls become XML markup appended to the message content,
// the tool_calls field disappears, finish_reason tool_calls becomes stop,
// and completion-role replacement rules run over the final text. All other
// response fields pass through untouched.
func (c *Conversation) TranslateResponse(body []byte) ([]byte, error) {
	out := string(body)

	choiceIdx := 0
	gjson.GetBytes(body, "choices").ForEach(func(_, choice gjson.Result) bool {
		msg := choice.Get("message")
		prefix := fmt.Sprintf("choices.%d", choiceIdx)
		choiceIdx++

		content := msg.Get("content").String()

		if msg.Get("role").String() == "assistant" && msg.Get("tool_calls").IsArray() {
			var parts []string
			msg.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
				rendered := c.renderClientCall(
					call.Get("function.name").String(),
					call.Get("function.arguments").String(),
					call.Get("id").String(),
				)
				if rendered != "" {
					parts = append(parts, rendered)
				}
				return true
			})
			content += strings.Join(parts, "\n")
			out, _ = sjson.Delete(out, prefix+".message.tool_calls")
		}

		content = c.pass.ApplyCompletion(content)
		out, _ = sjson.Set(out, prefix+".message.content", content)

		if choice.Get("finish_reason").String() == "tool_calls" {
			out, _ = sjson.Set(out, prefix+".finish_reason", "stop")
		}
		return true
	})

	return []byte(out), nil
}

// renderClientCall converts one structured call into client XML markup.
// Calls that fail schema validation under strict mode, or that map to no
// cataloged tool, are downgraded to a plain-text rendering of the call so
// the client still sees what the backend produced.
func (c *Conversation) renderClientCall(name, argsJSON, id string) string {
	argsJSON = strings.TrimSpace(argsJSON)
	fallback := fmt.Sprintf("%s arguments: %s", name, argsJSON)

	if !gjson.Valid(argsJSON) || !gjson.Parse(argsJSON).IsObject() {
		c.sink.Event(diag.EventCallRejected, fmt.Sprintf("tool call %s carries malformed arguments", name))
		return fallback
	}

	backendTool := c.catalog.BackendLookup(name)
	validated, err := c.validator.ValidateCall(backendTool, argsJSON)
	if err != nil {
		c.sink.Event(diag.EventCallRejected, fmt.Sprintf("tool call %s failed validation: %v", name, err))
		return fallback
	}

	if params := c.catalog.StrictParameters(name); params != nil {
		if pruned := catalog.PruneNulls(validated, params); gjson.Valid(pruned) {
			validated = pruned
		}
	}

	clientName, clientArgs := c.catalog.ToClientCall(name, validated)
	if c.catalog.ClientLookup(clientName) == nil {
		c.sink.Event(diag.EventCallRejected, fmt.Sprintf("tool call %s has no client grammar", name))
		return fallback
	}
	return renderCallXML(clientName, clientArgs, id)
}
