package translate

import (
	"fmt"
	"strings"

	"toolbridge/internal/diag"
	"toolbridge/internal/rules"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// streamPhase is the explicit state of the streaming converter.
type streamPhase int

const (
	// phaseText relays plain content fragments.
	phaseText streamPhase = iota
	// phaseCall buffers tool-call fragments until the call is complete.
	phaseCall
)

// StreamState converts one streamed backend response incrementally. Plain
// content passes through; structured tool-call deltas are buffered and
// withheld until the call is fully received, then emitted as one rendered
// XML block. Emitting partial tags would hand the client markup it cannot
// parse, so completeness wins over immediacy.
//
// One StreamState exists per in-flight response and is discarded when the
// stream ends or aborts.
type StreamState struct {
	conv *Conversation

	phase         streamPhase
	role          string
	choiceIndex   int64
	toolCallIndex int64

	idBuf   strings.Builder
	nameBuf strings.Builder
	argsBuf strings.Builder
	// template is the raw JSON of the last chunk that carried a fragment
	// of the buffered call; the rendered XML is emitted on its shape.
	template string

	// textBuf holds content awaiting a safe rule-application boundary.
	// It stays empty when no rule targets the completion role.
	textBuf    strings.Builder
	bufferText bool
	done       bool
}

// NewStream creates the streaming converter for this conversation. Content
// buffering for rule application only engages when a rule actually targets
// the completion role, keeping the common case latency-free.
func (c *Conversation) NewStream() *StreamState {
	return &StreamState{
		conv:       c,
		bufferText: c.ruleSet.HasRole(rules.RoleCompletion),
	}
}

// Feed consumes one SSE data payload (without the "data: " prefix) and
// returns the payloads to forward to the client, in order.
func (s *StreamState) Feed(payload string) []string {
	if s.done {
		return nil
	}
	payload = strings.TrimSpace(payload)

	if payload == "[DONE]" {
		out := s.finishPayloads()
		out = append(out, "[DONE]")
		s.done = true
		return out
	}

	if !gjson.Valid(payload) {
		return []string{payload}
	}

	var out []string
	choice := gjson.Get(payload, "choices.0")
	delta := choice.Get("delta")
	toolCalls := delta.Get("tool_calls")

	// A buffered call flushes when the stream moves on: the deltas stop
	// carrying tool-call fragments, the role or choice changes, or a
	// finish_reason arrives.
	if s.phase == phaseCall {
		roleChanged := delta.Get("role").Exists() && delta.Get("role").String() != s.role
		choiceChanged := choice.Get("index").Exists() && choice.Get("index").Int() != s.choiceIndex
		if !delta.Exists() || !toolCalls.IsArray() || roleChanged || choiceChanged {
			if flushed, ok := s.flushCall(); ok {
				out = append(out, flushed)
			}
		}
	}

	if delta.Get("role").Exists() {
		s.role = delta.Get("role").String()
	}
	if choice.Get("index").Exists() {
		s.choiceIndex = choice.Get("index").Int()
	}

	if s.role == "assistant" && toolCalls.IsArray() {
		call := toolCalls.Get("0")
		if s.phase == phaseCall && call.Get("index").Exists() && call.Get("index").Int() != s.toolCallIndex {
			if flushed, ok := s.flushCall(); ok {
				out = append(out, flushed)
			}
		}
		if call.Exists() {
			s.phase = phaseCall
			s.nameBuf.WriteString(call.Get("function.name").String())
			s.argsBuf.WriteString(call.Get("function.arguments").String())
			s.idBuf.WriteString(call.Get("id").String())
			if call.Get("index").Exists() {
				s.toolCallIndex = call.Get("index").Int()
			}
			s.template = payload
		}
	}

	if choice.Get("finish_reason").Exists() && choice.Get("finish_reason").Type != gjson.Null {
		if s.phase == phaseCall {
			if flushed, ok := s.flushCall(); ok {
				out = append(out, flushed)
			}
		}
		if flushed := s.flushTextBuffer(true); flushed != "" {
			tmpl, _ := sjson.Delete(payload, "choices.0.finish_reason")
			out = append(out, s.contentChunk(tmpl, flushed))
		}
	}

	if forwarded, ok := s.forwardChunk(payload, delta, toolCalls); ok {
		out = append(out, forwarded)
	}
	return out
}

// Finish handles an aborted or exhausted stream without a [DONE] marker.
// An incomplete buffered call is discarded and reported as data loss.
func (s *StreamState) Finish() []string {
	if s.done {
		return nil
	}
	s.done = true
	return s.finishPayloads()
}

func (s *StreamState) finishPayloads() []string {
	var out []string
	if s.phase == phaseCall {
		if flushed, ok := s.flushCall(); ok {
			out = append(out, flushed)
		}
	}
	if flushed := s.flushTextBuffer(true); flushed != "" {
		out = append(out, s.contentChunk(s.template, flushed))
	}
	return out
}

// forwardChunk prepares one backend chunk for the client: tool-call deltas
// are stripped (the buffered call is emitted separately), content may be
// withheld for rule application, and finish_reason is rewritten.
func (s *StreamState) forwardChunk(payload string, delta, toolCalls gjson.Result) (string, bool) {
	out := payload

	if toolCalls.Exists() {
		out, _ = sjson.Delete(out, "choices.0.delta.tool_calls")
		// Chunks that carried nothing but call fragments are withheld.
		remaining := gjson.Get(out, "choices.0.delta")
		if !remaining.Get("content").Exists() && !remaining.Get("role").Exists() &&
			!gjson.Get(out, "choices.0.finish_reason").Exists() {
			return "", false
		}
	}

	if s.bufferText {
		if content := gjson.Get(out, "choices.0.delta.content"); content.Exists() && content.String() != "" {
			s.textBuf.WriteString(content.String())
			flushed := s.flushTextBuffer(false)
			if flushed == "" {
				// Withhold the chunk until a safe boundary arrives,
				// unless it carries more than content.
				if !gjson.Get(out, "choices.0.delta.role").Exists() &&
					!gjson.Get(out, "choices.0.finish_reason").Exists() {
					return "", false
				}
				out, _ = sjson.Delete(out, "choices.0.delta.content")
			} else {
				out, _ = sjson.Set(out, "choices.0.delta.content", flushed)
			}
		}
	}

	if gjson.Get(out, "choices.0.finish_reason").String() == "tool_calls" {
		out, _ = sjson.Set(out, "choices.0.finish_reason", "stop")
	}
	return out, true
}

// flushTextBuffer returns rule-applied text up to the last whitespace
// boundary, or the whole buffer when final. Regex rules assume complete
// text, so fragments are only released at boundaries.
func (s *StreamState) flushTextBuffer(final bool) string {
	if !s.bufferText || s.textBuf.Len() == 0 {
		return ""
	}
	buf := s.textBuf.String()
	if final {
		s.textBuf.Reset()
		return s.conv.pass.ApplyCompletion(buf)
	}
	boundary := strings.LastIndexAny(buf, " \t\n")
	if boundary < 0 {
		return ""
	}
	s.textBuf.Reset()
	s.textBuf.WriteString(buf[boundary+1:])
	return s.conv.pass.ApplyCompletion(buf[:boundary+1])
}

// flushCall renders the buffered tool call as one content chunk. A call
// whose arguments never became parseable JSON is discarded and surfaced
// as a data-loss event rather than fabricated.
func (s *StreamState) flushCall() (string, bool) {
	name := s.nameBuf.String()
	args := s.argsBuf.String()
	id := s.idBuf.String()
	template := s.template

	s.nameBuf.Reset()
	s.argsBuf.Reset()
	s.idBuf.Reset()
	s.template = ""
	s.phase = phaseText

	if name == "" && args == "" {
		return "", false
	}
	if !gjson.Valid(strings.TrimSpace(args)) {
		s.conv.sink.Event(diag.EventCallTruncated,
			fmt.Sprintf("discarding incomplete streamed call %s (%d argument bytes buffered)", name, len(args)))
		return "", false
	}

	rendered := s.conv.renderClientCall(name, args, id)
	rendered = s.conv.pass.ApplyCompletion(rendered)
	return s.contentChunk(template, rendered), true
}

// contentChunk rebuilds a chunk on the given template with the delta
// replaced by plain content.
func (s *StreamState) contentChunk(template, content string) string {
	if template == "" || !gjson.Valid(template) {
		template = `{"choices":[{"index":0,"delta":{}}]}`
	}
	out, _ := sjson.Delete(template, "choices.0.delta.tool_calls")
	out, _ = sjson.Set(out, "choices.0.delta.content", content)
	if gjson.Get(out, "choices.0.finish_reason").String() == "tool_calls" {
		out, _ = sjson.Set(out, "choices.0.finish_reason", "stop")
	}
	return out
}
