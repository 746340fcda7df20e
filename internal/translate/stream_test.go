package translate

import (
	"strings"
	"testing"

	"toolbridge/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func collectContent(payloads []string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString(gjson.Get(p, "choices.0.delta.content").String())
	}
	return b.String()
}

func TestStreamPlainTextPassesThrough(t *testing.T) {
	conv, _ := newTestConversation(t, Options{Strict: true})
	state := conv.NewStream()

	chunk := `{"id":"c1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`
	out := state.Feed(chunk)
	require.Len(t, out, 1)
	assert.Equal(t, chunk, out[0])

	out = state.Feed("[DONE]")
	require.Len(t, out, 1)
	assert.Equal(t, "[DONE]", out[0])
}

func TestStreamBuffersToolCallUntilComplete(t *testing.T) {
	conv, _ := newTestConversation(t, Options{Strict: true})
	state := conv.NewStream()

	chunks := []string{
		`{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"pa"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"a.txt\"}"}}]}}]}`,
	}

	var emitted []string
	for _, chunk := range chunks {
		out := state.Feed(chunk)
		emitted = append(emitted, out...)
		// No fragment of the pending call may leak while it accumulates.
		for _, p := range out {
			assert.NotContains(t, p, "read_file")
			assert.NotContains(t, p, "path")
			assert.NotContains(t, p, "<")
		}
	}

	finish := `{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`
	out := state.Feed(finish)
	emitted = append(emitted, out...)
	require.NotEmpty(t, out)

	full := collectContent(emitted)
	assert.Equal(t, "<read_file><path>a.txt</path><id>call_1</id></read_file>", full)

	// The finish chunk reaches the client with a rewritten reason.
	last := out[len(out)-1]
	assert.Equal(t, "stop", gjson.Get(last, "choices.0.finish_reason").String())

	out = state.Feed("[DONE]")
	assert.Equal(t, []string{"[DONE]"}, out)
}

func TestStreamFlushesOnToolCallIndexChange(t *testing.T) {
	conv, _ := newTestConversation(t, Options{Strict: true})
	state := conv.NewStream()

	state.Feed(`{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"a","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.txt\"}"}}]}}]}`)
	out := state.Feed(`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"b","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"b.txt\"}"}}]}}]}`)

	require.NotEmpty(t, out)
	assert.Contains(t, collectContent(out), "<read_file><path>a.txt</path><id>a</id></read_file>")

	out = state.Feed(`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`)
	assert.Contains(t, collectContent(out), "<read_file><path>b.txt</path><id>b</id></read_file>")
}

func TestStreamDiscardsTruncatedCall(t *testing.T) {
	conv, _ := newTestConversation(t, Options{Strict: true})
	state := conv.NewStream()

	state.Feed(`{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"pa"}}]}}]}`)

	// The stream aborts mid-call; the incomplete call must not surface.
	out := state.Finish()
	for _, p := range out {
		assert.NotContains(t, p, "read_file")
		assert.NotContains(t, p, "<")
	}
}

func TestStreamInvalidPayloadPassesThrough(t *testing.T) {
	conv, _ := newTestConversation(t, Options{})
	state := conv.NewStream()

	out := state.Feed("not json")
	assert.Equal(t, []string{"not json"}, out)
}

func TestStreamAppliesCompletionRules(t *testing.T) {
	r := "there"
	set := rules.NewSet([]rules.Rule{
		{Role: rules.RoleCompletion, Pattern: `world`, Replace: &r},
	})
	conv := NewConversation(set, Options{}, nil)
	_, err := conv.TranslateRequest(requestBody(t, systemMessage(t)))
	require.NoError(t, err)

	state := conv.NewStream()
	var emitted []string
	emitted = append(emitted, state.Feed(`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Hello wo"}}]}`)...)
	emitted = append(emitted, state.Feed(`{"choices":[{"index":0,"delta":{"content":"rld again"}}]}`)...)
	emitted = append(emitted, state.Feed("[DONE]")...)

	full := collectContent(emitted)
	assert.Equal(t, "Hello there again", full)
	assert.Equal(t, "[DONE]", emitted[len(emitted)-1])
}

func TestStreamIgnoresInputAfterDone(t *testing.T) {
	conv, _ := newTestConversation(t, Options{})
	state := conv.NewStream()

	state.Feed("[DONE]")
	assert.Nil(t, state.Feed(`{"choices":[{"index":0,"delta":{"content":"late"}}]}`))
	assert.Nil(t, state.Finish())
}
