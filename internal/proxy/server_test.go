package proxy_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"toolbridge/internal/config"
	"toolbridge/internal/diag"
	"toolbridge/internal/httpclient"
	"toolbridge/internal/proxy"
	"toolbridge/internal/router"
	"toolbridge/internal/rules"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const toolPrompt = `# Tools

## read_file
Description: Request to read the contents of a file at the specified path.
Parameters:
- path: (required) The path of the file to read.
Usage:
<read_file>
<path>File path here</path>
</read_file>
`

func newTestEngine(t *testing.T, upstream *httptest.Server) *gin.Engine {
	t.Helper()
	t.Setenv("TARGET_BASE_URL", upstream.URL)
	t.Setenv("TARGET_API_KEY", "sk-test")
	t.Setenv("RULES_FILE", "")
	t.Setenv("DUMP_DIR", "")

	configManager, err := config.NewManager()
	require.NoError(t, err)

	server := proxy.NewProxyServer(configManager, httpclient.NewHTTPClientManager(), rules.NewSet(nil), diag.NopSink{})
	return router.NewRouter(configManager, server)
}

func clientRequest(t *testing.T, stream bool) string {
	t.Helper()
	body := `{"model":"test-model"}`
	var err error
	body, err = sjson.Set(body, "messages.0.role", "system")
	require.NoError(t, err)
	body, err = sjson.Set(body, "messages.0.content", toolPrompt)
	require.NoError(t, err)
	body, err = sjson.Set(body, "messages.1.role", "user")
	require.NoError(t, err)
	body, err = sjson.Set(body, "messages.1.content", "Read a.txt please")
	require.NoError(t, err)
	if stream {
		body, err = sjson.Set(body, "stream", true)
		require.NoError(t, err)
	}
	return body
}

func TestChatCompletionsBuffered(t *testing.T) {
	var upstreamBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[{"type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.txt\"}"}}]},"finish_reason":"tool_calls"}]}`))
	}))
	defer upstream.Close()

	engine := newTestEngine(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(clientRequest(t, false)))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	// The upstream saw structured tools, not XML documentation.
	assert.Equal(t, "read_file", gjson.GetBytes(upstreamBody, "tools.0.function.name").String())
	assert.NotContains(t, gjson.GetBytes(upstreamBody, "messages.0.content").String(), "<read_file>")

	// The client got XML markup back, with the structured call gone.
	content := gjson.Get(rec.Body.String(), "choices.0.message.content").String()
	assert.Equal(t, "<read_file><path>a.txt</path></read_file>", content)
	assert.False(t, gjson.Get(rec.Body.String(), "choices.0.message.tool_calls").Exists())
	assert.Equal(t, "stop", gjson.Get(rec.Body.String(), "choices.0.finish_reason").String())
}

func TestChatCompletionsStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.txt\"}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		}
		for _, chunk := range chunks {
			io.WriteString(w, "data: "+chunk+"\n\n")
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	engine := newTestEngine(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(clientRequest(t, true)))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	raw := rec.Body.String()
	assert.Contains(t, raw, "data: [DONE]")

	var content strings.Builder
	sawToolCallDelta := false
	for _, line := range strings.Split(raw, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		if gjson.Get(payload, "choices.0.delta.tool_calls").Exists() {
			sawToolCallDelta = true
		}
		content.WriteString(gjson.Get(payload, "choices.0.delta.content").String())
	}
	assert.False(t, sawToolCallDelta, "structured tool-call deltas must not reach the client")
	assert.Equal(t, "<read_file><path>a.txt</path><id>call_1</id></read_file>", content.String())
}

func TestChatCompletionsUpstreamErrorPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer upstream.Close()

	engine := newTestEngine(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(clientRequest(t, false)))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "bad key", gjson.Get(rec.Body.String(), "error.message").String())
}

func TestChatCompletionsUpstreamErrorBodyUnreadable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declare more bytes than get written, so the relay's body read
		// fails mid-way.
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "short")
	}))
	defer upstream.Close()

	engine := newTestEngine(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(clientRequest(t, false)))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	// The upstream status survives even though its body was cut off.
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "UPSTREAM_ERROR", gjson.Get(rec.Body.String(), "code").String())
}

func TestChatCompletionsRejectsInvalidJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be reached")
	}))
	defer upstream.Close()

	engine := newTestEngine(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelsPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"test-model"}]}`))
	}))
	defer upstream.Close()

	engine := newTestEngine(t, upstream)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test-model", gjson.Get(rec.Body.String(), "data.0.id").String())
}

func TestHealth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	engine := newTestEngine(t, upstream)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", gjson.Get(rec.Body.String(), "status").String())
}
