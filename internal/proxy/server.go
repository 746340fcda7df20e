// Package proxy implements the translating reverse proxy in front of the
// structured tool-calling backend.
package proxy

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"toolbridge/internal/diag"
	app_errors "toolbridge/internal/errors"
	"toolbridge/internal/httpclient"
	"toolbridge/internal/response"
	"toolbridge/internal/rules"
	"toolbridge/internal/translate"
	"toolbridge/internal/types"
	"toolbridge/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Headers never forwarded upstream. Content-Length changes with the
// rewritten body and Accept-Encoding would hand us compressed SSE.
var skippedRequestHeaders = map[string]bool{
	"host":            true,
	"content-length":  true,
	"accept-encoding": true,
	"connection":      true,
}

var skippedResponseHeaders = map[string]bool{
	"content-length":    true,
	"transfer-encoding": true,
	"connection":        true,
}

// ProxyServer terminates client chat-completion requests, translates them,
// forwards them upstream, and translates the responses back.
type ProxyServer struct {
	configManager     types.ConfigManager
	httpClientManager *httpclient.HTTPClientManager
	ruleSet           *rules.Set
	sink              diag.Sink
	startTime         time.Time
}

// NewProxyServer creates a new proxy server instance.
func NewProxyServer(
	configManager types.ConfigManager,
	httpClientManager *httpclient.HTTPClientManager,
	ruleSet *rules.Set,
	sink diag.Sink,
) *ProxyServer {
	return &ProxyServer{
		configManager:     configManager,
		httpClientManager: httpClientManager,
		ruleSet:           ruleSet,
		sink:              sink,
		startTime:         time.Now(),
	}
}

// Health reports liveness for monitoring probes.
func (ps *ProxyServer) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"uptime":    time.Since(ps.startTime).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ChatCompletions handles POST /v1/chat/completions.
func (ps *ProxyServer) ChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrBadRequest, "Failed to read request body"))
		return
	}
	if !gjson.ValidBytes(body) {
		response.Error(c, app_errors.ErrInvalidJSON)
		return
	}

	translationConfig := ps.configManager.GetTranslationConfig()
	conv := translate.NewConversation(ps.ruleSet, translate.Options{
		Strict:          translationConfig.StrictSchema,
		ForceToolChoice: translationConfig.ForceToolChoice,
	}, ps.sink)

	outgoing, err := conv.TranslateRequest(body)
	if err != nil {
		response.Error(c, app_errors.NewValidationError(err.Error()))
		return
	}

	streaming := translate.Stream(body)

	resp, apiErr := ps.forward(c, http.MethodPost, "/chat/completions", outgoing)
	if apiErr != nil {
		response.Error(c, apiErr)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ps.relayUpstreamError(c, resp)
		return
	}

	if streaming {
		ps.relayStream(c, resp, conv)
		return
	}
	ps.relayBuffered(c, resp, conv)
}

// Models handles GET /v1/models as a transparent passthrough.
func (ps *ProxyServer) Models(c *gin.Context) {
	resp, apiErr := ps.forward(c, http.MethodGet, "/models", nil)
	if apiErr != nil {
		response.Error(c, apiErr)
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp)
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		logrus.Debugf("Models passthrough interrupted: %v", err)
	}
}

// forward sends a request to the upstream backend and returns the response.
func (ps *ProxyServer) forward(c *gin.Context, method, path string, body []byte) (*http.Response, *app_errors.APIError) {
	upstream := ps.configManager.GetUpstreamConfig()

	client := ps.httpClientManager.GetClient(&httpclient.Config{
		ConnectTimeout:        time.Duration(upstream.ConnectTimeout) * time.Second,
		RequestTimeout:        time.Duration(upstream.RequestTimeout) * time.Second,
		IdleConnTimeout:       time.Duration(upstream.IdleConnTimeout) * time.Second,
		ResponseHeaderTimeout: time.Duration(upstream.ResponseHeaderTimeout) * time.Second,
		MaxIdleConns:          upstream.MaxIdleConns,
		MaxIdleConnsPerHost:   upstream.MaxIdleConnsPerHost,
		DisableCompression:    true,
		ProxyURL:              upstream.ProxyURL,
	})

	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), method, upstream.BaseURL+path, reader)
	if err != nil {
		return nil, app_errors.NewAPIError(app_errors.ErrInternalServer, "Failed to build upstream request")
	}

	for key, values := range c.Request.Header {
		if skippedRequestHeaders[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if upstream.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+upstream.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		logrus.Warnf("Upstream request failed: %v", err)
		return nil, app_errors.NewAPIError(app_errors.ErrBadGateway, fmt.Sprintf("Upstream request failed: %v", err))
	}
	return resp, nil
}

// relayUpstreamError passes a non-2xx upstream response through unchanged so
// the client sees the backend's own error shape.
func (ps *ProxyServer) relayUpstreamError(c *gin.Context, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// Keep the upstream status even when its body is unreadable.
		response.Error(c, app_errors.NewAPIErrorWithUpstream(resp.StatusCode, "UPSTREAM_ERROR",
			"Failed to read upstream error response"))
		return
	}
	logrus.WithFields(logrus.Fields{
		"status": resp.StatusCode,
		"body":   utils.Preview(body, 200),
	}).Warn("Upstream returned an error response")

	copyResponseHeaders(c, resp)
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), body)
}

// relayBuffered reads the complete upstream response, translates it, and
// writes it to the client in one piece.
func (ps *ProxyServer) relayBuffered(c *gin.Context, resp *http.Response, conv *translate.Conversation) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrBadGateway, "Failed to read upstream response"))
		return
	}

	translated, err := conv.TranslateResponse(body)
	if err != nil {
		logrus.Warnf("Response translation failed, relaying original: %v", err)
		translated = body
	}

	copyResponseHeaders(c, resp)
	c.Data(resp.StatusCode, "application/json", translated)
}

// relayStream pumps the upstream SSE stream through the streaming converter,
// forwarding each translated payload as its own event.
func (ps *ProxyServer) relayStream(c *gin.Context, resp *http.Response, conv *translate.Conversation) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(resp.StatusCode)

	flusher, canFlush := c.Writer.(http.Flusher)
	state := conv.NewStream()
	reader := bufio.NewReaderSize(resp.Body, 64*1024)

	writePayloads := func(payloads []string) bool {
		for _, payload := range payloads {
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
				logrus.Debugf("Client closed stream: %v", err)
				return false
			}
		}
		if len(payloads) > 0 && canFlush {
			flusher.Flush()
		}
		return true
	}

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")

		if payload, ok := strings.CutPrefix(trimmed, "data:"); ok {
			if !writePayloads(state.Feed(strings.TrimSpace(payload))) {
				return
			}
		} else if trimmed != "" {
			// Non-data SSE fields (event, id, comments) pass through.
			if _, werr := fmt.Fprintf(c.Writer, "%s\n\n", trimmed); werr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}

		if err != nil {
			if err != io.EOF {
				logrus.Warnf("Upstream stream interrupted: %v", err)
			}
			writePayloads(state.Finish())
			return
		}
	}
}

func copyResponseHeaders(c *gin.Context, resp *http.Response) {
	for key, values := range resp.Header {
		if skippedResponseHeaders[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			c.Writer.Header().Add(key, value)
		}
	}
}
