package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClientReusesByFingerprint(t *testing.T) {
	manager := NewHTTPClientManager()

	config := &Config{
		ConnectTimeout:      10 * time.Second,
		RequestTimeout:      60 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	first := manager.GetClient(config)
	second := manager.GetClient(config)
	require.NotNil(t, first)
	assert.Same(t, first, second)

	other := *config
	other.RequestTimeout = 120 * time.Second
	third := manager.GetClient(&other)
	assert.NotSame(t, first, third)
}

func TestGetClientInvalidProxyFallsBack(t *testing.T) {
	manager := NewHTTPClientManager()
	client := manager.GetClient(&Config{
		RequestTimeout: time.Second,
		ProxyURL:       "ftp://unsupported",
	})
	require.NotNil(t, client)
}
