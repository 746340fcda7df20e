package translate

import (
	"testing"

	"toolbridge/internal/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTool() *catalog.Tool {
	return &catalog.Tool{
		Name: "demo",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":  map[string]any{"type": "string"},
				"line":  map[string]any{"type": "integer"},
				"flag":  map[string]any{"type": "boolean"},
				"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"inner": map[string]any{"type": "object", "properties": map[string]any{"x": map[string]any{"type": "number"}}, "required": []string{"x"}},
			},
			"required": []string{"path"},
		},
	}
}

func TestValidateCallPermissive(t *testing.T) {
	v := &Validator{Strict: false}
	out, err := v.ValidateCall(nil, `{"anything":"goes"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"anything":"goes"}`, out)
}

func TestValidateCallStrict(t *testing.T) {
	v := &Validator{Strict: true}

	tests := []struct {
		name    string
		args    string
		want    string
		wantErr bool
	}{
		{name: "valid passthrough", args: `{"path":"a.txt"}`, want: `{"path":"a.txt"}`},
		{name: "missing required", args: `{"line":1}`, wantErr: true},
		{name: "number from string", args: `{"path":"a","line":"42"}`, want: `{"path":"a","line":42}`},
		{name: "boolean from string", args: `{"path":"a","flag":"true"}`, want: `{"path":"a","flag":true}`},
		{name: "string from number", args: `{"path":7}`, want: `{"path":"7"}`},
		{name: "bad number", args: `{"path":"a","line":"x"}`, wantErr: true},
		{name: "bad boolean", args: `{"path":"a","flag":"maybe"}`, wantErr: true},
		{name: "object for string", args: `{"path":{"a":1}}`, wantErr: true},
		{name: "array items coerced", args: `{"path":"a","tags":[1,"b"]}`, want: `{"path":"a","tags":["1","b"]}`},
		{name: "scalar for array", args: `{"path":"a","tags":"x"}`, wantErr: true},
		{name: "nested required missing", args: `{"path":"a","inner":{}}`, wantErr: true},
		{name: "nested coercion", args: `{"path":"a","inner":{"x":"1.5"}}`, want: `{"path":"a","inner":{"x":1.5}}`},
		{name: "unknown keys tolerated", args: `{"path":"a","extra":true}`, want: `{"path":"a","extra":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := v.ValidateCall(testTool(), tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestValidateCallRejectsNonObject(t *testing.T) {
	v := &Validator{Strict: true}
	_, err := v.ValidateCall(testTool(), `["not","an","object"]`)
	assert.Error(t, err)

	_, err = v.ValidateCall(nil, `{}`)
	assert.Error(t, err)
}
