package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateCallID returns a synthetic tool-call identifier in the OpenAI
// "call_" style. Used when client-side XML history carries no id element.
func GenerateCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
