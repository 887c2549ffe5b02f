// Package inference holds the language model backends used for classification.
package inference

import (
	"context"
	"strings"

	"github.com/zombor/spend-tracker/internal/classify"
)

// Model defines the interface for text generation services
type Model interface {
	// Generate returns the raw text the model produced for the prompt
	Generate(ctx context.Context, prompt classify.Prompt) (string, error)
	// Close releases the client's resources
	Close() error
}

// trimCodeFence removes a surrounding markdown code block if present
func trimCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
