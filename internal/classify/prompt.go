package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/spend-tracker/internal/scanning"
)

// GenerationConfig holds the sampling parameters sent with a prompt
type GenerationConfig struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// DefaultGenerationConfig keeps answers short and close to deterministic
var DefaultGenerationConfig = GenerationConfig{
	MaxTokens:   150,
	Temperature: 0.2,
	TopP:        0.9,
}

// Prompt is a complete classification request
type Prompt struct {
	Text   string
	Config GenerationConfig
}

const promptTemplate = `You are a transaction classifier.
Choose ONE category that best fits the purchase details from the following list:
%s

Return only JSON in this exact format:
{"predicted_category": "<chosen_category>"}

The value must be exactly one category from the list. Do not include any other text.
If unsure, choose %q.

Transaction details:
Vendor: %s
Items: %s
Total: %s`

// BuildPrompt renders the classification prompt for a record. The total is
// the text read from the receipt, not the normalized amount.
func BuildPrompt(record scanning.Record, set CategorySet) Prompt {
	descriptions := make([]string, 0, len(record.Items))
	for _, item := range record.Items {
		descriptions = append(descriptions, item.Description)
	}

	// json.Marshal of []string cannot fail
	categories, _ := json.Marshal(set.Labels())

	return Prompt{
		Text: fmt.Sprintf(promptTemplate,
			categories,
			set.CatchAll(),
			record.Vendor,
			strings.Join(descriptions, ", "),
			record.RawTotal,
		),
		Config: DefaultGenerationConfig,
	}
}
