package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/zombor/spend-tracker/internal/classify"
)

// BedrockAPI is the subset of the Bedrock runtime client used for inference
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// payloadFamily selects the request and response body shape for a model ID
type payloadFamily int

const (
	familyTitan payloadFamily = iota
	familyAnthropic
)

const anthropicVersion = "bedrock-2023-05-31"

// Bedrock implements the Model interface using AWS Bedrock InvokeModel
type Bedrock struct {
	client  BedrockAPI
	modelID string
	family  payloadFamily
}

// NewBedrock creates a Bedrock Model. Titan text and Anthropic model IDs are supported.
func NewBedrock(client BedrockAPI, modelID string) (*Bedrock, error) {
	if modelID == "" {
		modelID = "amazon.titan-text-express-v1"
	}

	var family payloadFamily
	// Cross-region inference profiles prefix the ID with a geography, e.g. "us."
	base := modelID
	if i := strings.Index(base, "."); i > 0 && i <= 4 {
		base = base[i+1:]
	}
	switch {
	case strings.HasPrefix(base, "amazon.titan-text"):
		family = familyTitan
	case strings.HasPrefix(base, "anthropic."):
		family = familyAnthropic
	default:
		return nil, fmt.Errorf("unsupported bedrock model %q", modelID)
	}

	return &Bedrock{
		client:  client,
		modelID: modelID,
		family:  family,
	}, nil
}

type titanRequest struct {
	InputText            string              `json:"inputText"`
	TextGenerationConfig titanGenerateConfig `json:"textGenerationConfig"`
}

type titanGenerateConfig struct {
	MaxTokenCount int     `json:"maxTokenCount"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"topP"`
}

type titanResponse struct {
	Results []struct {
		OutputText string `json:"outputText"`
	} `json:"results"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

func (b *Bedrock) requestBody(prompt classify.Prompt) ([]byte, error) {
	cfg := prompt.Config
	switch b.family {
	case familyAnthropic:
		return json.Marshal(anthropicRequest{
			AnthropicVersion: anthropicVersion,
			MaxTokens:        cfg.MaxTokens,
			Temperature:      cfg.Temperature,
			Messages: []anthropicMessage{{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: prompt.Text}},
			}},
		})
	default:
		return json.Marshal(titanRequest{
			InputText: prompt.Text,
			TextGenerationConfig: titanGenerateConfig{
				MaxTokenCount: cfg.MaxTokens,
				Temperature:   cfg.Temperature,
				TopP:          cfg.TopP,
			},
		})
	}
}

func (b *Bedrock) responseText(body []byte) (string, error) {
	switch b.family {
	case familyAnthropic:
		var resp anthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decoding response: %w", err)
		}
		var text strings.Builder
		for _, c := range resp.Content {
			if c.Type == "text" {
				text.WriteString(c.Text)
			}
		}
		if text.Len() == 0 {
			return "", fmt.Errorf("no text content in bedrock response")
		}
		return text.String(), nil
	default:
		var resp titanResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decoding response: %w", err)
		}
		if len(resp.Results) == 0 {
			return "", fmt.Errorf("no results in bedrock response")
		}
		return resp.Results[0].OutputText, nil
	}
}

// Generate invokes the model once and returns its output text
func (b *Bedrock) Generate(ctx context.Context, prompt classify.Prompt) (string, error) {
	body, err := b.requestBody(prompt)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("invoking bedrock model %s: %w", b.modelID, err)
	}

	text, err := b.responseText(out.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Close is a no-op; the AWS client holds no resources that need releasing
func (b *Bedrock) Close() error {
	return nil
}
