package classify

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Stage names the parsing strategy that produced a category
type Stage string

const (
	StageJSON     Stage = "json"
	StageContains Stage = "contains"
	StageUnknown  Stage = "unknown"
)

// Result is the category chosen for a response
type Result struct {
	Category string `json:"category"`
	Stage    Stage  `json:"stage"`
}

// DefaultFieldNames are the JSON keys read from a structured answer, in order
var DefaultFieldNames = []string{"predicted_category", "category"}

// strategy returns a category and true when it can decide
type strategy struct {
	stage Stage
	parse func(raw string) (string, bool)
}

// Parser resolves model responses against a category set
type Parser struct {
	set        CategorySet
	fieldNames []string
	strategies []strategy
}

// ParserOption configures a Parser
type ParserOption func(*Parser)

// WithFieldNames sets the JSON keys that may carry the category
func WithFieldNames(names ...string) ParserOption {
	return func(p *Parser) {
		p.fieldNames = names
	}
}

// NewParser creates a Parser for the given category set
func NewParser(set CategorySet, opts ...ParserOption) *Parser {
	p := &Parser{
		set:        set,
		fieldNames: DefaultFieldNames,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.strategies = []strategy{
		{stage: StageJSON, parse: p.fromJSON},
		{stage: StageContains, parse: p.fromContains},
	}
	return p
}

// Parse returns the first category any strategy finds, or Unknown.
// Every strategy sees the original response text.
func (p *Parser) Parse(raw string) Result {
	for _, s := range p.strategies {
		if category, ok := s.parse(raw); ok {
			return Result{Category: category, Stage: s.stage}
		}
	}

	slog.Warn("Could not determine category from model output", "raw", raw)
	return Result{Category: Unknown, Stage: StageUnknown}
}

// jsonFragment returns the text between the first '{' and the last '}'
func jsonFragment(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	if start == -1 {
		return "", false
	}
	end := strings.LastIndex(raw, "}")
	if end < start {
		return "", false
	}
	return raw[start : end+1], true
}

// fromJSON accepts a structured answer only if it names a known category
func (p *Parser) fromJSON(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if fragment, ok := jsonFragment(text); ok {
		text = fragment
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return "", false
	}

	for _, name := range p.fieldNames {
		value, ok := obj[name].(string)
		if !ok {
			continue
		}
		if category, ok := p.set.Lookup(value); ok {
			return category, true
		}
		slog.Debug("Structured category not in set", "field", name, "value", value)
	}
	return "", false
}

// fromContains picks the first label, in declared order, found in the text
func (p *Parser) fromContains(raw string) (string, bool) {
	cleaned := strings.ToLower(strings.Trim(strings.TrimSpace(raw), "\"'`"))
	if cleaned == "" {
		return "", false
	}

	for _, label := range p.set.labels {
		if strings.Contains(cleaned, strings.ToLower(label)) {
			return label, true
		}
	}
	return "", false
}
