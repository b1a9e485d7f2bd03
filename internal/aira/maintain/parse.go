package maintain

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// summarySchema describes the structured summary object the model is asked
// to return. Output that parses as JSON but does not match this shape is
// treated the same as unparseable output: stored raw, never merged as facts.
var summarySchema = jsonschema.MustCompileString("summary.json", `{
	"type": "object",
	"properties": {
		"profile_summary":  {"type": "string"},
		"important_facts":  {},
		"current_concerns": {}
	},
	"required": ["profile_summary"]
}`)

// ParseSummaryFacts interprets the summarization model's output as the facts
// map to merge into the memory record. Valid structured output is merged
// key-wise; anything else falls back to {"summary": raw} so the text is
// preserved verbatim.
func ParseSummaryFacts(raw string) map[string]any {
	fallback := map[string]any{"summary": raw}

	var parsed any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return fallback
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return fallback
	}
	if err := summarySchema.Validate(parsed); err != nil {
		return fallback
	}
	return obj
}

// Analysis is the structured result of the per-message analysis job.
type Analysis struct {
	Sentiment      string   `json:"sentiment"`
	SentimentScore float64  `json:"sentiment_score"`
	Topics         []string `json:"topics"`
}

// NeutralAnalysis is the defined fallback when classification output cannot
// be parsed.
func NeutralAnalysis() Analysis {
	return Analysis{Sentiment: "neutral", SentimentScore: 0.0, Topics: nil}
}

// validSentiments is the closed set the model may return.
var validSentiments = map[string]struct{}{
	"positive": {},
	"neutral":  {},
	"negative": {},
}

// ParseAnalysis decodes the analysis model's output, returning the neutral
// default on any parse failure or out-of-range value. It never fails.
func ParseAnalysis(raw string) Analysis {
	var a Analysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &a); err != nil {
		return NeutralAnalysis()
	}
	if _, ok := validSentiments[a.Sentiment]; !ok {
		return NeutralAnalysis()
	}
	if a.SentimentScore < -1 || a.SentimentScore > 1 {
		return NeutralAnalysis()
	}
	return a
}
