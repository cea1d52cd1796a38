// Package summary implements minutes summarization: a remote summarizer
// service client and a deterministic local fallback, selected per §4.10.
package summary

import "context"

// Summary is the pluggable summarizer's output, rendered into the minutes PDF.
type Summary struct {
	Headline    string   `json:"headline"`
	Bullets     []string `json:"bullets"`
	ActionItems []string `json:"actionItems"`
}

// Summarizer produces a Summary from a transcript's plain text.
type Summarizer interface {
	Summarize(ctx context.Context, transcriptText string) (*Summary, error)
}
