// Package domain defines the shared data model of the render engine:
// sessions are made of branches, branches are append-only sequences of
// turns, and every turn snapshots the fragment-cache tables that were
// valid when it was committed.
package domain

import "time"

// Usage captures token accounting reported by the model provider.
type Usage struct {
	InputTokens     int `json:"input_tokens,omitempty"`
	OutputTokens    int `json:"output_tokens,omitempty"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
	TotalTokens     int `json:"total_tokens,omitempty"`
}

// Reasoning holds the model's reasoning trace, when the provider emits one.
type Reasoning struct {
	Summaries []string `json:"summaries,omitempty"`
	Details   []string `json:"details,omitempty"`
}

// Attachment is a binary payload (image, document) supplied alongside the
// application brief and forwarded to providers that accept image input.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
	Base64   string `json:"base64,omitempty"`
}

// TurnRequest is the request half of a turn. Query and Body are duck-typed
// key-value maps; Instructions is the free-form steering text stripped from
// the submitted form before it is treated as page state.
type TurnRequest struct {
	Method       string `json:"method"`
	Path         string `json:"path"`
	Query        Values `json:"query,omitempty"`
	Body         Values `json:"body,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Turn is one committed request/response exchange within a branch. Turns
// are immutable once created and appended in completion order.
type Turn struct {
	ID          string         `json:"id"`
	BranchID    string         `json:"branch_id"`
	CreatedAt   time.Time      `json:"created_at"`
	Duration    time.Duration  `json:"duration_ns"`
	Request     TurnRequest    `json:"request"`
	HTML        string         `json:"html"`
	Provider    string         `json:"provider,omitempty"`
	Model       string         `json:"model,omitempty"`
	Usage       *Usage         `json:"usage,omitempty"`
	Reasoning   *Reasoning     `json:"reasoning,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Fragments   FragmentTables `json:"fragments"`
}
