// Package llm abstracts the single upstream capability the engine
// consumes: turning an ordered message list into a rendered HTML document.
// The call is slow (up to minutes) and fallible; providers that think out
// loud report incremental reasoning through a stream observer before
// returning.
package llm

import (
	"context"

	"github.com/gerkensm/vaporvibe/internal/domain"
)

// Role identifies the author of a prompt message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one entry of the generation prompt.
type Message struct {
	Role        Role
	Content     string
	Attachments []domain.Attachment
}

// Result is the outcome of a successful generation.
type Result struct {
	HTML      string
	Usage     *domain.Usage
	Reasoning *domain.Reasoning
}

// ReasoningEvent is an incremental piece of model "thinking" emitted while
// a generation is in flight.
type ReasoningEvent struct {
	Kind string
	Text string
}

// StreamObserver receives reasoning events. It may be nil when the caller
// does not care about the side channel.
type StreamObserver func(ReasoningEvent)

// Settings describes the active provider configuration.
type Settings struct {
	Provider        string
	Model           string
	MaxOutputTokens int
	ReasoningEffort string
	// ReasoningStream reports whether this provider/mode combination
	// emits incremental reasoning worth exposing to clients.
	ReasoningStream bool
}

// Client is the generate capability.
type Client interface {
	// Generate renders an HTML document from the prompt. The observer, if
	// non-nil, is invoked zero or more times before Generate returns.
	Generate(ctx context.Context, messages []Message, observe StreamObserver) (*Result, error)

	// Settings returns the active provider configuration.
	Settings() Settings
}
