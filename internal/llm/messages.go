package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gerkensm/vaporvibe/internal/domain"
)

// PromptInput is everything the prompt builder needs to describe one
// render request to the model.
type PromptInput struct {
	Brief       string
	Attachments []domain.Attachment

	Method       string
	Path         string
	Query        domain.Values
	Body         domain.Values
	Instructions string
	Timestamp    time.Time

	// History is the budget-selected slice of prior turns, oldest first.
	History []domain.Turn
	// HistoryTotal is the full branch length, so the model knows how much
	// context was omitted.
	HistoryTotal int
	HistoryBytes int

	// Tables lists the fragment ids the model may reference instead of
	// re-emitting unchanged markup.
	Tables domain.FragmentTables
}

// BuildMessages assembles the ordered prompt for one generation: a system
// message carrying the application brief and output contract, one user
// message per selected history turn, and a final user message for the live
// request.
func BuildMessages(in PromptInput) []Message {
	messages := []Message{{
		Role:        RoleSystem,
		Content:     buildSystemPrompt(in),
		Attachments: in.Attachments,
	}}
	for i, turn := range in.History {
		messages = append(messages, Message{
			Role:    RoleUser,
			Content: renderHistoryTurn(i+1, len(in.History), turn),
		})
	}
	messages = append(messages, Message{Role: RoleUser, Content: renderCurrentRequest(in)})
	return messages
}

func buildSystemPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("You are the entire web application backend. Every HTTP request reaches you, ")
	b.WriteString("and your reply is the complete HTML document the visitor sees next.\n\n")

	b.WriteString("OUTPUT CONTRACT:\n")
	b.WriteString("1) Respond with a single full HTML document (<!DOCTYPE html> through </html>). No prose, no markdown fences.\n")
	b.WriteString("2) Self-contained: inline all CSS and JS. No external resources.\n")
	b.WriteString("3) Keep application state in the markup itself (forms, links, query parameters); there is no other storage.\n")
	b.WriteString("4) Stay consistent with earlier responses in this session: same visual language, same data the user already saw.\n\n")

	writeFragmentGuidance(&b, in.Tables)

	if in.HistoryTotal > len(in.History) {
		fmt.Fprintf(&b, "CONTEXT WINDOW: %d of %d prior exchanges are included below (%d bytes); older ones were trimmed to fit the budget. Rely on the newest exchanges for current state.\n\n",
			len(in.History), in.HistoryTotal, in.HistoryBytes)
	}

	b.WriteString("APPLICATION BRIEF:\n")
	b.WriteString(in.Brief)
	b.WriteString("\n")
	return b.String()
}

// writeFragmentGuidance teaches the model the reuse marker protocol and
// lists the ids currently available in the branch's cache tables.
func writeFragmentGuidance(b *strings.Builder, tables domain.FragmentTables) {
	b.WriteString("FRAGMENT REUSE:\n")
	b.WriteString("- Previous documents were tagged by the server: top-level elements carry data-id attributes, style blocks carry data-style-id attributes. Never add, change, or remove these attributes yourself.\n")
	b.WriteString("- To repeat an unchanged fragment, emit {{component:ID}} or {{style:ID}} in its place; the server expands the marker to the exact stored markup.\n")
	b.WriteString("- Only reference ids listed below. A marker for an unknown id renders as nothing.\n")
	if len(tables.Components) > 0 {
		fmt.Fprintf(b, "- Available components: %s\n", strings.Join(sortedIDs(tables.Components), ", "))
	}
	if len(tables.Styles) > 0 {
		fmt.Fprintf(b, "- Available styles: %s\n", strings.Join(sortedIDs(tables.Styles), ", "))
	}
	b.WriteString("\n")
}

func renderHistoryTurn(index, total int, turn domain.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[PRIOR EXCHANGE %d/%d] %s %s\n", index, total, turn.Request.Method, turn.Request.Path)
	if len(turn.Request.Query) > 0 {
		fmt.Fprintf(&b, "Query: %s\n", compactJSON(turn.Request.Query))
	}
	if len(turn.Request.Body) > 0 {
		fmt.Fprintf(&b, "Body: %s\n", compactJSON(turn.Request.Body))
	}
	if turn.Request.Instructions != "" {
		fmt.Fprintf(&b, "Visitor instructions: %s\n", turn.Request.Instructions)
	}
	b.WriteString("Response document:\n")
	b.WriteString(turn.HTML)
	return b.String()
}

func renderCurrentRequest(in PromptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[CURRENT REQUEST] %s %s\n", in.Method, in.Path)
	if !in.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Time: %s\n", in.Timestamp.UTC().Format(time.RFC3339))
	}
	if len(in.Query) > 0 {
		fmt.Fprintf(&b, "Query: %s\n", compactJSON(in.Query))
	}
	if len(in.Body) > 0 {
		fmt.Fprintf(&b, "Body: %s\n", compactJSON(in.Body))
	}
	if in.Instructions != "" {
		fmt.Fprintf(&b, "Visitor instructions (follow these before anything else): %s\n", in.Instructions)
	}
	b.WriteString("Produce the next HTML document now.")
	return b.String()
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func sortedIDs(table map[string]string) []string {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
