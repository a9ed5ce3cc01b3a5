// Package history selects the slice of prior turns that fits a prompt
// budget. Selection is a pure function over the branch's turn list: a
// trailing count limit first, then a byte budget walked from the most
// recent turn backward.
package history

import (
	"encoding/json"

	"github.com/gerkensm/vaporvibe/internal/domain"
)

// entryOverheadBytes is a fixed cushion per turn for labels and formatting
// noise added when the turn is rendered into the prompt.
const entryOverheadBytes = 1024

// Selection is the outcome of a budget walk.
type Selection struct {
	Entries []domain.Turn
	Bytes   int
}

// Select returns the trailing subset of turns that fits both maxCount and
// maxBytes. A non-positive limit disables that limit. The most recent turn
// is always included even when it alone exceeds the byte budget: a single
// oversized turn must not silently produce an empty context.
func Select(turns []domain.Turn, maxCount, maxBytes int) Selection {
	if len(turns) == 0 {
		return Selection{}
	}
	if maxCount > 0 && len(turns) > maxCount {
		turns = turns[len(turns)-maxCount:]
	}

	budget := maxBytes
	if budget <= 0 {
		budget = int(^uint(0) >> 1)
	}

	start := len(turns)
	bytes := 0
	for i := len(turns) - 1; i >= 0; i-- {
		size := EstimateTurnSize(turns[i])
		if start < len(turns) && bytes+size > budget {
			break
		}
		start = i
		bytes += size
	}

	entries := make([]domain.Turn, len(turns)-start)
	copy(entries, turns[start:])
	return Selection{Entries: entries, Bytes: bytes}
}

// EstimateTurnSize approximates the serialized size of a turn inside the
// prompt: request fields, response document, usage and reasoning text, and
// attachment payloads, plus the per-entry overhead constant.
func EstimateTurnSize(turn domain.Turn) int {
	size := len(turn.Request.Method) + len(turn.Request.Path)
	size += jsonLen(turn.Request.Query)
	size += jsonLen(turn.Request.Body)
	size += len(turn.Request.Instructions)
	size += len(turn.HTML)
	if turn.Usage != nil {
		size += jsonLen(turn.Usage)
	}
	if turn.Reasoning != nil {
		for _, s := range turn.Reasoning.Summaries {
			size += len(s) + 1
		}
		for _, d := range turn.Reasoning.Details {
			size += len(d) + 1
		}
	}
	for _, att := range turn.Attachments {
		size += len(att.Base64) + len(att.Name) + len(att.MimeType)
	}
	return size + entryOverheadBytes
}

func jsonLen(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}
