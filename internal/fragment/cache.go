// Package fragment deduplicates repeated HTML/CSS across turns. A rendered
// document may carry {{component:ID}} / {{style:ID}} markers the model left
// in place of markup it already emitted in an earlier turn; Apply resolves
// those against the branch's accumulated tables and then extracts the
// document's own cacheable fragments so future turns can reference them.
//
// Apply works on the raw document text with a small tag scanner instead of
// a re-serializing HTML parser: markup outside tagged fragments and markers
// must survive byte-identical.
package fragment

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gerkensm/vaporvibe/internal/domain"
)

const (
	// ComponentIDPrefix and StyleIDPrefix are the id namespaces assigned to
	// extracted fragments. Ids grow monotonically per category within a
	// session lineage and are never reused, even across branch forks.
	ComponentIDPrefix = "vv-gen-"
	StyleIDPrefix     = "vv-style-"
)

var (
	markerPattern      = regexp.MustCompile(`\{\{\s*(component|style)\s*:\s*([A-Za-z0-9._-]+)\s*\}\}`)
	componentIDPattern = regexp.MustCompile(`vv-gen-(\d+)`)
	styleIDPattern     = regexp.MustCompile(`vv-style-(\d+)`)
	dataIDPattern      = regexp.MustCompile(`data-id\s*=\s*"([^"]*)"`)
	dataStyleIDPattern = regexp.MustCompile(`data-style-id\s*=\s*"([^"]*)"`)
)

// componentTags are the top-level body children considered cacheable.
var componentTags = map[string]bool{
	"header":  true,
	"footer":  true,
	"nav":     true,
	"main":    true,
	"aside":   true,
	"section": true,
	"div":     true,
}

// IDSet lists fragment ids per category.
type IDSet struct {
	Components []string
	Styles     []string
}

// Result is the outcome of one Apply pass over a rendered document.
type Result struct {
	// Document is the final markup: markers resolved, fragment ids
	// assigned, everything else untouched.
	Document string
	// Tables are the updated lookup tables including this document's
	// extracted fragments.
	Tables domain.FragmentTables
	// Resolved lists markers that matched a table entry.
	Resolved IDSet
	// Missing lists markers with no table entry. They are left in place in
	// the document; callers treat them as a warning signal of model drift.
	Missing IDSet
}

// Apply resolves reuse markers against tables, then extracts the resolved
// document's cacheable fragments into updated tables. Both passes are pure
// and total: malformed or unknown markers are recorded, never fatal.
func Apply(document string, tables domain.FragmentTables) Result {
	res := Result{}

	doc, resolved, missing := resolveMarkers(document, tables)
	res.Resolved = resolved
	res.Missing = missing

	updated := tables.Clone()

	nextStyle := nextID(doc, updated.Styles, StyleIDPrefix, styleIDPattern)
	doc = extractStyles(doc, updated.Styles, &nextStyle)

	nextComponent := nextID(doc, updated.Components, ComponentIDPrefix, componentIDPattern)
	doc = extractComponents(doc, updated.Components, &nextComponent)

	res.Document = doc
	res.Tables = updated
	return res
}

func resolveMarkers(document string, tables domain.FragmentTables) (string, IDSet, IDSet) {
	var resolved, missing IDSet
	seenMissing := map[string]bool{}
	out := markerPattern.ReplaceAllStringFunc(document, func(match string) string {
		sub := markerPattern.FindStringSubmatch(match)
		kind, id := sub[1], sub[2]
		var table map[string]string
		if kind == "component" {
			table = tables.Components
		} else {
			table = tables.Styles
		}
		if markup, ok := table[id]; ok {
			if kind == "component" {
				resolved.Components = append(resolved.Components, id)
			} else {
				resolved.Styles = append(resolved.Styles, id)
			}
			return markup
		}
		if !seenMissing[kind+":"+id] {
			seenMissing[kind+":"+id] = true
			if kind == "component" {
				missing.Components = append(missing.Components, id)
			} else {
				missing.Styles = append(missing.Styles, id)
			}
		}
		return match
	})
	return out, resolved, missing
}

// nextID derives the next unused numeric id for a category:
// max(ids in tables, ids literally present in the document) + 1. Deriving
// from the document text keeps growth collision-free even when a branch
// fork replays older documents.
func nextID(document string, table map[string]string, prefix string, pattern *regexp.Regexp) int {
	max := 0
	for id := range table {
		if n, ok := numericSuffix(id, prefix); ok && n > max {
			max = n
		}
	}
	for _, sub := range pattern.FindAllStringSubmatch(document, -1) {
		if n, err := strconv.Atoi(sub[1]); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

func numericSuffix(id, prefix string) (int, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(id[len(prefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}

// extractStyles records every <style> block in the style table, assigning a
// data-style-id attribute where one is missing. The blocks stay in the
// document; extraction only records availability for future turns.
func extractStyles(document string, table map[string]string, next *int) string {
	var out strings.Builder
	pos := 0
	for pos < len(document) {
		open := indexTagFold(document, pos, "<style")
		if open < 0 {
			break
		}
		openEnd := strings.IndexByte(document[open:], '>')
		if openEnd < 0 {
			break
		}
		openEnd += open + 1
		closeIdx := indexTagFold(document, openEnd, "</style")
		if closeIdx < 0 {
			break
		}
		closeEnd := strings.IndexByte(document[closeIdx:], '>')
		if closeEnd < 0 {
			break
		}
		closeEnd += closeIdx + 1

		out.WriteString(document[pos:open])
		block := document[open:closeEnd]
		openTag := document[open:openEnd]
		id := attrValue(openTag, dataStyleIDPattern)
		if id == "" {
			id = fmt.Sprintf("%s%d", StyleIDPrefix, *next)
			*next++
			block = insertAttr(block, openEnd-open, "data-style-id", id)
		}
		table[id] = block
		out.WriteString(block)
		pos = closeEnd
	}
	out.WriteString(document[pos:])
	return out.String()
}

// extractComponents records the top-level body children with a component
// tag, assigning data-id attributes where missing.
func extractComponents(document string, table map[string]string, next *int) string {
	bodyStart, bodyEnd := bodyBounds(document)
	if bodyStart < 0 {
		return document
	}

	spans := topLevelSpans(document, bodyStart, bodyEnd)
	var out strings.Builder
	pos := 0
	for _, sp := range spans {
		if !componentTags[sp.tag] {
			continue
		}
		out.WriteString(document[pos:sp.start])
		segment := document[sp.start:sp.end]
		openTag := document[sp.start:sp.openEnd]
		id := attrValue(openTag, dataIDPattern)
		if id == "" {
			id = fmt.Sprintf("%s%d", ComponentIDPrefix, *next)
			*next++
			segment = insertAttr(segment, sp.openEnd-sp.start, "data-id", id)
		}
		table[id] = segment
		out.WriteString(segment)
		pos = sp.end
	}
	out.WriteString(document[pos:])
	return out.String()
}

func attrValue(openTag string, pattern *regexp.Regexp) string {
	if m := pattern.FindStringSubmatch(openTag); m != nil {
		return m[1]
	}
	return ""
}

// insertAttr inserts an attribute just before the '>' that closes the
// opening tag. openEnd is the index one past that '>' within segment.
func insertAttr(segment string, openEnd int, name, value string) string {
	insert := openEnd - 1
	return segment[:insert] + fmt.Sprintf(` %s=%q`, name, value) + segment[insert:]
}

// bodyBounds returns the interval between the <body> opening tag and the
// </body> closing tag, or (-1, -1) when the document has no body element.
func bodyBounds(document string) (int, int) {
	open := indexTagFold(document, 0, "<body")
	if open < 0 {
		return -1, -1
	}
	openEnd := strings.IndexByte(document[open:], '>')
	if openEnd < 0 {
		return -1, -1
	}
	start := open + openEnd + 1
	end := indexTagFold(document, start, "</body")
	if end < 0 {
		end = len(document)
	}
	return start, end
}

// indexTagFold finds a tag prefix case-insensitively, requiring that the
// character after the prefix is not a name character (so "<style" does not
// match "<styleguide").
func indexTagFold(document string, from int, prefix string) int {
	lower := strings.ToLower(document)
	prefix = strings.ToLower(prefix)
	for {
		idx := strings.Index(lower[from:], prefix)
		if idx < 0 {
			return -1
		}
		idx += from
		after := idx + len(prefix)
		if after >= len(document) || !isNameChar(document[after]) {
			return idx
		}
		from = idx + 1
	}
}

func isNameChar(c byte) bool {
	return c == '-' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// SortedIDs returns the table's ids in a stable order, for prompt rendering
// and log output.
func SortedIDs(table map[string]string) []string {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
