package fragment

import "strings"

// span is one complete element found at the top level of the scanned
// region: [start, end) covers the whole element, openEnd is one past the
// '>' of the opening tag.
type span struct {
	start   int
	openEnd int
	end     int
	tag     string
}

// voidTags never carry content or a closing tag.
var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// rawTextTags contain character data that must not be tokenized as markup.
var rawTextTags = map[string]bool{
	"script": true, "style": true, "textarea": true, "title": true,
}

// topLevelSpans tokenizes doc[from:to] and returns the elements whose
// opening tag sits at nesting depth zero. The scanner is forgiving:
// unmatched closing tags are ignored and an unterminated region simply
// yields no further spans. It never fails.
func topLevelSpans(doc string, from, to int) []span {
	var spans []span
	var stack []string
	cur := span{start: -1}

	i := from
	for i < to {
		lt := strings.IndexByte(doc[i:to], '<')
		if lt < 0 {
			break
		}
		i += lt

		switch {
		case strings.HasPrefix(doc[i:to], "<!--"):
			end := strings.Index(doc[i+4:to], "-->")
			if end < 0 {
				return spans
			}
			i += 4 + end + 3
			continue
		case strings.HasPrefix(doc[i:to], "<!"), strings.HasPrefix(doc[i:to], "<?"):
			end := strings.IndexByte(doc[i:to], '>')
			if end < 0 {
				return spans
			}
			i += end + 1
			continue
		case strings.HasPrefix(doc[i:to], "</"):
			name, _ := tagName(doc, i+2, to)
			end := strings.IndexByte(doc[i:to], '>')
			if end < 0 {
				return spans
			}
			closeEnd := i + end + 1
			matched := -1
			for j := len(stack) - 1; j >= 0; j-- {
				if stack[j] == name {
					matched = j
					break
				}
			}
			if matched >= 0 {
				stack = stack[:matched]
			}
			if cur.start >= 0 && matched == 0 {
				cur.end = closeEnd
				spans = append(spans, cur)
				cur = span{start: -1}
			}
			i = closeEnd
			continue
		}

		name, nameEnd := tagName(doc, i+1, to)
		if name == "" {
			i++
			continue
		}
		openEnd, selfClosed := openTagEnd(doc, nameEnd, to)
		if openEnd < 0 {
			return spans
		}

		if rawTextTags[name] && !selfClosed {
			closeIdx := indexTagFold(doc[:to], openEnd, "</"+name)
			if closeIdx < 0 {
				return spans
			}
			gt := strings.IndexByte(doc[closeIdx:to], '>')
			if gt < 0 {
				return spans
			}
			closeEnd := closeIdx + gt + 1
			if len(stack) == 0 {
				spans = append(spans, span{start: i, openEnd: openEnd, end: closeEnd, tag: name})
			}
			i = closeEnd
			continue
		}

		if selfClosed || voidTags[name] {
			if len(stack) == 0 {
				spans = append(spans, span{start: i, openEnd: openEnd, end: openEnd, tag: name})
			}
			i = openEnd
			continue
		}

		if len(stack) == 0 {
			cur = span{start: i, openEnd: openEnd, tag: name}
		}
		stack = append(stack, name)
		i = openEnd
	}
	return spans
}

// tagName reads a tag name starting at pos and returns it lowercased along
// with the index one past its final character.
func tagName(doc string, pos, to int) (string, int) {
	end := pos
	for end < to && isNameChar(doc[end]) {
		end++
	}
	return strings.ToLower(doc[pos:end]), end
}

// openTagEnd finds the '>' terminating an opening tag, honoring quoted
// attribute values. Returns the index one past '>' and whether the tag was
// self-closing.
func openTagEnd(doc string, pos, to int) (int, bool) {
	var quote byte
	last := byte(0)
	for i := pos; i < to; i++ {
		c := doc[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
			last = c
		case '>':
			return i + 1, last == '/'
		case ' ', '\t', '\n', '\r':
		default:
			last = c
		}
	}
	return -1, false
}
