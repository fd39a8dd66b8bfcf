// Package deliver sends bulletins over Signal, splitting long texts into
// numbered chunks the transport will accept.
package deliver

import (
	"fmt"
	"strings"
)

// Chunk splits text into pieces no longer than limit, each prefixed with
// "[i/N] " when more than one chunk is needed. The prefix counts against
// the limit; when the limit is too small to carry any prefix the pieces go
// out bare, still within the limit. Splits prefer paragraph boundaries,
// then line boundaries, and only cut mid-line when a single line exceeds
// the budget. Concatenating the chunks (prefixes stripped) reproduces the
// text up to boundary whitespace.
func Chunk(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	// The prefix width depends on the chunk count, which depends on the
	// budget left after the prefix. Re-split with the reservation for the
	// current count until the width stops growing; shrinking the budget
	// never shrinks the count, so this terminates.
	pieces := splitBlocks(text, limit)
	for {
		width := prefixWidth(len(pieces))
		budget := limit - width
		if budget < 1 {
			return splitBlocks(text, limit)
		}
		next := splitBlocks(text, budget)
		if prefixWidth(len(next)) <= width {
			pieces = next
			break
		}
		pieces = next
	}
	if len(pieces) == 1 {
		return pieces
	}

	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = fmt.Sprintf("[%d/%d] %s", i+1, len(pieces), p)
	}
	return out
}

// prefixWidth is the byte length of the "[i/N] " prefix at its widest,
// i == N, for a count of n chunks.
func prefixWidth(n int) int {
	return len(fmt.Sprintf("[%d/%d] ", n, n))
}

// splitBlocks packs paragraphs greedily into budget-sized pieces,
// descending to line and then raw splits for oversize blocks.
func splitBlocks(text string, budget int) []string {
	var pieces []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			pieces = append(pieces, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		if para == "" {
			continue
		}
		sep := "\n\n"
		if cur.Len() == 0 {
			sep = ""
		}
		if cur.Len()+len(sep)+len(para) <= budget {
			cur.WriteString(sep)
			cur.WriteString(para)
			continue
		}
		flush()
		if len(para) <= budget {
			cur.WriteString(para)
			continue
		}
		// Paragraph alone exceeds the budget: split by lines.
		pieces = append(pieces, splitLines(para, budget)...)
	}
	flush()
	return pieces
}

func splitLines(text string, budget int) []string {
	var pieces []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			pieces = append(pieces, s)
		}
		cur.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		for len(line) > budget {
			flush()
			pieces = append(pieces, line[:budget])
			line = line[budget:]
		}
		sep := "\n"
		if cur.Len() == 0 {
			sep = ""
		}
		if cur.Len()+len(sep)+len(line) > budget {
			flush()
			sep = ""
		}
		cur.WriteString(sep)
		cur.WriteString(line)
	}
	flush()
	return pieces
}
