// Package delivery turns durable outbound events into platform sends:
// it chunks oversized content, retries transient failures with jittered
// backoff, and acknowledges the outbox only after the platform accepted
// every chunk.
package delivery

import "strings"

// Chunk splits content into pieces of at most limit characters (runes).
// Paragraphs (blank-line-separated blocks) are packed greedily so a
// chunk never breaks mid-thought unless a single paragraph is itself
// over the limit, in which case that paragraph is hard-split at exact
// character boundaries. Content that already fits comes back unchanged
// as a single element.
func Chunk(content string, limit int) []string {
	if limit <= 0 || len([]rune(content)) <= limit {
		return []string{content}
	}

	var chunks []string
	var cur string
	// curSet distinguishes an empty pending chunk from no pending chunk,
	// so empty paragraphs (leading or doubled blank lines) are kept.
	curSet := false
	flush := func() {
		if curSet {
			chunks = append(chunks, cur)
			cur = ""
			curSet = false
		}
	}

	for _, para := range strings.Split(content, "\n\n") {
		runes := []rune(para)
		if len(runes) > limit {
			flush()
			for len(runes) > limit {
				chunks = append(chunks, string(runes[:limit]))
				runes = runes[limit:]
			}
			if len(runes) > 0 {
				chunks = append(chunks, string(runes))
			}
			continue
		}

		switch {
		case !curSet:
			cur = para
			curSet = true
		case len([]rune(cur))+2+len(runes) <= limit:
			cur += "\n\n" + para
		default:
			flush()
			cur = para
			curSet = true
		}
	}
	flush()

	if len(chunks) == 0 {
		return []string{content}
	}
	return chunks
}
