// Package chunker splits long-form content text into bounded pieces
// suitable for embedding.
//
// Splitting is deterministic: the same input always yields the same
// chunk sequence, which the indexer relies on when diffing stored
// chunks against freshly computed ones.
package chunker

import "strings"

// DefaultMaxLen is the default maximum chunk length in runes. Sized
// well under the embedding model's token limit so no chunk is ever
// truncated by the provider.
const DefaultMaxLen = 1000

// sentenceEnders terminate a sentence for boundary-preferring splits.
// Includes CJK and Turkish-compatible terminal punctuation.
var sentenceEnders = []rune{'.', '!', '?', '。', '！', '？'}

// Split breaks text into ordered, non-overlapping chunks of at most
// maxLen runes each. Paragraph boundaries are preferred, then
// sentence boundaries, then hard rune cuts. Blank input produces no
// chunks.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		// Whole paragraph fits into the current chunk.
		if runeLen(current.String())+sepLen(current.Len())+runeLen(para) <= maxLen {
			appendPiece(&current, para)
			continue
		}

		flush()

		if runeLen(para) <= maxLen {
			current.WriteString(para)
			continue
		}

		// Paragraph alone exceeds the limit: pack sentences.
		for _, sentence := range splitSentences(para) {
			if runeLen(current.String())+sepLen(current.Len())+runeLen(sentence) <= maxLen {
				appendPiece(&current, sentence)
				continue
			}
			flush()
			if runeLen(sentence) <= maxLen {
				current.WriteString(sentence)
				continue
			}
			// Sentence alone exceeds the limit: hard cut.
			for _, piece := range hardCut(sentence, maxLen) {
				if runeLen(piece) == maxLen {
					chunks = append(chunks, piece)
				} else {
					current.WriteString(piece)
				}
			}
		}
	}
	flush()

	return chunks
}

// splitSentences splits a paragraph after terminal punctuation,
// keeping the punctuation with its sentence.
func splitSentences(para string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(para)
	for i, r := range runes {
		current.WriteRune(r)
		if !isSentenceEnd(r) {
			continue
		}
		// Split only at an end-of-text or whitespace-followed ender, so
		// "3.14" and "v1.2" stay intact.
		if i == len(runes)-1 || runes[i+1] == ' ' || runes[i+1] == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// hardCut slices s into maxLen-rune pieces with no boundary preference.
func hardCut(s string, maxLen int) []string {
	runes := []rune(s)
	pieces := make([]string, 0, (len(runes)+maxLen-1)/maxLen)
	for start := 0; start < len(runes); start += maxLen {
		end := min(start+maxLen, len(runes))
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

func isSentenceEnd(r rune) bool {
	for _, e := range sentenceEnders {
		if r == e {
			return true
		}
	}
	return false
}

func appendPiece(b *strings.Builder, piece string) {
	if b.Len() > 0 {
		b.WriteString(" ")
	}
	b.WriteString(piece)
}

func runeLen(s string) int {
	return len([]rune(s))
}

// sepLen is the separator cost when appending to a non-empty chunk.
func sepLen(currentBytes int) int {
	if currentBytes > 0 {
		return 1
	}
	return 0
}
