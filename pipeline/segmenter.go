package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Normalize prepares raw text for segmentation: NFC composition, control
// characters dropped, whitespace runs collapsed to one space, ends trimmed.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), r == utf8.RuneError, r == '\uFEFF':
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}

// SegmentText splits normalized text into index-ordered units of at most
// maxUnitSize runes. Whole sentences are packed greedily; a sentence longer
// than maxUnitSize becomes a unit on its own. A maxUnitSize <= 0 yields one
// unit per sentence. Joining the unit texts with a single space gives back
// the input.
func SegmentText(text string, maxUnitSize int) []*Segment {
	var units []string
	var cur strings.Builder
	curLen := 0

	for _, sentence := range splitSentences(text) {
		n := utf8.RuneCountInString(sentence)
		if curLen == 0 {
			cur.WriteString(sentence)
			curLen = n
			continue
		}
		if maxUnitSize > 0 && curLen+1+n <= maxUnitSize {
			cur.WriteByte(' ')
			cur.WriteString(sentence)
			curLen += 1 + n
			continue
		}
		units = append(units, cur.String())
		cur.Reset()
		cur.WriteString(sentence)
		curLen = n
	}
	if curLen > 0 {
		units = append(units, cur.String())
	}

	segments := make([]*Segment, len(units))
	for i, u := range units {
		segments[i] = &Segment{Index: i, Text: u, State: StatePending}
	}
	return segments
}

// splitSentences cuts after a terminal mark that is followed by whitespace
// or the end of text, so "3.14" and "e.g.x" stay intact.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if !isTerminal(r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		if end < len(text) {
			next, _ := utf8.DecodeRuneInString(text[end:])
			if !unicode.IsSpace(next) {
				continue
			}
		}
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
