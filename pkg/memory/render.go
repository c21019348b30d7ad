package memory

import (
	"strings"
	"unicode/utf8"
)

const (
	memoriesHeader = "Relevant memories:"
	notesHeader    = "Recent notes:"
)

// renderContext formats long-term hits and short-term notes as a prompt
// block of at most maxChars runes. Lines that do not fit are dropped; a
// first line that alone exceeds the budget is truncated.
func renderContext(hits []ScoredEntry, notes []ShortTermEntry, maxChars int) string {
	var b strings.Builder
	used := 0

	write := func(line string) bool {
		n := utf8.RuneCountInString(line)
		if used > 0 {
			n++
		}
		if maxChars > 0 && used+n > maxChars {
			return false
		}
		if used > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		used += n
		return true
	}

	section := func(header string, lines []string) {
		if len(lines) == 0 {
			return
		}
		if !write(header) {
			return
		}
		wrote := false
		for _, line := range lines {
			if write(line) {
				wrote = true
				continue
			}
			if !wrote {
				budget := maxChars - used - 1
				if budget > len("- ") {
					write(truncateRunes(line, budget))
					wrote = true
				}
			}
			break
		}
		if !wrote {
			// Drop a header with no lines under it.
			s := b.String()
			s = strings.TrimSuffix(strings.TrimSuffix(s, header), "\n")
			b.Reset()
			b.WriteString(s)
			used = utf8.RuneCountInString(s)
		}
	}

	memLines := make([]string, 0, len(hits))
	for _, h := range hits {
		memLines = append(memLines, "- ["+string(h.Entry.Category)+"] "+oneLine(h.Entry.Content))
	}
	noteLines := make([]string, 0, len(notes))
	for _, n := range notes {
		noteLines = append(noteLines, "- "+oneLine(n.Content))
	}

	section(memoriesHeader, memLines)
	section(notesHeader, noteLines)
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
