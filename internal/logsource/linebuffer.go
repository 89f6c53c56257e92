package logsource

import "strings"

// LineBuffer accumulates raw chunks and yields complete lines. The last
// fragment after a split may be an incomplete line and is carried until
// the next chunk (or a Reset on rotation).
type LineBuffer struct {
	rem string
}

// Push appends a chunk and returns every complete line it closed.
// Terminators are CR?LF; they are stripped from the returned lines.
func (b *LineBuffer) Push(chunk string) []string {
	b.rem += chunk

	var lines []string
	for {
		i := strings.IndexByte(b.rem, '\n')
		if i < 0 {
			break
		}
		line := b.rem[:i]
		if strings.HasSuffix(line, "\r") {
			line = line[:len(line)-1]
		}
		lines = append(lines, line)
		b.rem = b.rem[i+1:]
	}
	return lines
}

// Reset drops any carried fragment.
func (b *LineBuffer) Reset() {
	b.rem = ""
}

// Pending reports the carried fragment, for diagnostics.
func (b *LineBuffer) Pending() string {
	return b.rem
}
