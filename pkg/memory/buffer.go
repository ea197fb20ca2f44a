package memory

import (
	"fmt"
	"strings"
)

// Entry is one recent interaction in a minion's short-term buffer.
type Entry struct {
	Speaker string
	Content string
}

// Buffer is a bounded ring of recent interactions. It is owned by one
// minion runtime and is not safe for concurrent use; the runtime's
// single consumer goroutine is its only writer.
type Buffer struct {
	entries []Entry
	max     int
}

// NewBuffer creates a buffer retaining at most max entries. max <= 0
// defaults to 20.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 20
	}
	return &Buffer{max: max}
}

// Add appends an entry, evicting the oldest when full.
func (b *Buffer) Add(speaker, content string) {
	b.entries = append(b.entries, Entry{Speaker: speaker, Content: content})
	if len(b.entries) > b.max {
		b.entries = b.entries[len(b.entries)-b.max:]
	}
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Cue renders the buffer as a short conversation recap for prompt
// injection. Returns "" for an empty buffer.
func (b *Buffer) Cue() string {
	if len(b.entries) == 0 {
		return ""
	}
	var lines []string
	lines = append(lines, "Recent conversation:")
	for _, e := range b.entries {
		lines = append(lines, fmt.Sprintf("%s: %s", e.Speaker, e.Content))
	}
	return strings.Join(lines, "\n")
}
