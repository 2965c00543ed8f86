package logtee

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestComposite(t *testing.T) {
	sink := &bytes.Buffer{}

	tail := NewStringTail(4)

	// writes to upstream all end up in the sink, but Snapshot() only returns the last 4 lines
	upstream := NewLineSplitterTee(sink, func(line string) {
		tail.Write(line)
	})

	_, _ = upstream.Write([]byte("line 1\nline 2\nline 3 left open"))

	assert.EqualString(t, fmt.Sprintf("%v", tail.Snapshot()), "[line 1 line 2]")

	_, _ = upstream.Write([]byte("\n")) // close line 3

	assert.EqualString(t, fmt.Sprintf("%v", tail.Snapshot()), "[line 1 line 2 line 3 left open]")

	_, _ = upstream.Write([]byte("line 4\nline 5\nline 6\n"))

	assert.EqualString(t, fmt.Sprintf("%v", tail.Snapshot()), "[line 3 left open line 4 line 5 line 6]")

	assert.EqualString(t, sink.String(), "line 1\nline 2\nline 3 left open\nline 4\nline 5\nline 6\n")
}

func TestCrlfLineEndings(t *testing.T) {
	lines := []string{}

	splitter := NewLineSplitter(func(line string) {
		lines = append(lines, line)
	})

	// robocopy-style CRLF output, split mid-line across writes
	_, _ = splitter.Write([]byte("   New File \t\t  123\tfoo.txt\r\npartial"))
	_, _ = splitter.Write([]byte(" line\r\n"))

	assert.EqualString(t, fmt.Sprintf("%q", lines), `["   New File \t\t  123\tfoo.txt" "partial line"]`)
}

func TestStringTailStaysWithinCapacity(t *testing.T) {
	tail := NewStringTail(2)

	assert.EqualString(t, fmt.Sprintf("%v", tail.Snapshot()), "[]")

	tail.Write("a")
	tail.Write("b")
	tail.Write("c")

	assert.EqualString(t, fmt.Sprintf("%v", tail.Snapshot()), "[b c]")
}
