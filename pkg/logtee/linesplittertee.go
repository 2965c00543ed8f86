// Splitting of subprocess output streams into lines, with a bounded tail kept for
// post-mortems
package logtee

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

type lineSplitter struct {
	buf           []byte // partial line, waiting for its newline
	lineCompleted func(string)
	mu            sync.Mutex
}

// returns io.Writer whose writes are split into lines and handed to lineCompleted.
// lines are terminated by "\n" or "\r\n" (robocopy and friends emit CRLF), and the
// terminator is not included in the callback.
func NewLineSplitter(lineCompleted func(string)) io.Writer {
	return &lineSplitter{
		buf:           []byte{},
		lineCompleted: lineCompleted,
	}
}

// same, but writes also pass through to sink untouched
func NewLineSplitterTee(sink io.Writer, lineCompleted func(string)) io.Writer {
	return io.MultiWriter(sink, NewLineSplitter(lineCompleted))
}

func (l *lineSplitter) Write(data []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, data...)

	for {
		idx := bytes.IndexByte(l.buf, '\n')
		if idx == -1 {
			break
		}

		l.lineCompleted(strings.TrimSuffix(string(l.buf[0:idx]), "\r"))

		l.buf = l.buf[idx+1:]
	}

	return len(data), nil
}
