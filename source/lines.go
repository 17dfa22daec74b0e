package source

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// MaxLineSize is the longest line LineReader accepts
const MaxLineSize = 1 << 20

// Lines is a blocking, pull-based sequence of text lines.
// Next returns io.EOF, or a source-specific error, once no more lines will arrive.
type Lines interface {
	Next() (string, error)
}

// LineReader turns an io.Reader into Lines. Both "\n" and "\r" terminate a line,
// surrounding whitespace is trimmed and blank lines are skipped.
type LineReader struct {
	scanner *bufio.Scanner
}

// NewLineReader creates a LineReader over r
func NewLineReader(r io.Reader) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	scanner.Split(scanLines)
	return &LineReader{scanner: scanner}
}

// Next blocks until a non-blank line is available
func (l *LineReader) Next() (string, error) {
	for l.scanner.Scan() {
		line := strings.TrimSpace(l.scanner.Text())
		if line != "" {
			return line, nil
		}
	}
	if err := l.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
