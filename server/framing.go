package server

import "errors"

// ErrLineTooLong is returned by LineDecoder.Feed when the accumulated
// bytes for a single line exceed the configured maximum. The condition
// is fatal for the one connection, never for the server.
var ErrLineTooLong = errors.New("framing: line exceeds maximum length")

// LineDecoder turns an arbitrary stream of byte chunks into complete
// protocol lines. Incomplete trailing bytes are retained between Feed
// calls, so the decoded line sequence is independent of how the stream
// was chunked. One LineDecoder serves exactly one connection.
type LineDecoder struct {
	buf []byte
	max int
}

// NewLineDecoder returns a decoder that rejects lines longer than max
// bytes (terminator excluded).
func NewLineDecoder(max int) *LineDecoder {
	return &LineDecoder{max: max}
}

// Feed appends p to the accumulator and returns every complete line now
// available, with the trailing LF and an optional preceding CR stripped.
// Returning zero lines is normal: it means no terminator has arrived
// yet. Feed returns ErrLineTooLong together with any lines completed
// before the threshold was crossed; after an error the decoder must not
// be fed again.
func (d *LineDecoder) Feed(p []byte) ([]string, error) {
	d.buf = append(d.buf, p...)

	var lines []string
	start := 0
	for i := 0; i < len(d.buf); i++ {
		if d.buf[i] != '\n' {
			continue
		}
		line := d.buf[start:i]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) > d.max {
			return lines, ErrLineTooLong
		}
		lines = append(lines, string(line))
		start = i + 1
	}

	// Slice off the consumed prefix; keep the unterminated remainder.
	d.buf = append(d.buf[:0], d.buf[start:]...)

	if len(d.buf) > d.max {
		return lines, ErrLineTooLong
	}
	return lines, nil
}

// Pending returns the number of buffered bytes awaiting a terminator.
func (d *LineDecoder) Pending() int {
	return len(d.buf)
}
