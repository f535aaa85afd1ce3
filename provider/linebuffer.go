package provider

import "bytes"

// lineBuffer splits an incrementally received byte stream on newline
// boundaries. A trailing partial line is held and prefixed onto the next
// feed, so data split at an arbitrary byte offset parses identically to
// data delivered in one read: nothing dropped, nothing parsed prematurely.
//
// Each streaming call owns its own lineBuffer; it is never shared.
type lineBuffer struct {
	rest []byte
}

// Feed appends one read's worth of bytes and returns the complete lines now
// available, without their trailing newline.
func (b *lineBuffer) Feed(p []byte) [][]byte {
	b.rest = append(b.rest, p...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(b.rest, '\n')
		if idx < 0 {
			return lines
		}
		line := bytes.TrimRight(b.rest[:idx], "\r")
		if len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
		b.rest = b.rest[idx+1:]
	}
}

// Flush returns any held partial line. Called once, after the stream ends.
func (b *lineBuffer) Flush() []byte {
	line := bytes.TrimRight(b.rest, "\r\n")
	b.rest = nil
	if len(line) == 0 {
		return nil
	}
	return line
}
