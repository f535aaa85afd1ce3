package provider

import (
	"strings"
	"testing"
)

func TestLineBufferArbitrarySplits(t *testing.T) {
	body := "first line\nsecond line\r\nthird\n\npartial tail"
	want := []string{"first line", "second line", "third", "partial tail"}

	// Every chunk size must yield the same lines as one big read.
	for _, size := range []int{1, 2, 3, 5, 7, 64, len(body)} {
		var buf lineBuffer
		var got []string
		for i := 0; i < len(body); i += size {
			end := i + size
			if end > len(body) {
				end = len(body)
			}
			for _, line := range buf.Feed([]byte(body[i:end])) {
				got = append(got, string(line))
			}
		}
		if tail := buf.Flush(); tail != nil {
			got = append(got, string(tail))
		}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("chunk size %d: got %v, want %v", size, got, want)
		}
	}
}

func TestLineBufferFlushEmpty(t *testing.T) {
	var buf lineBuffer
	buf.Feed([]byte("complete\n"))
	if tail := buf.Flush(); tail != nil {
		t.Errorf("expected nil flush, got %q", tail)
	}
}

func TestLineBufferCRLF(t *testing.T) {
	var buf lineBuffer
	lines := buf.Feed([]byte("a\r\nb\r\n"))
	if len(lines) != 2 || string(lines[0]) != "a" || string(lines[1]) != "b" {
		t.Errorf("carriage returns must be trimmed: %q", lines)
	}
}
