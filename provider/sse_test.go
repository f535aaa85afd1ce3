package provider

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestSSEDecoder(t *testing.T) {
	body := strings.Join([]string{
		": comment line, skipped",
		"event: message",
		`data: {"n": 1}`,
		"",
		"data: first",
		"data: second",
		"",
		"data: [DONE]",
		"",
	}, "\n")

	d := newSSEDecoder(strings.NewReader(body))

	ev, err := d.Next()
	if err != nil || string(ev) != `{"n": 1}` {
		t.Fatalf("first event = %q, %v", ev, err)
	}

	// Multiple data lines in one event join with a newline.
	ev, err = d.Next()
	if err != nil || string(ev) != "first\nsecond" {
		t.Fatalf("second event = %q, %v", ev, err)
	}

	ev, err = d.Next()
	if err != nil || string(ev) != sseDoneSentinel {
		t.Fatalf("third event = %q, %v", ev, err)
	}

	if _, err = d.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestSSEDecoderNoTrailingNewline(t *testing.T) {
	d := newSSEDecoder(strings.NewReader("data: tail"))
	ev, err := d.Next()
	if err != nil || string(ev) != "tail" {
		t.Fatalf("event = %q, %v", ev, err)
	}
	if _, err = d.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestSSEDecoderEmptyBody(t *testing.T) {
	d := newSSEDecoder(strings.NewReader(""))
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
