package provider

import (
	"bufio"
	"bytes"
	"io"
)

// sseDoneSentinel is the literal payload some OpenAI-compatible backends use
// to terminate a stream. It ends the loop without error.
const sseDoneSentinel = "[DONE]"

// sseDecoder reads Server-Sent-Events data payloads from a response body.
// Lines without the `data:` marker (comments, event names, blanks) are
// ignored, per the framing rules in the backends' streaming contracts.
type sseDecoder struct {
	r *bufio.Reader
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event's concatenated data payload, or io.EOF at end
// of body. Multiple data: lines of one event are joined with \n.
func (d *sseDecoder) Next() ([]byte, error) {
	var dataLines [][]byte
	for {
		line, err := d.r.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if err != nil {
			if len(line) > 0 {
				dataLines = appendSSEData(dataLines, line)
			}
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}

		if len(line) == 0 {
			if len(dataLines) == 0 {
				continue
			}
			return bytes.Join(dataLines, []byte("\n")), nil
		}
		if line[0] == ':' {
			continue
		}
		dataLines = appendSSEData(dataLines, line)
	}
}

func appendSSEData(dst [][]byte, line []byte) [][]byte {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return dst
	}
	val := line[len("data:"):]
	if len(val) > 0 && val[0] == ' ' {
		val = val[1:]
	}
	return append(dst, append([]byte(nil), val...))
}
