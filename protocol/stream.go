package protocol

import "sync"

// Stream is a pull-based, finite, non-restartable sequence of chunks, in the
// idiom of the SDK SSE streams:
//
//	stream, err := p.ChatStream(ctx, req)
//	if err != nil { ... }
//	defer stream.Close()
//	for stream.Next() {
//	    chunk := stream.Current()
//	    ...
//	}
//	if err := stream.Err(); err != nil { ... }
//
// The producer does no work faster than the consumer pulls (sends block on
// an unbuffered channel), and Close releases the producing resource on every
// exit path, including early consumer abandonment.
type Stream struct {
	ch   chan Chunk
	stop chan struct{}
	once sync.Once

	// cancel aborts the producing resource (per-call context cancel, which
	// kills the subprocess or releases the HTTP body reader).
	cancel func()

	cur Chunk
	err error
}

// StreamWriter is the producer half of a Stream. It is owned by exactly one
// adapter call; Send fails once the consumer has closed the stream, which is
// the producer's signal to unwind and release its resources.
type StreamWriter struct {
	ch   chan Chunk
	stop chan struct{}
	once sync.Once
}

// NewStream creates a connected stream/writer pair. cancel may be nil; when
// set it is invoked exactly once, on consumer Close.
func NewStream(cancel func()) (*Stream, *StreamWriter) {
	ch := make(chan Chunk)
	stop := make(chan struct{})
	s := &Stream{ch: ch, stop: stop, cancel: cancel}
	w := &StreamWriter{ch: ch, stop: stop}
	return s, w
}

// Send delivers one chunk to the consumer. It returns false when the
// consumer closed the stream; the producer must then stop emitting and
// release its resources.
func (w *StreamWriter) Send(c Chunk) bool {
	select {
	case w.ch <- c:
		return true
	case <-w.stop:
		return false
	}
}

// Error delivers a terminal error chunk. The producer must not send a
// message_end after it.
func (w *StreamWriter) Error(err error) bool {
	return w.Send(ErrorChunk(err))
}

// Close marks the end of production. Safe to call more than once.
func (w *StreamWriter) Close() {
	w.once.Do(func() { close(w.ch) })
}

// Next advances to the next chunk. It returns false when the stream is
// exhausted or was closed.
func (s *Stream) Next() bool {
	select {
	case <-s.stop:
		return false
	case c, ok := <-s.ch:
		if !ok {
			return false
		}
		s.cur = c
		if c.Type == ChunkError {
			s.err = c.Err
		}
		return true
	}
}

// Current returns the chunk most recently produced by Next.
func (s *Stream) Current() Chunk {
	return s.cur
}

// Err returns the error carried by the stream's terminal error chunk, or
// nil when the stream ended with a message_end.
func (s *Stream) Err() error {
	return s.err
}

// Close abandons the stream and releases the underlying resource. Safe to
// call more than once and after normal exhaustion.
func (s *Stream) Close() error {
	s.once.Do(func() {
		close(s.stop)
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}
