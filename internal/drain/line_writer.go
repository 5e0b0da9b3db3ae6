package drain

import "bytes"

// MaxLineLength caps a buffered partial line; longer lines are delivered in
// pieces of this size.
const MaxLineLength = 64 * 1024

// LineHandler receives complete lines without the trailing newline.
type LineHandler interface {
	HandleLine(line string)
}

// LineWriter turns a chunked byte stream into lines for a LineHandler.
// It is meant to be the sink of exactly one Drain and is not safe for
// concurrent writers.
type LineWriter struct {
	handler LineHandler
	partial []byte

	// split is set when the last delivery was a forced MaxLineLength piece
	// that consumed the whole buffered line. A newline arriving right after
	// it ends that line and must not produce an empty one.
	split bool
}

// NewLineWriter creates a LineWriter delivering to h.
func NewLineWriter(h LineHandler) *LineWriter {
	return &LineWriter{handler: h}
}

// Write splits p on '\n' and delivers every complete line. A trailing '\r'
// is stripped so CRLF output reads the same as LF output.
func (w *LineWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		if w.split {
			w.split = false
			if p[0] == '\n' {
				p = p[1:]
				continue
			}
		}

		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.partial = append(w.partial, p...)
			for len(w.partial) >= MaxLineLength {
				w.emit(w.partial[:MaxLineLength])
				w.partial = append(w.partial[:0], w.partial[MaxLineLength:]...)
				w.split = len(w.partial) == 0
			}
			break
		}

		if len(w.partial) > 0 {
			w.partial = append(w.partial, p[:i]...)
			w.emit(w.partial)
			w.partial = w.partial[:0]
		} else {
			w.emit(p[:i])
		}
		p = p[i+1:]
	}
	return n, nil
}

// Flush delivers any buffered partial line. Drain calls it at end-of-stream.
func (w *LineWriter) Flush() error {
	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = w.partial[:0]
	}
	return nil
}

func (w *LineWriter) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	w.handler.HandleLine(string(line))
}

// LineHandlerFunc adapts a function to LineHandler.
type LineHandlerFunc func(line string)

// HandleLine calls f(line).
func (f LineHandlerFunc) HandleLine(line string) {
	f(line)
}
