package hal

import "bytes"

// LogWriter adapts a Logger to io.Writer so structured loggers can write
// through the HAL. Each line of p becomes one log line; a trailing partial
// line is held until its newline arrives.
func LogWriter(l Logger) *LineWriter {
	return &LineWriter{l: l}
}

// LineWriter is the io.Writer returned by LogWriter.
type LineWriter struct {
	l   Logger
	buf []byte
}

func (w *LineWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buf = append(w.buf, p...)
			break
		}
		if len(w.buf) > 0 {
			w.buf = append(w.buf, p[:i]...)
			w.l.WriteLineBytes(w.buf)
			w.buf = w.buf[:0]
		} else {
			w.l.WriteLineBytes(p[:i])
		}
		p = p[i+1:]
	}
	return n, nil
}

// Flush writes out a pending partial line.
func (w *LineWriter) Flush() {
	if len(w.buf) > 0 {
		w.l.WriteLineBytes(w.buf)
		w.buf = w.buf[:0]
	}
}
