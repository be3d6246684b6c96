package procrunner

import (
	"bytes"
	"io"
)

// prefixedWriter adds a prefix to each line written. Without a prefix the
// bytes pass through as they arrive.
type prefixedWriter struct {
	prefix string
	writer io.Writer
	buf    []byte
}

func (w *prefixedWriter) Write(p []byte) (n int, err error) {
	n = len(p)

	if w.prefix == "" {
		if _, err := w.writer.Write(p); err != nil {
			return n, err
		}

		return n, nil
	}

	w.buf = append(w.buf, p...)

	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx == -1 {
			break
		}

		line := w.buf[:idx+1]

		if _, err := io.WriteString(w.writer, w.prefix); err != nil {
			return n, err
		}

		if _, err := w.writer.Write(line); err != nil {
			return n, err
		}

		w.buf = w.buf[idx+1:]
	}

	return n, nil
}

// flush emits a trailing partial line, terminated with a newline.
func (w *prefixedWriter) flush() {
	if len(w.buf) == 0 {
		return
	}

	_, _ = io.WriteString(w.writer, w.prefix)
	_, _ = w.writer.Write(w.buf)
	_, _ = io.WriteString(w.writer, "\n")

	w.buf = nil
}
