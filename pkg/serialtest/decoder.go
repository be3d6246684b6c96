package serialtest

import (
	"errors"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decoder turns raw serial bytes into text. Invalid sequences become U+FFFD;
// a multi-byte sequence split across reads is held back until it completes.
type decoder struct {
	t       transform.Transformer
	pending []byte
	dst     []byte
}

func newDecoder() *decoder {
	return &decoder{
		t:   unicode.UTF8.NewDecoder(),
		dst: make([]byte, 1024),
	}
}

func (d *decoder) decode(p []byte) string {
	return d.run(append(d.pending, p...), false)
}

// flush decodes whatever is still pending as if the stream ended.
func (d *decoder) flush() string {
	if len(d.pending) == 0 {
		return ""
	}

	return d.run(d.pending, true)
}

func (d *decoder) run(src []byte, atEOF bool) string {
	var out strings.Builder

	for len(src) > 0 {
		nDst, nSrc, err := d.t.Transform(d.dst, src, atEOF)
		out.Write(d.dst[:nDst])
		src = src[nSrc:]

		if errors.Is(err, transform.ErrShortDst) {
			continue
		}

		break
	}

	d.pending = append([]byte(nil), src...)

	return out.String()
}
