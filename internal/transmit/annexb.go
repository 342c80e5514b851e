package transmit

import (
	"bytes"
	"errors"
	"io"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

const readChunk = 64 * 1024

// maxAccessUnitSize bounds the buffered stream when no start code shows up.
const maxAccessUnitSize = 8 * 1024 * 1024

// ErrAccessUnitTooLarge is returned when the encoder output is not Annex-B.
var ErrAccessUnitTooLarge = errors.New("annex-b: access unit exceeds size limit")

// AccessUnitReader splits an Annex-B byte stream into access units using
// the access unit delimiters the encoder emits. An access unit is
// returned once the delimiter of the next one arrives, or at end of stream.
// Delimiter NALUs are not included in the result.
type AccessUnitReader struct {
	r       io.Reader
	buf     []byte
	pending [][]byte
	eof     bool
}

// NewAccessUnitReader reads Annex-B data from r.
func NewAccessUnitReader(r io.Reader) *AccessUnitReader {
	return &AccessUnitReader{r: r}
}

// Next returns the next access unit, or io.EOF when the stream is drained.
func (a *AccessUnitReader) Next() ([][]byte, error) {
	for {
		start, scLen := findStartCode(a.buf, 0)
		if start >= 0 {
			next, _ := findStartCode(a.buf, start+scLen)
			if next >= 0 {
				nalu := trimTrailingZeros(a.buf[start+scLen : next])
				a.buf = a.buf[next:]
				if au := a.push(nalu); au != nil {
					return au, nil
				}
				continue
			}
		}

		if a.eof {
			if start >= 0 {
				a.push(trimTrailingZeros(a.buf[start+scLen:]))
			}
			a.buf = nil
			if len(a.pending) > 0 {
				au := a.pending
				a.pending = nil
				return au, nil
			}
			return nil, io.EOF
		}

		if len(a.buf) > maxAccessUnitSize {
			return nil, ErrAccessUnitTooLarge
		}
		if err := a.fill(); err != nil {
			return nil, err
		}
	}
}

// push adds nalu to the current access unit and returns the completed
// previous unit when nalu is a delimiter.
func (a *AccessUnitReader) push(nalu []byte) [][]byte {
	if len(nalu) == 0 {
		return nil
	}
	if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeAccessUnitDelimiter {
		if len(a.pending) == 0 {
			return nil
		}
		au := a.pending
		a.pending = nil
		return au
	}
	a.pending = append(a.pending, bytes.Clone(nalu))
	return nil
}

func (a *AccessUnitReader) fill() error {
	if cap(a.buf)-len(a.buf) < readChunk {
		grown := make([]byte, len(a.buf), 2*len(a.buf)+readChunk)
		copy(grown, a.buf)
		a.buf = grown
	}
	n, err := a.r.Read(a.buf[len(a.buf):cap(a.buf)])
	a.buf = a.buf[:len(a.buf)+n]
	if errors.Is(err, io.EOF) {
		a.eof = true
		return nil
	}
	return err
}

// findStartCode returns the offset and length of the first 3 or 4 byte
// start code at or after from, or -1.
func findStartCode(b []byte, from int) (int, int) {
	if from >= len(b) {
		return -1, 0
	}
	i := bytes.Index(b[from:], []byte{0, 0, 1})
	if i < 0 {
		return -1, 0
	}
	pos := from + i
	if pos > from && b[pos-1] == 0 {
		return pos - 1, 4
	}
	return pos, 3
}

func trimTrailingZeros(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}
