package transmit

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testAUD = []byte{0x09, 0xF0}
	testSPS = []byte{0x67, 0x42, 0xC0, 0x1E, 0xDA, 0x02, 0x80, 0xBF, 0xE5, 0x84}
	testPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x00, 0x03, 0x01, 0x42}
	testP1  = []byte{0x41, 0x9A, 0x02, 0x11}
	testP2  = []byte{0x41, 0x9A, 0x04, 0x22}
)

func annexB(nalus ...[]byte) []byte {
	var buf bytes.Buffer
	for _, n := range nalus {
		buf.Write([]byte{0, 0, 0, 1})
		buf.Write(n)
	}
	return buf.Bytes()
}

func readAll(t *testing.T, r *AccessUnitReader) [][][]byte {
	t.Helper()
	var aus [][][]byte
	for {
		au, err := r.Next()
		if err == io.EOF {
			return aus
		}
		require.NoError(t, err)
		aus = append(aus, au)
	}
}

func TestAccessUnitReader_SplitsOnDelimiters(t *testing.T) {
	stream := annexB(testAUD, testSPS, testPPS, testIDR, testAUD, testP1, testAUD, testP2)
	want := [][][]byte{
		{testSPS, testPPS, testIDR},
		{testP1},
		{testP2},
	}

	got := readAll(t, NewAccessUnitReader(bytes.NewReader(stream)))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("access units mismatch (-want +got):\n%s", diff)
	}

	got = readAll(t, NewAccessUnitReader(iotest.OneByteReader(bytes.NewReader(stream))))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("byte-at-a-time mismatch (-want +got):\n%s", diff)
	}
}

func TestAccessUnitReader_ThreeByteStartCodes(t *testing.T) {
	stream := []byte{0xFF, 0xFF} // leading garbage
	for _, n := range [][]byte{testAUD, testIDR, testAUD, testP1} {
		stream = append(stream, 0, 0, 1)
		stream = append(stream, n...)
	}

	got := readAll(t, NewAccessUnitReader(bytes.NewReader(stream)))
	assert.Equal(t, [][][]byte{{testIDR}, {testP1}}, got)
}

func TestAccessUnitReader_NoDelimiters(t *testing.T) {
	stream := annexB(testSPS, testPPS, testIDR)
	got := readAll(t, NewAccessUnitReader(bytes.NewReader(stream)))
	assert.Equal(t, [][][]byte{{testSPS, testPPS, testIDR}}, got)
}

func TestAccessUnitReader_Empty(t *testing.T) {
	_, err := NewAccessUnitReader(bytes.NewReader(nil)).Next()
	assert.Equal(t, io.EOF, err)

	_, err = NewAccessUnitReader(bytes.NewReader(annexB(testAUD))).Next()
	assert.Equal(t, io.EOF, err)
}

func TestAccessUnitReader_ReadError(t *testing.T) {
	r := io.MultiReader(bytes.NewReader(annexB(testAUD, testP1)), iotest.ErrReader(io.ErrClosedPipe))
	_, err := NewAccessUnitReader(r).Next()
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestFindStartCode(t *testing.T) {
	pos, n := findStartCode([]byte{0, 0, 0, 1, 0x41}, 0)
	assert.Equal(t, 0, pos)
	assert.Equal(t, 4, n)

	pos, n = findStartCode([]byte{0x41, 0, 0, 1, 0x41}, 1)
	assert.Equal(t, 1, pos)
	assert.Equal(t, 3, n)

	pos, _ = findStartCode([]byte{0x41, 0, 0, 3, 1}, 0)
	assert.Equal(t, -1, pos)
}
