package frame

import (
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, (*Frame)(nil).Validate(), ErrEmpty)
	assert.ErrorIs(t, New(0, 0, 3).Validate(), ErrEmpty)
	assert.NoError(t, New(4, 2, 3).Validate())

	_, err := FromBytes(make([]byte, 10), 4, 2, 3)
	assert.Error(t, err)
}

func TestClone_IsDeep(t *testing.T) {
	f := New(2, 1, 3)
	f.Pix[0] = 7
	c := f.Clone()
	c.Pix[0] = 9

	assert.Equal(t, byte(7), f.Pix[0])
	assert.Nil(t, (*Frame)(nil).Clone())
}

func TestSwapRB(t *testing.T) {
	f, err := FromBytes([]byte{1, 2, 3, 4, 5, 6}, 2, 1, 3)
	require.NoError(t, err)

	rgb := f.SwapRB()
	assert.Equal(t, []byte{3, 2, 1, 6, 5, 4}, rgb.Pix)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, f.Pix)
	assert.Equal(t, f.Pix, rgb.SwapRB().Pix)
}

func TestImageRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(2, 1, color.RGBA{B: 200, G: 10, A: 255})

	f := FromImage(img)
	assert.Equal(t, []byte{0, 0, 255}, f.Pix[0:3], "red stored as BGR")

	back, err := f.ToRGBA()
	require.NoError(t, err)
	if diff := cmp.Diff(img.Pix, back.Pix); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	gray := image.NewGray(image.Rect(0, 0, 1, 1))
	gray.SetGray(0, 0, color.Gray{Y: 128})
	assert.Equal(t, []byte{128, 128, 128}, FromImage(gray).Pix)
}

func TestRowBands(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 4}, {4, 8}, {8, 10}}, RowBands(10, 3))
	assert.Equal(t, [][2]int{{0, 2}}, RowBands(2, 1))
	assert.Len(t, RowBands(2, 8), 2)
	assert.Empty(t, RowBands(0, 4))
}
