//go:build opencv

package enhance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCVBackend_MatchesReference(t *testing.T) {
	cv, err := probeOpenCV()
	require.NoError(t, err)
	ref := NewReferenceBackend()

	src := gradientFrame(48, 32)

	wbRef, err := ref.WhiteBalance(src)
	require.NoError(t, err)
	wbCV, err := cv.WhiteBalance(src)
	require.NoError(t, err)
	assertClose(t, wbRef.Pix, wbCV.Pix, 1)

	ssrRef, err := ref.SingleScaleRetinex(wbRef, 15)
	require.NoError(t, err)
	ssrCV, err := cv.SingleScaleRetinex(wbRef, 15)
	require.NoError(t, err)
	for i := range ssrRef.Pix {
		assert.InDelta(t, ssrRef.Pix[i], ssrCV.Pix[i], 1e-3)
	}

	bRef, err := ref.Bilateral(wbRef, 9, 75, 75)
	require.NoError(t, err)
	bCV, err := cv.Bilateral(wbRef, 9, 75, 75)
	require.NoError(t, err)
	assertClose(t, bRef.Pix, bCV.Pix, 1)
}

func assertClose(t *testing.T, want, got []byte, tol int) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		d := int(want[i]) - int(got[i])
		if d < -tol || d > tol {
			t.Fatalf("byte %d differs: %d vs %d", i, want[i], got[i])
		}
	}
}
