package streamreceiver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pixelAt(f *DecodedFrame, x, y int) [4]byte {
	i := y*f.Stride + x*4
	return [4]byte{f.Pixels[i], f.Pixels[i+1], f.Pixels[i+2], f.Pixels[i+3]}
}

// TestFallbackPresenter_Bands validates the band layout of the placeholder
//
// Layout: 3840x1080, two 1920 halves, six 320px bands each, opaque
func TestFallbackPresenter_Bands(t *testing.T) {
	p := NewFallbackPresenter()
	f := p.Render("no signal")

	require.Equal(t, FallbackWidth, f.Width)
	require.Equal(t, FallbackHeight, f.Height)
	require.Equal(t, FallbackWidth*4, f.Stride)
	require.Len(t, f.Pixels, FallbackWidth*FallbackHeight*4)
	assert.Equal(t, PixelFormatRGBA8, f.Format)
	assert.True(t, f.Fallback)
	assert.Equal(t, "no signal", f.FallbackReason)

	testCases := []struct {
		name string
		x    int
		want [4]byte
	}{
		{"left_red", 0, [4]byte{255, 0, 0, 255}},
		{"left_red_edge", 319, [4]byte{255, 0, 0, 255}},
		{"left_green", 320, [4]byte{0, 255, 0, 255}},
		{"left_magenta", 1919, [4]byte{255, 0, 255, 255}},
		{"right_light_red", 1920, [4]byte{255, 128, 128, 255}},
		{"right_light_green", 2240, [4]byte{128, 255, 128, 255}},
		{"right_light_magenta", 3839, [4]byte{255, 128, 255, 255}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, pixelAt(f, tc.x, 0))
			assert.Equal(t, tc.want, pixelAt(f, tc.x, FallbackHeight-1), "columns are uniform")
		})
	}

	t.Log("✅ 12 bands, opaque, 3840x1080")
}

func TestFallbackPresenter_RenderIntoReuses(t *testing.T) {
	p := NewFallbackPresenter()

	dst := &DecodedFrame{Pixels: make([]byte, FallbackWidth*FallbackHeight*4+64), TraceID: "live"}
	buf := &dst.Pixels[0]
	p.RenderInto(dst, "reason")

	assert.Same(t, buf, &dst.Pixels[0], "buffer reused")
	assert.Len(t, dst.Pixels, FallbackWidth*FallbackHeight*4)
	assert.Empty(t, dst.TraceID)
	assert.Equal(t, p.Render("other").Pixels, dst.Pixels)
}
