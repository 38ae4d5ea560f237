package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
)

// encodeUYVY fills a w×h UYVY frame with a single BT.601 studio-range colour.
func encodeUYVY(w, h, stride int, r, g, b byte) *capture.VideoFrame {
	ri, gi, bi := int(r), int(g), int(b)
	y := byte(((66*ri + 129*gi + 25*bi + 128) >> 8) + 16)
	u := byte(((-38*ri - 74*gi + 112*bi + 128) >> 8) + 128)
	v := byte(((112*ri - 94*gi - 18*bi + 128) >> 8) + 128)

	data := make([]byte, stride*h)
	for row := 0; row < h; row++ {
		for x := 0; x < w*2; x += 4 {
			i := row*stride + x
			data[i], data[i+1], data[i+2], data[i+3] = u, y, v, y
		}
	}
	return &capture.VideoFrame{Width: w, Height: h, FourCC: capture.FourCCUYVY, Stride: stride, Data: data}
}

func absDiff(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// TestConvert_UYVYSolidColours verifies encode→decode round trip within ±2
func TestConvert_UYVYSolidColours(t *testing.T) {
	colours := []struct {
		name    string
		r, g, b byte
	}{
		{"red", 255, 0, 0},
		{"green", 0, 255, 0},
		{"blue", 0, 0, 255},
		{"white", 255, 255, 255},
		{"black", 0, 0, 0},
		{"grey", 128, 128, 128},
		{"orange", 255, 128, 0},
	}

	for _, c := range colours {
		t.Run(c.name, func(t *testing.T) {
			src := encodeUYVY(4, 2, 8, c.r, c.g, c.b)
			res, err := Convert(src, nil)
			require.NoError(t, err)

			assert.Equal(t, PixelFormatRGBA8, res.Format)
			assert.Equal(t, 16, res.Stride)
			require.Len(t, res.Pixels, 16*2)

			for i := 0; i < len(res.Pixels); i += 4 {
				px := res.Pixels[i : i+4]
				assert.LessOrEqual(t, absDiff(px[0], c.r), 2, "R at %d", i/4)
				assert.LessOrEqual(t, absDiff(px[1], c.g), 2, "G at %d", i/4)
				assert.LessOrEqual(t, absDiff(px[2], c.b), 2, "B at %d", i/4)
				assert.Equal(t, byte(255), px[3])
			}
		})
	}

	t.Log("✅ UYVY solid colours decode within ±2")
}

// TestConvert_UYVYBitExact checks the integer transform against hand-computed values
func TestConvert_UYVYBitExact(t *testing.T) {
	// U=90 Y0=81 V=240 Y1=16
	src := &capture.VideoFrame{
		Width: 2, Height: 1, FourCC: capture.FourCCUYVY, Stride: 4,
		Data: []byte{90, 81, 240, 16},
	}

	res, err := Convert(src, nil)
	require.NoError(t, err)

	// Y0: C=65 D=-38 E=112 → R=(19370+45808+128)>>8=255 G=(19370+3800-23296+128)>>8=0 B=(19370-19608+128)>>8=-1→0
	assert.Equal(t, []byte{255, 0, 0, 255}, res.Pixels[0:4])
	// Y1: C=0 → R=(45808+128)>>8=179 G=(3800-23296+128)>>8=-76→0 B=(-19608+128)>>8=-77→0
	assert.Equal(t, []byte{179, 0, 0, 255}, res.Pixels[4:8])
}

func TestConvert_UYVYLumaFloor(t *testing.T) {
	// Y below 16 clamps to black
	src := &capture.VideoFrame{
		Width: 2, Height: 1, FourCC: capture.FourCCUYVY,
		Data: []byte{128, 0, 128, 5},
	}
	res, err := Convert(src, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 255, 0, 0, 0, 255}, res.Pixels)
}

func TestConvert_UYVYWithPadding(t *testing.T) {
	src := encodeUYVY(2, 3, 12, 0, 0, 255) // 4 bytes per row + 8 bytes padding
	for row := 0; row < 3; row++ {
		for i := 4; i < 12; i++ {
			src.Data[row*12+i] = 0xEE
		}
	}

	res, err := Convert(src, nil)
	require.NoError(t, err)
	require.Len(t, res.Pixels, 8*3)
	for i := 0; i < len(res.Pixels); i += 4 {
		assert.LessOrEqual(t, absDiff(res.Pixels[i+2], 255), 2)
	}
}

func TestConvert_Passthrough(t *testing.T) {
	testCases := []struct {
		name   string
		fourcc capture.FourCC
		format PixelFormat
		stride int
	}{
		{"rgba_packed", capture.FourCCRGBA, PixelFormatRGBA8, 8},
		{"rgba_padded", capture.FourCCRGBA, PixelFormatRGBA8, 12},
		{"bgra_packed", capture.FourCCBGRA, PixelFormatBGRA8, 8},
		{"bgra_padded", capture.FourCCBGRA, PixelFormatBGRA8, 16},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			const w, h = 2, 3
			data := make([]byte, tc.stride*h)
			for y := 0; y < h; y++ {
				for i := 0; i < tc.stride; i++ {
					if i < w*4 {
						data[y*tc.stride+i] = byte(y*10 + i)
					} else {
						data[y*tc.stride+i] = 0xFF
					}
				}
			}

			res, err := Convert(&capture.VideoFrame{Width: w, Height: h, FourCC: tc.fourcc, Stride: tc.stride, Data: data}, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.format, res.Format)
			assert.Equal(t, w*4, res.Stride)
			require.Len(t, res.Pixels, w*4*h)

			for y := 0; y < h; y++ {
				for i := 0; i < w*4; i++ {
					assert.Equal(t, byte(y*10+i), res.Pixels[y*w*4+i])
				}
			}
		})
	}
}

func TestConvert_ReusesDestination(t *testing.T) {
	src := encodeUYVY(4, 2, 8, 10, 20, 30)
	dst := make([]byte, 0, 1024)

	res, err := Convert(src, dst)
	require.NoError(t, err)
	assert.Same(t, &dst[:1][0], &res.Pixels[0], "backing array should be reused")

	small := make([]byte, 4)
	res, err = Convert(src, small)
	require.NoError(t, err)
	assert.Len(t, res.Pixels, 32)
}

func TestConvert_Unsupported(t *testing.T) {
	testCases := []struct {
		name string
		src  *capture.VideoFrame
	}{
		{"nil", nil},
		{"zero_width", &capture.VideoFrame{Width: 0, Height: 2, FourCC: capture.FourCCRGBA, Data: []byte{1}}},
		{"no_data", &capture.VideoFrame{Width: 2, Height: 2, FourCC: capture.FourCCRGBA}},
		{"nv12", &capture.VideoFrame{Width: 2, Height: 2, FourCC: capture.FourCCNV12, Data: make([]byte, 6)}},
		{"short_buffer", &capture.VideoFrame{Width: 2, Height: 2, FourCC: capture.FourCCRGBA, Stride: 8, Data: make([]byte, 10)}},
		{"short_stride", &capture.VideoFrame{Width: 2, Height: 2, FourCC: capture.FourCCRGBA, Stride: 4, Data: make([]byte, 16)}},
		{"odd_uyvy", &capture.VideoFrame{Width: 3, Height: 1, FourCC: capture.FourCCUYVY, Data: make([]byte, 8)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Convert(tc.src, nil)
			assert.ErrorIs(t, err, ErrUnsupportedFormat)
		})
	}
}

func BenchmarkConvert_UYVY1080p(b *testing.B) {
	src := encodeUYVY(1920, 1080, 3840, 40, 120, 200)
	dst := make([]byte, 1920*1080*4)
	b.SetBytes(int64(len(src.Data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Convert(src, dst); err != nil {
			b.Fatal(err)
		}
	}
}
