// Package convert turns raw capture frames into tightly packed 32-bit pixel
// buffers ready for texture upload.
//
// Supported inputs:
//   - UYVY (packed 4:2:2, BT.601 studio range) → RGBA8
//   - RGBA / BGRA → same format, row padding removed
package convert

import (
	"errors"
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
)

// ErrUnsupportedFormat is returned for pixel formats or frame geometries the
// converter cannot handle.
var ErrUnsupportedFormat = errors.New("unsupported pixel format")

// PixelFormat is the layout of a converted buffer.
type PixelFormat int

const (
	PixelFormatRGBA8 PixelFormat = iota
	PixelFormatBGRA8
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatRGBA8:
		return "RGBA8"
	case PixelFormatBGRA8:
		return "BGRA8"
	default:
		return "unknown"
	}
}

// Result describes a converted buffer. Stride is always Width*4.
type Result struct {
	Width  int
	Height int
	Stride int
	Format PixelFormat
	Pixels []byte
}

// Convert converts src into dst, reusing dst's backing array when it is large
// enough. src is only read; the caller keeps ownership of it.
func Convert(src *capture.VideoFrame, dst []byte) (Result, error) {
	if src == nil || src.Width <= 0 || src.Height <= 0 || len(src.Data) == 0 {
		return Result{}, fmt.Errorf("%w: empty or zero-sized frame", ErrUnsupportedFormat)
	}

	res := Result{Width: src.Width, Height: src.Height, Stride: src.Width * 4}

	switch src.FourCC {
	case capture.FourCCUYVY:
		res.Format = PixelFormatRGBA8
	case capture.FourCCRGBA:
		res.Format = PixelFormatRGBA8
	case capture.FourCCBGRA:
		res.Format = PixelFormatBGRA8
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, src.FourCC)
	}

	size := res.Stride * res.Height
	if cap(dst) >= size {
		dst = dst[:size]
	} else {
		dst = make([]byte, size)
	}

	var err error
	if src.FourCC == capture.FourCCUYVY {
		err = uyvyToRGBA(src, dst)
	} else {
		err = repack(src, dst)
	}
	if err != nil {
		return Result{}, err
	}

	res.Pixels = dst
	return res, nil
}

// sourceStride returns the effective row pitch and checks that the buffer
// covers every row.
func sourceStride(src *capture.VideoFrame, bpp int) (int, error) {
	rowBytes := src.Width * bpp
	stride := src.Stride
	if stride == 0 {
		stride = rowBytes
	}
	if stride < rowBytes {
		return 0, fmt.Errorf("%w: stride %d shorter than row %d", ErrUnsupportedFormat, stride, rowBytes)
	}
	need := stride*(src.Height-1) + rowBytes
	if len(src.Data) < need {
		return 0, fmt.Errorf("%w: buffer holds %d bytes, need %d", ErrUnsupportedFormat, len(src.Data), need)
	}
	return stride, nil
}

// repack copies 32-bit pixels, dropping row padding. A tightly packed
// source is copied in one call.
func repack(src *capture.VideoFrame, dst []byte) error {
	stride, err := sourceStride(src, 4)
	if err != nil {
		return err
	}

	rowBytes := src.Width * 4
	if stride == rowBytes {
		copy(dst, src.Data[:rowBytes*src.Height])
		return nil
	}

	for y := 0; y < src.Height; y++ {
		copy(dst[y*rowBytes:(y+1)*rowBytes], src.Data[y*stride:y*stride+rowBytes])
	}
	return nil
}

// uyvyToRGBA decodes U Y0 V Y1 macropixels with the integer BT.601 inverse:
//
//	C = max(Y-16, 0), D = U-128, E = V-128
//	R = (298C + 409E + 128) >> 8
//	G = (298C - 100D - 208E + 128) >> 8
//	B = (298C + 516D + 128) >> 8
func uyvyToRGBA(src *capture.VideoFrame, dst []byte) error {
	if src.Width%2 != 0 {
		return fmt.Errorf("%w: UYVY width %d is odd", ErrUnsupportedFormat, src.Width)
	}
	stride, err := sourceStride(src, 2)
	if err != nil {
		return err
	}

	outStride := src.Width * 4
	for y := 0; y < src.Height; y++ {
		in := src.Data[y*stride : y*stride+src.Width*2]
		out := dst[y*outStride : (y+1)*outStride]

		for i, o := 0, 0; i+3 < len(in); i, o = i+4, o+8 {
			d := int(in[i]) - 128
			e := int(in[i+2]) - 128
			writePixel(out[o:o+4], int(in[i+1]), d, e)
			writePixel(out[o+4:o+8], int(in[i+3]), d, e)
		}
	}
	return nil
}

func writePixel(px []byte, y, d, e int) {
	c := y - 16
	if c < 0 {
		c = 0
	}
	c *= 298
	px[0] = clamp((c + 409*e + 128) >> 8)
	px[1] = clamp((c - 100*d - 208*e + 128) >> 8)
	px[2] = clamp((c + 516*d + 128) >> 8)
	px[3] = 255
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
