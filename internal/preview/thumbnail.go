package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	streamreceiver "github.com/e7canasta/orion-care-sensor/modules/stream-receiver"
)

// thumbSize returns the thumbnail size for a width x height frame scaled to
// maxWidth, keeping the aspect ratio. Frames narrower than maxWidth keep
// their size.
func thumbSize(width, height, maxWidth int) (int, int) {
	if width <= maxWidth {
		return width, height
	}
	h := height * maxWidth / width
	if h < 1 {
		h = 1
	}
	return maxWidth, h
}

// frameImage wraps an RGBA8 frame as an image without copying. BGRA8 frames
// are swizzled into a new buffer.
func frameImage(f *streamreceiver.DecodedFrame) (*image.RGBA, error) {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pixels) < f.Stride*f.Height {
		return nil, fmt.Errorf("preview: invalid frame %dx%d stride %d len %d", f.Width, f.Height, f.Stride, len(f.Pixels))
	}

	pix := f.Pixels
	if f.Format == streamreceiver.PixelFormatBGRA8 {
		pix = make([]byte, len(f.Pixels))
		for i := 0; i+3 < len(pix); i += 4 {
			pix[i], pix[i+1], pix[i+2], pix[i+3] = f.Pixels[i+2], f.Pixels[i+1], f.Pixels[i], f.Pixels[i+3]
		}
	}
	return &image.RGBA{Pix: pix, Stride: f.Stride, Rect: image.Rect(0, 0, f.Width, f.Height)}, nil
}

// Thumbnail scales f to maxWidth and encodes it as JPEG.
func Thumbnail(f *streamreceiver.DecodedFrame, maxWidth, quality int) ([]byte, error) {
	src, err := frameImage(f)
	if err != nil {
		return nil, err
	}

	w, h := thumbSize(f.Width, f.Height, maxWidth)
	var img image.Image = src
	if w != f.Width {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("preview: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
