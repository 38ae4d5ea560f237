package streamreceiver

import (
	"sync"
	"time"
)

const (
	// FallbackWidth and FallbackHeight are the placeholder dimensions: two
	// 1920x1080 halves side by side.
	FallbackWidth  = 3840
	FallbackHeight = 1080

	fallbackBandWidth = 320
)

// Six saturated bands on the left half, their pastel variants on the right.
var (
	fallbackLeft = [6][3]byte{
		{255, 0, 0}, {0, 255, 0}, {0, 0, 255}, {255, 255, 0}, {0, 255, 255}, {255, 0, 255},
	}
	fallbackRight = [6][3]byte{
		{255, 128, 128}, {128, 255, 128}, {128, 128, 255}, {255, 255, 128}, {128, 255, 255}, {255, 128, 255},
	}
)

// FallbackPresenter renders the placeholder test pattern shown when no live
// signal is available. Safe for concurrent use.
type FallbackPresenter struct {
	once    sync.Once
	pattern []byte
}

// NewFallbackPresenter returns a presenter. The pattern is built lazily.
func NewFallbackPresenter() *FallbackPresenter {
	return &FallbackPresenter{}
}

func (p *FallbackPresenter) build() {
	p.once.Do(func() {
		stride := FallbackWidth * 4
		row := make([]byte, stride)
		for x := 0; x < FallbackWidth; x++ {
			band := (x / fallbackBandWidth) % 6
			c := fallbackLeft[band]
			if x >= FallbackWidth/2 {
				c = fallbackRight[band]
			}
			row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = c[0], c[1], c[2], 255
		}

		p.pattern = make([]byte, stride*FallbackHeight)
		for y := 0; y < FallbackHeight; y++ {
			copy(p.pattern[y*stride:], row)
		}
	})
}

// Render returns a new fallback frame.
func (p *FallbackPresenter) Render(reason string) *DecodedFrame {
	f := &DecodedFrame{}
	p.RenderInto(f, reason)
	return f
}

// RenderInto fills dst with the fallback pattern, reusing dst.Pixels when
// large enough.
func (p *FallbackPresenter) RenderInto(dst *DecodedFrame, reason string) {
	p.build()

	size := len(p.pattern)
	if cap(dst.Pixels) >= size {
		dst.Pixels = dst.Pixels[:size]
	} else {
		dst.Pixels = make([]byte, size)
	}
	copy(dst.Pixels, p.pattern)

	dst.Width = FallbackWidth
	dst.Height = FallbackHeight
	dst.Stride = FallbackWidth * 4
	dst.Format = PixelFormatRGBA8
	dst.CapturedAt = time.Now()
	dst.TraceID = ""
	dst.Fallback = true
	dst.FallbackReason = reason
}
