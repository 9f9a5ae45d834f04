package encoder

import (
	"image"

	"golang.org/x/image/draw"
)

// framePacker converts surfaces to tightly packed RGBA frames of a fixed
// size, scaling when the surface size differs. Buffers are reused between
// frames; the returned slice is only valid until the next call.
type framePacker struct {
	width, height int
	scaler        draw.Scaler
	buf           []byte
	scaled        *image.RGBA
}

func newFramePacker(width, height int) *framePacker {
	return &framePacker{
		width:  width,
		height: height,
		scaler: draw.ApproxBiLinear,
		buf:    make([]byte, 4*width*height),
	}
}

func (p *framePacker) frameSize() int { return 4 * p.width * p.height }

func (p *framePacker) pack(src *image.RGBA) []byte {
	b := src.Bounds()
	if b.Dx() != p.width || b.Dy() != p.height {
		if p.scaled == nil {
			p.scaled = image.NewRGBA(image.Rect(0, 0, p.width, p.height))
		}
		p.scaler.Scale(p.scaled, p.scaled.Bounds(), src, b, draw.Src, nil)
		src = p.scaled
		b = src.Bounds()
	}

	row := 4 * p.width
	if src.Stride == row {
		start := src.PixOffset(b.Min.X, b.Min.Y)
		copy(p.buf, src.Pix[start:start+row*p.height])
		return p.buf
	}
	for y := range p.height {
		start := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(p.buf[y*row:(y+1)*row], src.Pix[start:start+row])
	}
	return p.buf
}

// evenSize rounds dimensions down to even values, as 4:2:0 encoders require.
func evenSize(w, h int) (int, int) {
	return w &^ 1, h &^ 1
}
