package raster

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// ToRGBA normalizes an image to 4 interleaved channels.
//
// Images with fewer channels are promoted by replicating the first channel
// into the missing color channels and forcing alpha fully opaque:
//   - 1 channel: R=G=B=c0, A=255
//   - 2 channels: R=c0, G=c1, B=c0, A=255
//   - 3 channels: R,G,B copied, A=255
//
// The promotion is deterministic byte arithmetic so repeated runs over the
// same input are bit-exact. RGBA input is returned unchanged (same buffer).
func ToRGBA(m Image) (Image, error) {
	if err := m.Validate(); err != nil {
		return Image{}, err
	}
	if m.Channels == RGBAChannels {
		return m, nil
	}

	out := Image{
		Width:    m.Width,
		Height:   m.Height,
		Channels: RGBAChannels,
		Pix:      make([]byte, m.Width*m.Height*RGBAChannels),
	}

	n := m.Width * m.Height
	for i := 0; i < n; i++ {
		src := i * m.Channels
		dst := i * RGBAChannels
		c0 := m.Pix[src]
		switch m.Channels {
		case 1:
			out.Pix[dst+0] = c0
			out.Pix[dst+1] = c0
			out.Pix[dst+2] = c0
		case 2:
			out.Pix[dst+0] = c0
			out.Pix[dst+1] = m.Pix[src+1]
			out.Pix[dst+2] = c0
		case 3:
			out.Pix[dst+0] = c0
			out.Pix[dst+1] = m.Pix[src+1]
			out.Pix[dst+2] = m.Pix[src+2]
		}
		out.Pix[dst+3] = 0xFF
	}
	return out, nil
}

// Decode decodes PNG, JPEG, or GIF bytes into a normalized RGBA Image.
func Decode(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, ErrEmptyImage
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("raster: decode: %w", err)
	}
	return FromStdImage(src), nil
}

// FromStdImage converts a standard library image into an RGBA Image.
func FromStdImage(src image.Image) Image {
	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	return Image{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: RGBAChannels,
		Pix:      rgba.Pix,
	}
}

// ToStdImage wraps an RGBA Image as an *image.RGBA sharing the same buffer.
func ToStdImage(m Image) (*image.RGBA, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Channels != RGBAChannels {
		return nil, fmt.Errorf("%w: need RGBA, have %d channels", ErrInvalidDimensions, m.Channels)
	}
	return &image.RGBA{
		Pix:    m.Pix,
		Stride: m.Stride(),
		Rect:   m.Bounds(),
	}, nil
}

// EncodePNG encodes an RGBA Image to PNG bytes.
func EncodePNG(m Image) ([]byte, error) {
	std, err := ToStdImage(m)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, std); err != nil {
		return nil, fmt.Errorf("raster: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ScaleNearest upscales an RGBA image by an integer factor using
// nearest-neighbor interpolation. This is the reference scaler used by
// tests and by emulated pipelines; production upscaling happens in the
// inference engine.
func ScaleNearest(m Image, scale int) (Image, error) {
	if err := m.Validate(); err != nil {
		return Image{}, err
	}
	if m.Channels != RGBAChannels {
		return Image{}, fmt.Errorf("%w: need RGBA, have %d channels", ErrInvalidDimensions, m.Channels)
	}
	if scale < 1 {
		return Image{}, fmt.Errorf("%w: scale %d", ErrInvalidDimensions, scale)
	}
	if scale == 1 {
		return m.Clone(), nil
	}

	src, err := ToStdImage(m)
	if err != nil {
		return Image{}, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, m.Width*scale, m.Height*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return Image{
		Width:    m.Width * scale,
		Height:   m.Height * scale,
		Channels: RGBAChannels,
		Pix:      dst.Pix,
	}, nil
}
