// Package raster provides the RGBA pixel buffer model shared by the
// upscaling worker: stride-aware cropping, tile stitching, and channel
// normalization. All buffers are row-major with 4 bytes per pixel unless a
// Channels field says otherwise.
package raster

import (
	"errors"
	"fmt"
	"image"
)

// RGBAChannels is the channel count of a fully normalized image.
const RGBAChannels = 4

// Image errors
var (
	ErrEmptyImage        = errors.New("raster: empty image data")
	ErrInvalidDimensions = errors.New("raster: invalid dimensions")
	ErrBufferSize        = errors.New("raster: pixel buffer size does not match dimensions")
	ErrRectOutOfBounds   = errors.New("raster: rectangle out of image bounds")
)

// Image is a raw pixel buffer with explicit geometry.
//
// Invariant: len(Pix) == Width*Height*Channels. Rows are stored top to
// bottom with stride Width*Channels and no padding.
type Image struct {
	// Width is the image width in pixels.
	Width int

	// Height is the image height in pixels.
	Height int

	// Channels is the number of interleaved channels per pixel (1..4).
	// Fully normalized images have RGBAChannels.
	Channels int

	// Pix holds the interleaved pixel data, row-major.
	Pix []byte
}

// NewRGBA allocates a zeroed RGBA image of the given dimensions.
// Returns an error if either dimension is not positive.
func NewRGBA(width, height int) (Image, error) {
	if width <= 0 || height <= 0 {
		return Image{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	return Image{
		Width:    width,
		Height:   height,
		Channels: RGBAChannels,
		Pix:      make([]byte, width*height*RGBAChannels),
	}, nil
}

// Validate checks the Image invariants.
//
// Returns:
//   - ErrInvalidDimensions: non-positive width/height or channels outside 1..4
//   - ErrEmptyImage: nil or empty pixel buffer
//   - ErrBufferSize: buffer length does not equal Width*Height*Channels
func (m Image) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, m.Width, m.Height)
	}
	if m.Channels < 1 || m.Channels > RGBAChannels {
		return fmt.Errorf("%w: %d channels", ErrInvalidDimensions, m.Channels)
	}
	if len(m.Pix) == 0 {
		return ErrEmptyImage
	}
	if want := m.Width * m.Height * m.Channels; len(m.Pix) != want {
		return fmt.Errorf("%w: have %d bytes, want %d", ErrBufferSize, len(m.Pix), want)
	}
	return nil
}

// Bounds returns the image bounds as an image.Rectangle anchored at origin.
func (m Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// Stride returns the row stride in bytes.
func (m Image) Stride() int {
	return m.Width * m.Channels
}

// ExtractRect copies the rectangle r out of the image into a standalone
// buffer. The copy is stride-aware: r is generally narrower than the source,
// so each row is copied individually.
//
// Returns ErrRectOutOfBounds if r is not fully contained in the image.
func (m Image) ExtractRect(r image.Rectangle) (Image, error) {
	if err := m.Validate(); err != nil {
		return Image{}, err
	}
	if !r.In(m.Bounds()) || r.Empty() {
		return Image{}, fmt.Errorf("%w: %v in %v", ErrRectOutOfBounds, r, m.Bounds())
	}

	w, h := r.Dx(), r.Dy()
	out := Image{
		Width:    w,
		Height:   h,
		Channels: m.Channels,
		Pix:      make([]byte, w*h*m.Channels),
	}

	srcStride := m.Stride()
	dstStride := out.Stride()
	for row := 0; row < h; row++ {
		srcOff := (r.Min.Y+row)*srcStride + r.Min.X*m.Channels
		dstOff := row * dstStride
		copy(out.Pix[dstOff:dstOff+dstStride], m.Pix[srcOff:srcOff+dstStride])
	}
	return out, nil
}

// Clone returns a deep copy of the image.
func (m Image) Clone() Image {
	pix := make([]byte, len(m.Pix))
	copy(pix, m.Pix)
	return Image{Width: m.Width, Height: m.Height, Channels: m.Channels, Pix: pix}
}
