package raster

import (
	"fmt"
	"image"
)

// Blit copies the scaled core rectangle of a tile's inference output into
// the shared destination buffer, trimming the overlap margin the crop added
// around the core.
//
// The trim on each edge is the distance between crop and core in source
// coordinates, multiplied by scale. The destination offset is the scaled
// core origin. Copy dimensions are clamped against both the trimmed tile
// output and the remaining destination space, so rounding drift at image
// edges can never overrun either buffer.
//
// Because core rectangles are disjoint and exactly tile the source image,
// after trimming there is exactly one contributor per destination pixel.
// Blit order therefore does not affect the final buffer.
//
// Both dst and tile must be RGBA. dst is modified in place.
func Blit(dst *Image, tile Image, core, crop image.Rectangle, scale int) error {
	if err := dst.Validate(); err != nil {
		return fmt.Errorf("raster: blit destination: %w", err)
	}
	if err := tile.Validate(); err != nil {
		return fmt.Errorf("raster: blit tile: %w", err)
	}
	if dst.Channels != RGBAChannels || tile.Channels != RGBAChannels {
		return fmt.Errorf("%w: blit requires RGBA buffers", ErrInvalidDimensions)
	}
	if scale < 1 {
		return fmt.Errorf("%w: scale %d", ErrInvalidDimensions, scale)
	}

	trimLeft := (core.Min.X - crop.Min.X) * scale
	trimTop := (core.Min.Y - crop.Min.Y) * scale
	trimRight := (crop.Max.X - core.Max.X) * scale
	trimBottom := (crop.Max.Y - core.Max.Y) * scale

	srcW := tile.Width - trimLeft - trimRight
	srcH := tile.Height - trimTop - trimBottom
	if srcW <= 0 || srcH <= 0 {
		return nil
	}

	dstX := core.Min.X * scale
	dstY := core.Min.Y * scale

	// Defensive clamp against rounding at the image edges.
	copyW := min(srcW, dst.Width-dstX)
	copyH := min(srcH, dst.Height-dstY)
	if copyW <= 0 || copyH <= 0 {
		return nil
	}

	srcStride := tile.Stride()
	dstStride := dst.Stride()
	rowBytes := copyW * RGBAChannels
	for row := 0; row < copyH; row++ {
		srcOff := (trimTop+row)*srcStride + trimLeft*RGBAChannels
		dstOff := (dstY+row)*dstStride + dstX*RGBAChannels
		copy(dst.Pix[dstOff:dstOff+rowBytes], tile.Pix[srcOff:srcOff+rowBytes])
	}
	return nil
}
