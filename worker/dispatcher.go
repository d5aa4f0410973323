package worker

import (
	"fmt"
	"math"

	"upscaler/pipeline"
	"upscaler/raster"
	"upscaler/tiling"
)

// Dispatcher feeds tiles (or whole images) through a pipeline and
// assembles the output buffer.
//
// Two behaviors are documented policies rather than guarantees of the
// inference step, preserved here explicitly so they stay testable:
//   - the scale factor is derived once, from the first tile's output width
//     divided by its crop width, and applied to every subsequent tile and
//     to the output allocation; heterogeneous per-tile scales are not
//     supported;
//   - when an engine yields multiple output candidates the pipeline layer
//     takes the first as canonical.
type Dispatcher struct {
	// emit receives per-tile progress events. May be nil.
	emit func(Outbound)
}

// NewDispatcher creates a dispatcher reporting tile progress through emit.
func NewDispatcher(emit func(Outbound)) *Dispatcher {
	return &Dispatcher{emit: emit}
}

// RunTiled runs the tiled path: plan, per-tile inference, stitch.
//
// requestedScale <= 0 means "derive from the first tile". Returns the
// assembled RGBA output, the effective scale, and the tile count.
func (d *Dispatcher) RunTiled(runID uint64, pipe pipeline.Pipeline, img raster.Image, cfg tiling.Config, requestedScale int) (raster.Image, int, int, error) {
	plan, err := tiling.Grid(img.Width, img.Height, cfg)
	if err != nil {
		return raster.Image{}, 0, 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	scale := requestedScale
	var dest raster.Image
	total := plan.TileCount()

	for i, region := range plan.Regions {
		tile, err := img.ExtractRect(region.Crop)
		if err != nil {
			return raster.Image{}, 0, 0, fmt.Errorf("%w: tile %d: %v", ErrTileInference, i, err)
		}

		out, err := pipe.Run(tile)
		if err != nil {
			// One tile failing aborts the whole run; the partially
			// filled destination buffer is dropped with it.
			return raster.Image{}, 0, 0, fmt.Errorf("%w: tile %d: %v", ErrTileInference, i, err)
		}

		out, err = raster.ToRGBA(out)
		if err != nil {
			return raster.Image{}, 0, 0, fmt.Errorf("%w: tile %d: %v", ErrTileInference, i, err)
		}

		if scale <= 0 {
			scale = deriveScale(out.Width, region.Crop.Dx())
		}
		if dest.Pix == nil {
			dest, err = raster.NewRGBA(img.Width*scale, img.Height*scale)
			if err != nil {
				return raster.Image{}, 0, 0, fmt.Errorf("%w: %v", ErrOutputAllocation, err)
			}
		}

		if err := raster.Blit(&dest, out, region.Core, region.Crop, scale); err != nil {
			return raster.Image{}, 0, 0, fmt.Errorf("%w: tile %d: %v", ErrTileInference, i, err)
		}

		if d.emit != nil {
			d.emit(Progress{
				RunID:   runID,
				Percent: float64(i+1) / float64(total) * 100,
				Tile:    i + 1,
				Tiles:   total,
			})
		}
	}

	return dest, scale, total, nil
}

// RunWhole runs the non-tiled path: the entire image as a single tile with
// no crop/core distinction and no stitching. The normalized inference
// output is the result, ownership transferred to the caller.
func (d *Dispatcher) RunWhole(runID uint64, pipe pipeline.Pipeline, img raster.Image, requestedScale int) (raster.Image, int, error) {
	out, err := pipe.Run(img)
	if err != nil {
		return raster.Image{}, 0, fmt.Errorf("%w: %v", ErrTileInference, err)
	}

	out, err = raster.ToRGBA(out)
	if err != nil {
		return raster.Image{}, 0, fmt.Errorf("%w: %v", ErrTileInference, err)
	}

	scale := requestedScale
	if scale <= 0 {
		scale = deriveScale(out.Width, img.Width)
	}
	return out, scale, nil
}

// deriveScale computes the output scale from one output/input width pair,
// rounded to the nearest integer and floored at 1.
func deriveScale(outWidth, inWidth int) int {
	if inWidth <= 0 {
		return 1
	}
	s := int(math.Round(float64(outWidth) / float64(inWidth)))
	if s < 1 {
		return 1
	}
	return s
}
