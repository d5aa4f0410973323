// Package tiling computes overlapping tile layouts for the upscaling worker.
//
// The source image is divided into a row-major grid of regions. Each region
// carries two nested rectangles: the core, which the tile is authoritatively
// responsible for in the final output (cores are disjoint and exactly tile
// the image), and the crop, the core expanded outward by the overlap margin
// and clamped to the image bounds. The crop is what is actually fed to
// inference; the extra context suppresses seam artifacts at tile borders.
package tiling

import (
	"errors"
	"fmt"
	"image"
)

// Layout constraints.
const (
	// MinTileSize is the smallest permitted tile edge. Smaller tiles give
	// the model too little context and explode the per-run tile count.
	MinTileSize = 64
)

var (
	ErrInvalidDimensions = errors.New("tiling: invalid image dimensions")
)

// Config is the caller-requested tile geometry before normalization.
type Config struct {
	// Size is the requested core edge length in pixels.
	Size int `json:"size"`

	// Overlap is the requested margin in pixels added around each core.
	Overlap int `json:"overlap"`
}

// Normalize clamps the configuration into its valid range:
// Size >= MinTileSize and 0 <= Overlap <= Size/2.
func (c Config) Normalize() Config {
	if c.Size < MinTileSize {
		c.Size = MinTileSize
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if max := c.Size / 2; c.Overlap > max {
		c.Overlap = max
	}
	return c
}

// Region is one planned tile.
type Region struct {
	// Row and Col are the grid coordinates of this tile (0-based).
	Row, Col int

	// Core is the rectangle this tile is responsible for producing.
	Core image.Rectangle

	// Crop is Core expanded by the overlap and clamped to the image
	// bounds. This is the rectangle fed to inference.
	Crop image.Rectangle
}

// Plan is a full tile layout for one image.
type Plan struct {
	// Regions holds all tiles in row-major order (left to right, top to
	// bottom). Progress reporting relies on this ordering; stitching
	// correctness does not.
	Regions []Region

	// Rows and Cols are the grid dimensions.
	Rows, Cols int

	// Config is the normalized configuration the plan was built from.
	Config Config
}

// Grid computes the tile layout for an image of the given dimensions.
//
// Cols = ceil(width/size), Rows = ceil(height/size). The last row and
// column shrink their cores to the image boundary; no synthetic pixels are
// ever introduced.
func Grid(width, height int, cfg Config) (Plan, error) {
	if width <= 0 || height <= 0 {
		return Plan{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	cfg = cfg.Normalize()

	cols := (width + cfg.Size - 1) / cfg.Size
	rows := (height + cfg.Size - 1) / cfg.Size
	bounds := image.Rect(0, 0, width, height)

	plan := Plan{
		Regions: make([]Region, 0, rows*cols),
		Rows:    rows,
		Cols:    cols,
		Config:  cfg,
	}

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			core := image.Rect(
				c*cfg.Size,
				r*cfg.Size,
				min((c+1)*cfg.Size, width),
				min((r+1)*cfg.Size, height),
			)
			crop := core.Inset(-cfg.Overlap).Intersect(bounds)
			plan.Regions = append(plan.Regions, Region{
				Row:  r,
				Col:  c,
				Core: core,
				Crop: crop,
			})
		}
	}
	return plan, nil
}

// TileCount returns the number of tiles in the plan.
func (p Plan) TileCount() int {
	return len(p.Regions)
}
