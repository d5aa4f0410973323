package tiling

import (
	"image"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want Config
	}{
		{
			name: "valid config unchanged",
			in:   Config{Size: 128, Overlap: 16},
			want: Config{Size: 128, Overlap: 16},
		},
		{
			name: "size clamped to minimum",
			in:   Config{Size: 10, Overlap: 4},
			want: Config{Size: MinTileSize, Overlap: 4},
		},
		{
			name: "negative overlap clamped to zero",
			in:   Config{Size: 64, Overlap: -5},
			want: Config{Size: 64, Overlap: 0},
		},
		{
			name: "overlap clamped to half size",
			in:   Config{Size: 64, Overlap: 100},
			want: Config{Size: 64, Overlap: 32},
		},
		{
			name: "zero config gets defaults",
			in:   Config{},
			want: Config{Size: MinTileSize, Overlap: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			if got != tt.want {
				t.Errorf("Normalize(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestGridSmallImage(t *testing.T) {
	// 130x90 with 64px tiles and 8px overlap: 3 columns, 2 rows.
	plan, err := Grid(130, 90, Config{Size: 64, Overlap: 8})
	if err != nil {
		t.Fatalf("Grid failed: %v", err)
	}

	if plan.Rows != 2 || plan.Cols != 3 {
		t.Fatalf("got %dx%d grid, want 2x3", plan.Rows, plan.Cols)
	}
	if plan.TileCount() != 6 {
		t.Fatalf("TileCount() = %d, want 6", plan.TileCount())
	}

	wantCores := []image.Rectangle{
		image.Rect(0, 0, 64, 64),
		image.Rect(64, 0, 128, 64),
		image.Rect(128, 0, 130, 64),
		image.Rect(0, 64, 64, 90),
		image.Rect(64, 64, 128, 90),
		image.Rect(128, 64, 130, 90),
	}
	wantCrops := []image.Rectangle{
		image.Rect(0, 0, 72, 72),
		image.Rect(56, 0, 130, 72),
		image.Rect(120, 0, 130, 72),
		image.Rect(0, 56, 72, 90),
		image.Rect(56, 56, 130, 90),
		image.Rect(120, 56, 130, 90),
	}

	for i, region := range plan.Regions {
		if region.Core != wantCores[i] {
			t.Errorf("tile %d core = %v, want %v", i, region.Core, wantCores[i])
		}
		if region.Crop != wantCrops[i] {
			t.Errorf("tile %d crop = %v, want %v", i, region.Crop, wantCrops[i])
		}
	}
}

func TestGridSingleTile(t *testing.T) {
	// Image smaller than one tile: a single region covering everything.
	plan, err := Grid(40, 30, Config{Size: 64, Overlap: 8})
	if err != nil {
		t.Fatalf("Grid failed: %v", err)
	}
	if plan.TileCount() != 1 {
		t.Fatalf("TileCount() = %d, want 1", plan.TileCount())
	}

	region := plan.Regions[0]
	want := image.Rect(0, 0, 40, 30)
	if region.Core != want {
		t.Errorf("core = %v, want %v", region.Core, want)
	}
	// Crop cannot extend beyond the image; it equals the core here.
	if region.Crop != want {
		t.Errorf("crop = %v, want %v", region.Crop, want)
	}
}

func TestGridCoresTileImageExactly(t *testing.T) {
	// Cores must be disjoint and cover every pixel exactly once,
	// regardless of how awkwardly the image divides.
	dims := []struct{ w, h int }{
		{64, 64},
		{65, 64},
		{127, 129},
		{130, 90},
		{1, 1},
		{500, 3},
	}

	for _, d := range dims {
		plan, err := Grid(d.w, d.h, Config{Size: 64, Overlap: 8})
		if err != nil {
			t.Fatalf("Grid(%d, %d) failed: %v", d.w, d.h, err)
		}

		covered := make([]int, d.w*d.h)
		for _, region := range plan.Regions {
			for y := region.Core.Min.Y; y < region.Core.Max.Y; y++ {
				for x := region.Core.Min.X; x < region.Core.Max.X; x++ {
					covered[y*d.w+x]++
				}
			}
		}
		for i, n := range covered {
			if n != 1 {
				t.Fatalf("%dx%d: pixel (%d,%d) covered %d times, want exactly 1",
					d.w, d.h, i%d.w, i/d.w, n)
			}
		}
	}
}

func TestGridCropContainsCore(t *testing.T) {
	plan, err := Grid(300, 200, Config{Size: 64, Overlap: 12})
	if err != nil {
		t.Fatalf("Grid failed: %v", err)
	}

	bounds := image.Rect(0, 0, 300, 200)
	for i, region := range plan.Regions {
		if !region.Core.In(region.Crop) {
			t.Errorf("tile %d: core %v not inside crop %v", i, region.Core, region.Crop)
		}
		if !region.Crop.In(bounds) {
			t.Errorf("tile %d: crop %v escapes image bounds", i, region.Crop)
		}
	}

	// Interior tiles carry the full margin on every side.
	interior := plan.Regions[plan.Cols+1] // row 1, col 1
	if got := interior.Core.Min.X - interior.Crop.Min.X; got != 12 {
		t.Errorf("interior left margin = %d, want 12", got)
	}
	if got := interior.Crop.Max.Y - interior.Core.Max.Y; got != 12 {
		t.Errorf("interior bottom margin = %d, want 12", got)
	}
}

func TestGridInvalidDimensions(t *testing.T) {
	for _, d := range []struct{ w, h int }{{0, 10}, {10, 0}, {-1, 10}} {
		if _, err := Grid(d.w, d.h, Config{Size: 64}); err == nil {
			t.Errorf("Grid(%d, %d) succeeded, want error", d.w, d.h)
		}
	}
}
