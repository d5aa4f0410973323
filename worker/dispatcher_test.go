package worker

import (
	"bytes"
	"errors"
	"testing"

	"upscaler/raster"
	"upscaler/tiling"
)

// scalePipeline emulates an upscaling engine with a deterministic
// nearest-neighbor scaler, so tiled and whole-image paths are comparable
// bit for bit.
type scalePipeline struct {
	scale  int
	runs   int
	failAt int // 1-based run index to fail on, 0 = never
}

func (p *scalePipeline) Run(in raster.Image) (raster.Image, error) {
	p.runs++
	if p.failAt > 0 && p.runs == p.failAt {
		return raster.Image{}, errors.New("engine exploded")
	}
	rgba, err := raster.ToRGBA(in)
	if err != nil {
		return raster.Image{}, err
	}
	return raster.ScaleNearest(rgba, p.scale)
}

func (p *scalePipeline) Close() error { return nil }

func gradientImage(t *testing.T, w, h int) raster.Image {
	t.Helper()
	img, err := raster.NewRGBA(w, h)
	if err != nil {
		t.Fatal(err)
	}
	for i := range img.Pix {
		img.Pix[i] = byte((i*31 + 7) % 256)
	}
	return img
}

func TestRunTiledMatchesRunWhole(t *testing.T) {
	img := gradientImage(t, 130, 90)

	var progress []Progress
	d := NewDispatcher(func(m Outbound) {
		if p, ok := m.(Progress); ok {
			progress = append(progress, p)
		}
	})

	tiled, scale, tiles, err := d.RunTiled(1, &scalePipeline{scale: 2}, img, tiling.Config{Size: 64, Overlap: 8}, 0)
	if err != nil {
		t.Fatalf("RunTiled failed: %v", err)
	}
	whole, wholeScale, err := d.RunWhole(2, &scalePipeline{scale: 2}, img, 0)
	if err != nil {
		t.Fatalf("RunWhole failed: %v", err)
	}

	if scale != 2 || wholeScale != 2 {
		t.Fatalf("derived scales %d/%d, want 2/2", scale, wholeScale)
	}
	if tiles != 6 {
		t.Fatalf("tiles = %d, want 6", tiles)
	}
	if tiled.Width != 260 || tiled.Height != 180 {
		t.Fatalf("tiled output %dx%d, want 260x180", tiled.Width, tiled.Height)
	}
	if !bytes.Equal(tiled.Pix, whole.Pix) {
		t.Error("tiled assembly differs from whole-image output")
	}

	if len(progress) != 6 {
		t.Fatalf("got %d progress events, want 6", len(progress))
	}
	for i, p := range progress {
		if p.Tile != i+1 || p.Tiles != 6 {
			t.Errorf("event %d: tile %d/%d, want %d/6", i, p.Tile, p.Tiles, i+1)
		}
	}
	if progress[5].Percent != 100 {
		t.Errorf("final percent = %v, want 100", progress[5].Percent)
	}
}

func TestRunTiledTrustsRequestedScale(t *testing.T) {
	img := gradientImage(t, 128, 64)
	d := NewDispatcher(nil)

	out, scale, _, err := d.RunTiled(1, &scalePipeline{scale: 2}, img, tiling.Config{Size: 64, Overlap: 8}, 2)
	if err != nil {
		t.Fatalf("RunTiled failed: %v", err)
	}
	if scale != 2 {
		t.Errorf("scale = %d, want the requested 2", scale)
	}
	if out.Width != 256 || out.Height != 128 {
		t.Errorf("output %dx%d, want 256x128", out.Width, out.Height)
	}
}

func TestRunTiledAbortsOnTileFailure(t *testing.T) {
	img := gradientImage(t, 130, 90)

	var events int
	d := NewDispatcher(func(Outbound) { events++ })

	_, _, _, err := d.RunTiled(1, &scalePipeline{scale: 2, failAt: 3}, img, tiling.Config{Size: 64, Overlap: 8}, 0)
	if !errors.Is(err, ErrTileInference) {
		t.Fatalf("RunTiled = %v, want ErrTileInference", err)
	}
	// Only the two completed tiles reported progress.
	if events != 2 {
		t.Errorf("emitted %d events, want 2", events)
	}
}

func TestRunWholeScaleOne(t *testing.T) {
	// A scale-1 model is legal: output dimensions match the input.
	img := gradientImage(t, 20, 10)
	d := NewDispatcher(nil)

	out, scale, err := d.RunWhole(1, &scalePipeline{scale: 1}, img, 0)
	if err != nil {
		t.Fatalf("RunWhole failed: %v", err)
	}
	if scale != 1 {
		t.Errorf("scale = %d, want 1", scale)
	}
	if out.Width != 20 || out.Height != 10 {
		t.Errorf("output %dx%d, want 20x10", out.Width, out.Height)
	}
}

func TestDeriveScale(t *testing.T) {
	tests := []struct {
		outW, inW int
		want      int
	}{
		{256, 64, 4},
		{64, 64, 1},
		{130, 64, 2},  // rounds to nearest
		{32, 64, 1},   // downscale floors at 1
		{100, 0, 1},   // degenerate input
	}
	for _, tt := range tests {
		if got := deriveScale(tt.outW, tt.inW); got != tt.want {
			t.Errorf("deriveScale(%d, %d) = %d, want %d", tt.outW, tt.inW, got, tt.want)
		}
	}
}
