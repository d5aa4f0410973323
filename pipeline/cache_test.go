package pipeline

import (
	"context"
	"errors"
	"testing"

	"upscaler/backend"
	"upscaler/raster"
)

// fakePipeline counts lifecycle calls.
type fakePipeline struct {
	id     int
	closed bool
}

func (p *fakePipeline) Run(in raster.Image) (raster.Image, error) { return in, nil }
func (p *fakePipeline) Close() error {
	p.closed = true
	return nil
}

// fakeBuilder records every Build call and hands out sequential pipelines.
type fakeBuilder struct {
	builds   []Key
	pipes    []*fakePipeline
	failNext error
}

func (b *fakeBuilder) Build(ctx context.Context, key Key, opts Options, onProgress ProgressFunc) (Pipeline, error) {
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return nil, err
	}
	b.builds = append(b.builds, key)
	if onProgress != nil {
		onProgress(50, "loading")
		onProgress(100, "pipeline ready")
	}
	p := &fakePipeline{id: len(b.pipes)}
	b.pipes = append(b.pipes, p)
	return p, nil
}

func testKey(model string) Key {
	return Key{ModelID: model, Precision: PrecisionFull, Backend: backend.CPU}
}

func TestCacheReuse(t *testing.T) {
	builder := &fakeBuilder{}
	cache := NewCache(builder)
	ctx := context.Background()

	var events int
	count := func(pct float64, status string) { events++ }

	first, err := cache.Ensure(ctx, testKey("m1"), Options{}, count)
	if err != nil {
		t.Fatalf("first Ensure failed: %v", err)
	}
	if events == 0 {
		t.Error("construction emitted no progress events")
	}

	// Identical key: same handle, no rebuild, and no progress at all.
	events = 0
	second, err := cache.Ensure(ctx, testKey("m1"), Options{}, count)
	if err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}
	if first != second {
		t.Error("cache hit returned a different pipeline")
	}
	if len(builder.builds) != 1 {
		t.Errorf("builder called %d times, want 1", len(builder.builds))
	}
	if events != 0 {
		t.Errorf("cache hit emitted %d progress events, want 0", events)
	}
}

func TestCacheKeyChangeDisposesOld(t *testing.T) {
	builder := &fakeBuilder{}
	cache := NewCache(builder)
	ctx := context.Background()

	if _, err := cache.Ensure(ctx, testKey("m1"), Options{}, nil); err != nil {
		t.Fatalf("Ensure m1 failed: %v", err)
	}
	if _, err := cache.Ensure(ctx, testKey("m2"), Options{}, nil); err != nil {
		t.Fatalf("Ensure m2 failed: %v", err)
	}

	if !builder.pipes[0].closed {
		t.Error("previous pipeline was not closed on key change")
	}
	if builder.pipes[1].closed {
		t.Error("live pipeline was closed")
	}
	if key, ok := cache.CachedKey(); !ok || key.ModelID != "m2" {
		t.Errorf("CachedKey() = %v, %v; want m2 live", key, ok)
	}
}

func TestCacheConstructionFailureLeavesEmpty(t *testing.T) {
	builder := &fakeBuilder{failNext: errors.New("weights server down")}
	cache := NewCache(builder)
	ctx := context.Background()

	if _, err := cache.Ensure(ctx, testKey("m1"), Options{}, nil); err == nil {
		t.Fatal("Ensure succeeded, want construction error")
	}
	if _, ok := cache.CachedKey(); ok {
		t.Error("failed construction left a cached pipeline")
	}

	// A retry builds from scratch and succeeds.
	if _, err := cache.Ensure(ctx, testKey("m1"), Options{}, nil); err != nil {
		t.Fatalf("retry Ensure failed: %v", err)
	}
}

func TestCacheFailedSwapDropsOldPipeline(t *testing.T) {
	builder := &fakeBuilder{}
	cache := NewCache(builder)
	ctx := context.Background()

	if _, err := cache.Ensure(ctx, testKey("m1"), Options{}, nil); err != nil {
		t.Fatalf("Ensure m1 failed: %v", err)
	}

	// The old handle is disposed before the replacement is attempted, so
	// a failed swap leaves the cache empty, not holding the stale handle.
	builder.failNext = errors.New("bad weights")
	if _, err := cache.Ensure(ctx, testKey("m2"), Options{}, nil); err == nil {
		t.Fatal("Ensure m2 succeeded, want error")
	}
	if !builder.pipes[0].closed {
		t.Error("old pipeline survived a failed swap")
	}
	if _, ok := cache.CachedKey(); ok {
		t.Error("failed swap left a cached key")
	}
}

func TestCacheInvalidKey(t *testing.T) {
	cache := NewCache(&fakeBuilder{})
	keys := []Key{
		{},
		{ModelID: "m", Precision: "fp64", Backend: backend.CPU},
		{ModelID: "m", Precision: PrecisionFull, Backend: "tpu"},
	}
	for _, key := range keys {
		if _, err := cache.Ensure(context.Background(), key, Options{}, nil); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Ensure(%v) = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestCacheDispose(t *testing.T) {
	builder := &fakeBuilder{}
	cache := NewCache(builder)

	if _, err := cache.Ensure(context.Background(), testKey("m1"), Options{}, nil); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if err := cache.Dispose(); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
	if !builder.pipes[0].closed {
		t.Error("Dispose did not close the live pipeline")
	}
	if _, err := cache.Ensure(context.Background(), testKey("m1"), Options{}, nil); !errors.Is(err, ErrCacheDisposed) {
		t.Errorf("Ensure after Dispose = %v, want ErrCacheDisposed", err)
	}
	// Idempotent.
	if err := cache.Dispose(); err != nil {
		t.Errorf("second Dispose = %v, want nil", err)
	}
}
