package backend

import (
	"errors"
	"runtime"
	"testing"
)

func fixedGPUs(n int) func() (int, error) {
	return func() (int, error) { return n, nil }
}

func TestProbeGPU(t *testing.T) {
	p := NewProber(WithGPUCounter(fixedGPUs(2)))

	d, err := p.Probe(GPU)
	if err != nil {
		t.Fatalf("Probe(GPU) failed: %v", err)
	}
	if d.Backend != GPU {
		t.Errorf("Backend = %q, want %q", d.Backend, GPU)
	}
	if d.Threads != 1 {
		t.Errorf("Threads = %d, want 1", d.Threads)
	}
	if d.GPUCount != 2 {
		t.Errorf("GPUCount = %d, want 2", d.GPUCount)
	}
}

func TestProbeGPUUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		counter func() (int, error)
	}{
		{"no devices", fixedGPUs(0)},
		{"nvml failure", func() (int, error) { return 0, errors.New("driver not loaded") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProber(WithGPUCounter(tt.counter))
			if _, err := p.Probe(GPU); !errors.Is(err, ErrGPUUnavailable) {
				t.Errorf("Probe(GPU) = %v, want ErrGPUUnavailable", err)
			}
		})
	}
}

func TestProbeCPUThreads(t *testing.T) {
	shared := NewProber(WithSharedMemory(true), WithGPUCounter(fixedGPUs(0)))
	d, err := shared.Probe(CPU)
	if err != nil {
		t.Fatalf("Probe(CPU) failed: %v", err)
	}
	if d.Threads != runtime.NumCPU() {
		t.Errorf("Threads = %d, want %d", d.Threads, runtime.NumCPU())
	}

	isolated := NewProber(WithSharedMemory(false), WithGPUCounter(fixedGPUs(0)))
	d, err = isolated.Probe(CPU)
	if err != nil {
		t.Fatalf("Probe(CPU) failed: %v", err)
	}
	if d.Threads != 1 {
		t.Errorf("Threads without shared memory = %d, want 1", d.Threads)
	}
}

func TestProbeCPUReportsGPUPresence(t *testing.T) {
	// A CPU run on a GPU machine still reports the device count, so
	// diagnostics can say a GPU was available even when unused.
	p := NewProber(WithGPUCounter(fixedGPUs(1)))
	d, err := p.Probe(CPU)
	if err != nil {
		t.Fatalf("Probe(CPU) failed: %v", err)
	}
	if d.Backend != CPU || d.GPUCount != 1 {
		t.Errorf("got backend=%q gpus=%d, want cpu with 1 gpu visible", d.Backend, d.GPUCount)
	}
}

func TestProbeUnknownBackend(t *testing.T) {
	p := NewProber(WithGPUCounter(fixedGPUs(0)))
	if _, err := p.Probe(Kind("npu")); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Probe(npu) = %v, want ErrUnknownBackend", err)
	}
}
