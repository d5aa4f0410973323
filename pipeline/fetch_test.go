package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestFetchDownloadsAndVerifies(t *testing.T) {
	payload := []byte("not really onnx weights, but bytes all the same")
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	fetcher := NewHTTPWeightFetcher(dir)
	spec := WeightsSpec{URL: srv.URL, Filename: "model.onnx", SHA256: sha256Hex(payload)}

	var last float64
	var statuses []string
	path, err := fetcher.Fetch(context.Background(), spec, func(pct float64, status string) {
		if pct < last {
			t.Errorf("progress went backwards: %v after %v", pct, last)
		}
		last = pct
		statuses = append(statuses, status)
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if path != filepath.Join(dir, "model.onnx") {
		t.Errorf("path = %q", path)
	}
	if last != 100 {
		t.Errorf("final progress = %v, want 100", last)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(got) != string(payload) {
		t.Error("downloaded bytes differ from served payload")
	}

	// No .partial leftovers after a successful download.
	if _, err := os.Stat(path + ".partial"); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}

	// Second fetch hits the verified local copy without touching the server.
	if _, err := fetcher.Fetch(context.Background(), spec, nil); err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if hits != 1 {
		t.Errorf("server hit %d times, want 1", hits)
	}
}

func TestFetchChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("corrupted payload"))
	}))
	defer srv.Close()

	fetcher := NewHTTPWeightFetcher(t.TempDir())
	spec := WeightsSpec{URL: srv.URL, Filename: "model.onnx", SHA256: sha256Hex([]byte("the real payload"))}

	if _, err := fetcher.Fetch(context.Background(), spec, nil); !errors.Is(err, ErrChecksum) {
		t.Fatalf("Fetch = %v, want ErrChecksum", err)
	}

	// The corrupt file must not survive to satisfy a later fetch.
	if _, err := os.Stat(filepath.Join(fetcher.WeightsDir, "model.onnx")); !os.IsNotExist(err) {
		t.Error("corrupt weights file left on disk")
	}
}

func TestFetchRedownloadsCorruptCache(t *testing.T) {
	payload := []byte("genuine weights")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	// Seed a stale file that fails verification.
	if err := os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	fetcher := NewHTTPWeightFetcher(dir)
	spec := WeightsSpec{URL: srv.URL, Filename: "model.onnx", SHA256: sha256Hex(payload)}

	path, err := fetcher.Fetch(context.Background(), spec, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != string(payload) {
		t.Error("stale cache was not replaced")
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	fetcher := NewHTTPWeightFetcher(t.TempDir())
	spec := WeightsSpec{URL: srv.URL, Filename: "model.onnx"}

	if _, err := fetcher.Fetch(context.Background(), spec, nil); err == nil {
		t.Fatal("Fetch succeeded against a 500 response")
	}
}

func TestFetchRejectsIncompleteSpec(t *testing.T) {
	fetcher := NewHTTPWeightFetcher(t.TempDir())
	if _, err := fetcher.Fetch(context.Background(), WeightsSpec{URL: "http://x"}, nil); err == nil {
		t.Error("Fetch accepted a spec without a filename")
	}
	if _, err := fetcher.Fetch(context.Background(), WeightsSpec{Filename: "f"}, nil); err == nil {
		t.Error("Fetch accepted a spec without a url")
	}
}
