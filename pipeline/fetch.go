package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WeightFetcher obtains model weight files. It is the external collaborator
// the cache uses during pipeline construction; construction never touches
// the network directly.
type WeightFetcher interface {
	// Fetch makes the weights described by spec available on disk and
	// returns the local path. Progress is reported through onProgress as
	// a percentage in [0,100] plus status text.
	Fetch(ctx context.Context, spec WeightsSpec, onProgress ProgressFunc) (string, error)
}

// HTTPWeightFetcher downloads weight files over HTTP into a local weights
// directory, verifying checksums and reusing verified files across runs.
type HTTPWeightFetcher struct {
	// WeightsDir is where downloaded files are stored.
	WeightsDir string

	// Client is the HTTP client used for downloads. No timeout is set on
	// the default client; cancellation is the context's job.
	Client *http.Client
}

// NewHTTPWeightFetcher creates a fetcher storing files under weightsDir.
func NewHTTPWeightFetcher(weightsDir string) *HTTPWeightFetcher {
	return &HTTPWeightFetcher{
		WeightsDir: weightsDir,
		Client:     &http.Client{Timeout: 0},
	}
}

// Fetch returns the local path of the weights file, downloading it first if
// no verified copy exists.
//
// Progress mapping: an existing verified file reports 100 immediately;
// downloads report byte progress scaled to [0,95], then 95 at verification
// and 100 once the file is in place. The tail is reserved so engine
// construction never reports a full bar before the pipeline is usable.
func (f *HTTPWeightFetcher) Fetch(ctx context.Context, spec WeightsSpec, onProgress ProgressFunc) (string, error) {
	if spec.URL == "" || spec.Filename == "" {
		return "", fmt.Errorf("pipeline: weights spec requires url and filename")
	}
	report := func(pct float64, status string) {
		if onProgress != nil {
			onProgress(pct, status)
		}
	}

	destPath := filepath.Join(f.WeightsDir, spec.Filename)
	if ok, err := f.haveVerified(destPath, spec.SHA256); err != nil {
		return "", err
	} else if ok {
		report(100, "weights cached on disk")
		return destPath, nil
	}

	if err := os.MkdirAll(f.WeightsDir, 0o755); err != nil {
		return "", fmt.Errorf("pipeline: create weights dir: %w", err)
	}

	report(0, fmt.Sprintf("downloading %s", spec.Filename))
	if err := f.download(ctx, spec, destPath, report); err != nil {
		return "", err
	}

	report(95, "verifying weights")
	if spec.SHA256 != "" {
		sum, err := fileSHA256(destPath)
		if err != nil {
			return "", fmt.Errorf("pipeline: checksum weights: %w", err)
		}
		if !strings.EqualFold(sum, spec.SHA256) {
			os.Remove(destPath)
			return "", fmt.Errorf("%w: have %s, want %s", ErrChecksum, sum, spec.SHA256)
		}
	}

	report(100, "weights ready")
	return destPath, nil
}

// haveVerified reports whether a usable copy already exists at path.
// With a checksum, the copy must match; without one, any non-empty file
// counts.
func (f *HTTPWeightFetcher) haveVerified(path, expectedSHA256 string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pipeline: stat weights: %w", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return false, nil
	}
	if expectedSHA256 == "" {
		return true, nil
	}
	sum, err := fileSHA256(path)
	if err != nil {
		return false, fmt.Errorf("pipeline: checksum weights: %w", err)
	}
	return strings.EqualFold(sum, expectedSHA256), nil
}

// download streams the URL into destPath via a temp file, reporting byte
// progress scaled to [0,95].
func (f *HTTPWeightFetcher) download(ctx context.Context, spec WeightsSpec, destPath string, report ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return fmt.Errorf("pipeline: build weights request: %w", err)
	}

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("pipeline: fetch weights: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pipeline: fetch weights: unexpected status %s", resp.Status)
	}

	tmpPath := destPath + ".partial"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("pipeline: create weights file: %w", err)
	}

	counter := &progressWriter{
		total:    resp.ContentLength,
		report:   report,
		filename: spec.Filename,
	}
	_, copyErr := io.Copy(out, io.TeeReader(resp.Body, counter))
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("pipeline: download weights: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("pipeline: close weights file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("pipeline: move weights into place: %w", err)
	}
	return nil
}

// progressWriter maps downloaded bytes to throttled progress callbacks.
type progressWriter struct {
	total      int64
	downloaded int64
	report     ProgressFunc
	filename   string
	lastReport time.Time
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.downloaded += int64(len(p))
	if w.report == nil || w.total <= 0 {
		return len(p), nil
	}
	// Throttle to ~10 reports/sec; always report completion.
	now := time.Now()
	if w.downloaded < w.total && now.Sub(w.lastReport) < 100*time.Millisecond {
		return len(p), nil
	}
	w.lastReport = now

	pct := float64(w.downloaded) / float64(w.total) * 95
	if pct > 95 {
		pct = 95
	}
	w.report(pct, fmt.Sprintf("downloading %s", w.filename))
	return len(p), nil
}

// fileSHA256 computes the lowercase hex SHA-256 of a file.
func fileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
