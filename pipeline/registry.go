package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WeightsSpec describes one downloadable weights file.
type WeightsSpec struct {
	// URL is the download location for the weights file.
	URL string `yaml:"url"`

	// Filename is the local filename inside the weights directory.
	Filename string `yaml:"filename"`

	// SHA256 is the expected checksum, lowercase hex. Empty skips
	// verification.
	SHA256 string `yaml:"sha256"`
}

// ModelSpec describes one registered upscaling model.
type ModelSpec struct {
	// Name is the model identifier used in run requests.
	Name string `yaml:"name"`

	// Scale is the model's native upscale factor, used as a sanity hint;
	// the dispatcher still derives the effective scale from real output.
	Scale int `yaml:"scale"`

	// Weights maps precision to the weights file for that variant.
	Weights map[Precision]WeightsSpec `yaml:"weights"`
}

// Registry maps model ids to their weight variants. Loaded once at startup
// from a YAML file; read-only afterwards.
type Registry struct {
	models map[string]ModelSpec
}

// registryFile is the YAML document shape.
type registryFile struct {
	Models []ModelSpec `yaml:"models"`
}

// LoadRegistry reads a model registry from a YAML file.
//
// Example document:
//
//	models:
//	  - name: realesrgan-x4
//	    scale: 4
//	    weights:
//	      full: {url: "https://...", filename: "realesrgan-x4.onnx", sha256: "..."}
//	      q8:   {url: "https://...", filename: "realesrgan-x4-q8.onnx"}
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read registry %q: %w", path, err)
	}
	return ParseRegistry(data)
}

// ParseRegistry parses registry YAML bytes.
func ParseRegistry(data []byte) (*Registry, error) {
	var doc registryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("pipeline: parse registry: %w", err)
	}

	reg := &Registry{models: make(map[string]ModelSpec, len(doc.Models))}
	for _, m := range doc.Models {
		if m.Name == "" {
			return nil, fmt.Errorf("pipeline: registry entry with empty name")
		}
		if len(m.Weights) == 0 {
			return nil, fmt.Errorf("pipeline: model %q has no weights", m.Name)
		}
		for prec, w := range m.Weights {
			if !prec.Valid() {
				return nil, fmt.Errorf("pipeline: model %q: unknown precision %q", m.Name, prec)
			}
			if w.URL == "" || w.Filename == "" {
				return nil, fmt.Errorf("pipeline: model %q precision %q: url and filename are required", m.Name, prec)
			}
		}
		reg.models[m.Name] = m
	}
	return reg, nil
}

// NewRegistry builds a registry from already-parsed specs. Used by tests.
func NewRegistry(models ...ModelSpec) *Registry {
	reg := &Registry{models: make(map[string]ModelSpec, len(models))}
	for _, m := range models {
		reg.models[m.Name] = m
	}
	return reg
}

// Lookup resolves the weights spec for a (model, precision) pair.
func (r *Registry) Lookup(modelID string, precision Precision) (ModelSpec, WeightsSpec, error) {
	model, ok := r.models[modelID]
	if !ok {
		return ModelSpec{}, WeightsSpec{}, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}
	weights, ok := model.Weights[precision]
	if !ok {
		return ModelSpec{}, WeightsSpec{}, fmt.Errorf("%w: model %q, precision %q", ErrNoWeights, modelID, precision)
	}
	return model, weights, nil
}

// ModelNames returns all registered model ids.
func (r *Registry) ModelNames() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}
