package histstore

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is a YAML description of a histogram file: histogram names in
// file order, each with its integral.
//
//	histograms:
//	  - name: tZq_mva_nominal
//	    integral: 30.2
type Manifest struct {
	Histograms []ManifestEntry `yaml:"histograms"`
}

// ManifestEntry is one histogram in a manifest.
type ManifestEntry struct {
	Name     string  `yaml:"name"`
	Integral float64 `yaml:"integral"`
}

// ManifestStore reads manifests from disk.
type ManifestStore struct{}

var _ Store = ManifestStore{}

// NewManifestStore returns a store over YAML manifests.
func NewManifestStore() ManifestStore { return ManifestStore{} }

// LoadManifest parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	seen := make(map[string]bool, len(m.Histograms))
	for _, h := range m.Histograms {
		if h.Name == "" {
			return nil, fmt.Errorf("manifest %s: histogram without a name", path)
		}
		if seen[h.Name] {
			return nil, fmt.Errorf("manifest %s: histogram %q listed twice", path, h.Name)
		}
		seen[h.Name] = true
	}
	return &m, nil
}

// WriteManifest writes m to path, replacing any existing file.
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Merge concatenates manifests the way hadd adds histograms: integrals of
// histograms with the same name are summed, first-appearance order is kept.
func Merge(manifests ...*Manifest) *Manifest {
	out := &Manifest{}
	index := make(map[string]int)
	for _, m := range manifests {
		for _, h := range m.Histograms {
			if i, ok := index[h.Name]; ok {
				out.Histograms[i].Integral += h.Integral
				continue
			}
			index[h.Name] = len(out.Histograms)
			out.Histograms = append(out.Histograms, h)
		}
	}
	return out
}

// ListHistogramNames returns the histogram names of the manifest at path.
func (ManifestStore) ListHistogramNames(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(m.Histograms))
	for i, h := range m.Histograms {
		names[i] = h.Name
	}
	return names, nil
}

// Integral returns the integral of histogram name. ok is false when the
// manifest does not list it.
func (ManifestStore) Integral(ctx context.Context, path, name string) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m, err := LoadManifest(path)
	if err != nil {
		return 0, false, err
	}
	for _, h := range m.Histograms {
		if h.Name == name {
			return h.Integral, true, nil
		}
	}
	return 0, false, nil
}
