// Package histstore reads histogram names and integrals from histogram
// files. Filling, writing and plotting histograms is left to other tools.
package histstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned when no store handles a file's extension.
var ErrUnsupportedFormat = errors.New("unsupported histogram file format")

// Store enumerates histograms in a file and reports their integrals.
type Store interface {
	// ListHistogramNames returns every one-dimensional histogram name in
	// the file, in file order.
	ListHistogramNames(ctx context.Context, path string) ([]string, error)

	// Integral returns the integral of the named histogram. ok is false
	// when the file holds no histogram of that name.
	Integral(ctx context.Context, path, name string) (value float64, ok bool, err error)
}

// ByExtension dispatches to a store by file extension.
type ByExtension struct {
	stores map[string]Store
}

var _ Store = (*ByExtension)(nil)

// NewByExtension returns a dispatcher for .root, .yaml and .yml files.
func NewByExtension() *ByExtension {
	manifest := NewManifestStore()
	return &ByExtension{stores: map[string]Store{
		".root": NewROOTStore(),
		".yaml": manifest,
		".yml":  manifest,
	}}
}

// Register adds or replaces the store for an extension such as ".json".
func (b *ByExtension) Register(ext string, s Store) {
	b.stores[strings.ToLower(ext)] = s
}

func (b *ByExtension) storeFor(path string) (Store, error) {
	ext := strings.ToLower(filepath.Ext(path))
	s, ok := b.stores[ext]
	if !ok {
		return nil, fmt.Errorf("%s: %w (%q)", path, ErrUnsupportedFormat, ext)
	}
	return s, nil
}

// ListHistogramNames delegates to the store registered for the extension of path.
func (b *ByExtension) ListHistogramNames(ctx context.Context, path string) ([]string, error) {
	s, err := b.storeFor(path)
	if err != nil {
		return nil, err
	}
	return s.ListHistogramNames(ctx, path)
}

// Integral delegates to the store registered for the extension of path.
func (b *ByExtension) Integral(ctx context.Context, path, name string) (float64, bool, error) {
	s, err := b.storeFor(path)
	if err != nil {
		return 0, false, err
	}
	return s.Integral(ctx, path, name)
}
