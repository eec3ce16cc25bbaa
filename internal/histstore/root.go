package histstore

import (
	"context"
	"fmt"
	"strings"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rhist"

	"github.com/tzq-analysis/cardgen/internal/log"
)

// ROOTStore reads TH1 histograms stored at the top level of ROOT files.
type ROOTStore struct{}

var _ Store = ROOTStore{}

// NewROOTStore returns a store over ROOT files.
func NewROOTStore() ROOTStore { return ROOTStore{} }

// ListHistogramNames returns the TH1 keys of the file at path in key order.
func (ROOTStore) ListHistogramNames(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := groot.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var names []string
	seen := make(map[string]bool)
	for _, key := range f.Keys() {
		// ROOT keeps one key per cycle; only the name matters here.
		if !strings.HasPrefix(key.ClassName(), "TH1") || seen[key.Name()] {
			continue
		}
		seen[key.Name()] = true
		names = append(names, key.Name())
	}
	log.Debug(log.CatStore, "listed ROOT histograms", "file", path, "count", len(names))
	return names, nil
}

// Integral returns the sum of weights of histogram name. ok is false when
// the file has no such key.
func (ROOTStore) Integral(ctx context.Context, path, name string) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	f, err := groot.Open(path)
	if err != nil {
		return 0, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	found := false
	for _, key := range f.Keys() {
		if key.Name() == name {
			found = true
			break
		}
	}
	if !found {
		return 0, false, nil
	}

	obj, err := f.Get(name)
	if err != nil {
		return 0, false, fmt.Errorf("read %s:%s: %w", path, name, err)
	}
	h, ok := obj.(rhist.H1)
	if !ok {
		return 0, false, fmt.Errorf("%s:%s is a %s, not a 1D histogram", path, name, obj.Class())
	}
	return h.SumW(), true, nil
}
