// Package combine merges per-channel datacards into multi-channel cards.
package combine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tzq-analysis/cardgen/internal/executor"
	"github.com/tzq-analysis/cardgen/internal/log"
)

// ErrDuplicateLabel is returned when two cards of one combination share a
// channel label.
var ErrDuplicateLabel = errors.New("duplicate channel label")

// Spec maps a combined card name to its elementary cards, each with the
// channel label it gets in the combined card.
type Spec map[string]map[string]string

// LoadSpec reads a Spec from a YAML file:
//
//	combo_all.txt:
//	  datacard_ee.txt: ee
//	  datacard_mm.txt: mm
func LoadSpec(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read combination spec: %w", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse combination spec %s: %w", path, err)
	}
	return spec, nil
}

// CardsCombiner runs the card combination tool.
type CardsCombiner interface {
	CombineCards(ctx context.Context, dir, output string, cards []executor.LabeledCard) error
}

// Combiner writes the combined cards of a Spec.
type Combiner struct {
	tool CardsCombiner
}

// New returns a Combiner using tool.
func New(tool CardsCombiner) *Combiner {
	return &Combiner{tool: tool}
}

// Combine writes every combined card of spec into dir, in name order.
// Entries without cards, or naming a card that does not exist, are skipped
// with a warning. It returns the names of the cards written; on a tool
// failure it returns those written so far and the error.
func (c *Combiner) Combine(ctx context.Context, dir string, spec Spec) ([]string, error) {
	names := make([]string, 0, len(spec))
	for name := range spec {
		names = append(names, name)
	}
	sort.Strings(names)

	var written []string
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		cards, err := labeledCards(spec[name])
		if err != nil {
			return written, fmt.Errorf("combination %s: %w", name, err)
		}
		if len(cards) == 0 {
			log.Warn(log.CatCombine, "combination has no cards, skipping", "combined", name)
			continue
		}
		if missing := firstMissing(dir, cards); missing != "" {
			log.Warn(log.CatCombine, "elementary card missing, skipping combination", "combined", name, "card", missing)
			continue
		}

		if err := c.tool.CombineCards(ctx, dir, name, cards); err != nil {
			return written, fmt.Errorf("combination %s: %w", name, err)
		}
		log.Info(log.CatCombine, "wrote combined card", "combined", name, "cards", len(cards))
		written = append(written, name)
	}
	return written, nil
}

// labeledCards orders the cards by label so the tool invocation, and with
// it the combined card, is reproducible.
func labeledCards(byCard map[string]string) ([]executor.LabeledCard, error) {
	cards := make([]executor.LabeledCard, 0, len(byCard))
	for card, label := range byCard {
		if label == "" {
			return nil, fmt.Errorf("card %s has no channel label", card)
		}
		cards = append(cards, executor.LabeledCard{Label: label, Card: card})
	}
	slices.SortFunc(cards, func(a, b executor.LabeledCard) int {
		return cmp.Or(cmp.Compare(a.Label, b.Label), cmp.Compare(a.Card, b.Card))
	})
	for i := 1; i < len(cards); i++ {
		if cards[i].Label == cards[i-1].Label {
			return nil, fmt.Errorf("%w %q (%s, %s)", ErrDuplicateLabel, cards[i].Label, cards[i-1].Card, cards[i].Card)
		}
	}
	return cards, nil
}

func firstMissing(dir string, cards []executor.LabeledCard) string {
	for _, c := range cards {
		path := c.Card
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return c.Card
		}
	}
	return ""
}
