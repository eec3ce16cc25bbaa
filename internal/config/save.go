package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tzq-analysis/cardgen/internal/combine"
)

// CombineSpec converts the configured combinations to a combine.Spec.
func (c Config) CombineSpec() combine.Spec {
	spec := make(combine.Spec, len(c.Combinations))
	for _, combo := range c.Combinations {
		cards := make(map[string]string, len(combo.Cards))
		for _, cl := range combo.Cards {
			cards[cl.Card] = cl.Label
		}
		spec[combo.Name] = cards
	}
	return spec
}

// SaveFlags updates the flags section of the config file. Comments and
// formatting of the other sections are preserved.
func SaveFlags(configPath string, flags map[string]bool) error {
	return saveSection(configPath, "flags", flags)
}

// SaveCombinations replaces the combinations section of the config file.
func SaveCombinations(configPath string, combos []CombinationConfig) error {
	type cardLabel struct {
		Card  string `yaml:"card"`
		Label string `yaml:"label"`
	}
	type combination struct {
		Name  string      `yaml:"name"`
		Cards []cardLabel `yaml:"cards"`
	}
	out := make([]combination, 0, len(combos))
	for _, c := range combos {
		entry := combination{Name: c.Name, Cards: make([]cardLabel, 0, len(c.Cards))}
		for _, cl := range c.Cards {
			entry.Cards = append(entry.Cards, cardLabel(cl))
		}
		out = append(out, entry)
	}
	return saveSection(configPath, "combinations", out)
}

// saveSection sets the top-level key of the YAML document at configPath to
// value, creating the file when needed, and writes it back atomically.
func saveSection(configPath, key string, value any) error {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	var valueNode yaml.Node
	if err := valueNode.Encode(value); err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	switch {
	case doc.Kind == 0:
		doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{{
				Kind:    yaml.MappingNode,
				Content: []*yaml.Node{{Kind: yaml.ScalarNode, Value: key}, &valueNode},
			}},
		}
	case doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 && doc.Content[0].Kind == yaml.MappingNode:
		root := doc.Content[0]
		found := false
		for i := 0; i < len(root.Content)-1; i += 2 {
			if root.Content[i].Value == key {
				// Keep the comments attached to the old value.
				valueNode.HeadComment = root.Content[i+1].HeadComment
				valueNode.LineComment = root.Content[i+1].LineComment
				root.Content[i+1] = &valueNode
				found = true
				break
			}
		}
		if !found {
			root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, &valueNode)
		}
	default:
		return fmt.Errorf("parsing config: top level of %s is not a mapping", configPath)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = enc.Close()

	return writeAtomic(configPath, buf.Bytes())
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	temp, err := os.CreateTemp(dir, ".cardgen.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
