package datacard

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tzq-analysis/cardgen/internal/processes"
)

// Row is one systematic row of the table.
type Row struct {
	Name  string
	Type  string // "shape" or "lnN"
	Cells []processes.Impact
}

// Card is the parsed content of a single-channel datacard.
type Card struct {
	Channel     string
	Observation float64 // -1 when taken from data
	Shapes      []string
	Processes   []string
	IDs         []int
	Rates       []float64
	Rows        []Row
	Constraints []string
	AutoMCStats *float64
}

// ReadFile parses the card at path.
func ReadFile(path string) (*Card, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read card: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse reads a card. Blocks are recognised by their keywords, so cards
// written by hand with extra comment lines still parse.
func Parse(data []byte) (*Card, error) {
	c := &Card{Observation: -1}
	processRows := 0

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "---") {
			continue
		}
		f := strings.Fields(line)

		switch {
		case f[0] == "imax" || f[0] == "jmax" || f[0] == "kmax":
		case f[0] == "shapes":
			c.Shapes = append(c.Shapes, line)
		case f[0] == "bin" && len(f) == 2 && c.Processes == nil:
			c.Channel = f[1]
		case f[0] == "observation":
			if len(f) != 2 {
				return nil, fmt.Errorf("line %d: malformed observation", lineNo)
			}
			v, err := strconv.ParseFloat(f[1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: observation: %w", lineNo, err)
			}
			c.Observation = v
		case f[0] == "bin":
			for _, ch := range f[1:] {
				if c.Channel == "" {
					c.Channel = ch
				} else if ch != c.Channel {
					return nil, fmt.Errorf("line %d: multi-channel cards are not supported (bins %s and %s)", lineNo, c.Channel, ch)
				}
			}
		case f[0] == "process" && processRows == 0:
			processRows++
			c.Processes = f[1:]
		case f[0] == "process" && processRows == 1:
			processRows++
			for _, s := range f[1:] {
				id, err := strconv.Atoi(s)
				if err != nil {
					return nil, fmt.Errorf("line %d: process id %q: %w", lineNo, s, err)
				}
				c.IDs = append(c.IDs, id)
			}
		case f[0] == "rate":
			for _, s := range f[1:] {
				v, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: rate %q: %w", lineNo, s, err)
				}
				c.Rates = append(c.Rates, v)
			}
		case len(f) >= 2 && f[1] == "rateParam":
			c.Constraints = append(c.Constraints, line)
		case len(f) == 3 && f[1] == "autoMCStats":
			v, err := strconv.ParseFloat(f[2], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: autoMCStats threshold: %w", lineNo, err)
			}
			c.AutoMCStats = &v
		case len(f) >= 2 && (f[1] == "shape" || f[1] == "lnN"):
			row := Row{Name: f[0], Type: f[1]}
			for _, s := range f[2:] {
				impact, err := processes.ParseImpact(s)
				if err != nil {
					return nil, fmt.Errorf("line %d: systematic %s: %w", lineNo, f[0], err)
				}
				row.Cells = append(row.Cells, impact)
			}
			c.Rows = append(c.Rows, row)
		default:
			return nil, fmt.Errorf("line %d: unrecognised line %q", lineNo, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return c, c.check()
}

func (c *Card) check() error {
	n := len(c.Processes)
	if len(c.IDs) != n || len(c.Rates) != n {
		return fmt.Errorf("table has %d process names, %d ids and %d rates", n, len(c.IDs), len(c.Rates))
	}
	for _, r := range c.Rows {
		if len(r.Cells) != n {
			return fmt.Errorf("systematic %s has %d cells for %d processes", r.Name, len(r.Cells), n)
		}
	}
	return nil
}

// Cells returns the table as process -> systematic -> impact.
func (c *Card) Cells() map[string]map[string]processes.Impact {
	out := make(map[string]map[string]processes.Impact, len(c.Processes))
	for i, p := range c.Processes {
		row := make(map[string]processes.Impact, len(c.Rows))
		for _, r := range c.Rows {
			row[r.Name] = r.Cells[i]
		}
		out[p] = row
	}
	return out
}

// Row returns the named systematic row.
func (c *Card) Row(name string) (Row, bool) {
	for _, r := range c.Rows {
		if r.Name == name {
			return r, true
		}
	}
	return Row{}, false
}
