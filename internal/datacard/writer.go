// Package datacard renders a process registry into the plain-text datacard
// format read by the fit engine, and reads the systematics table back.
package datacard

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tzq-analysis/cardgen/internal/log"
	"github.com/tzq-analysis/cardgen/internal/paths"
	"github.com/tzq-analysis/cardgen/internal/processes"
)

// Separator divides the blocks of a card.
const Separator = "--------------------"

const columnPadding = 2

// Render returns the card text for reg. It does not check that the
// histogram file exists; Write does.
func Render(reg *processes.Registry, opts Options) ([]byte, error) {
	if err := opts.Validate(reg); err != nil {
		return nil, err
	}

	blocks := [][]string{
		headerBlock(reg),
		shapesBlock(reg, opts),
		observationBlock(opts),
		tableBlock(reg, opts),
	}
	if extra := constraintBlock(opts); len(extra) > 0 {
		blocks = append(blocks, extra)
	}
	blocks = append(blocks, []string{
		opts.Channel + " autoMCStats " + processes.FormatNumber(opts.AutoMCStatsThreshold),
	})

	var buf bytes.Buffer
	for i, block := range blocks {
		if i > 0 {
			buf.WriteString(Separator)
			buf.WriteByte('\n')
		}
		for _, line := range block {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// Write renders reg and replaces dir/datacard_<channel>.txt with the
// result. It returns the path written.
func Write(dir string, reg *processes.Registry, opts Options) (string, error) {
	histPath := opts.HistogramFile
	if !filepath.IsAbs(histPath) {
		histPath = filepath.Join(dir, histPath)
	}
	if _, err := os.Stat(histPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &MissingHistogramFileError{Path: histPath}
		}
		return "", fmt.Errorf("stat histogram file: %w", err)
	}

	data, err := Render(reg, opts)
	if err != nil {
		return "", fmt.Errorf("render card for channel %s: %w", opts.Channel, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create card directory: %w", err)
	}
	path := paths.CardFile(dir, opts.Channel)
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("write card: %w", err)
	}

	log.Info(log.CatCard, "wrote datacard", "channel", opts.Channel, "path", path,
		"processes", reg.Len(), "shape", len(opts.Shape), "lnN", len(opts.LnN))
	return path, nil
}

// writeAtomic writes data to a temp file next to path and renames it into
// place, so readers never see a partial card.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func headerBlock(reg *processes.Registry) []string {
	return []string{
		"imax 1",
		"jmax " + strconv.Itoa(reg.Len()-1),
		"kmax *",
	}
}

func shapesBlock(reg *processes.Registry, opts Options) []string {
	lines := make([]string, 0, reg.Len()+1)
	for _, name := range reg.Processes() {
		e, _ := reg.Process(name)
		prefix := "$PROCESS"
		if e.Alias() != e.Name {
			prefix = e.Alias()
		}
		lines = append(lines, strings.Join([]string{
			"shapes", e.Name, opts.Channel, opts.HistogramFile,
			prefix + "_" + opts.Variable + "_nominal",
			prefix + "_" + opts.Variable + "_$SYSTEMATIC",
		}, " "))
	}
	lines = append(lines, strings.Join([]string{
		"shapes", dataObs, opts.Channel, opts.HistogramFile,
		opts.dataTag() + "_" + opts.Variable + "_nominal",
	}, " "))
	return lines
}

func observationBlock(opts Options) []string {
	obs := "-1"
	if opts.Observation != nil {
		obs = processes.FormatNumber(*opts.Observation)
	}
	return []string{
		"bin " + opts.Channel,
		"observation " + obs,
	}
}

// tableBlock builds the systematics table column by column and pads every
// column to its widest cell plus two spaces.
func tableBlock(reg *processes.Registry, opts Options) []string {
	nrows := 4 + len(opts.Shape) + len(opts.LnN)

	labels := []string{"bin", "process", "process", "rate"}
	types := []string{"", "", "", ""}
	for _, s := range opts.Shape {
		labels = append(labels, s)
		types = append(types, "shape")
	}
	for _, s := range opts.LnN {
		labels = append(labels, s)
		types = append(types, "lnN")
	}

	columns := [][]string{labels, types}
	for _, name := range reg.Processes() {
		e, _ := reg.Process(name)
		col := make([]string, 0, nrows)
		col = append(col, opts.Channel, e.Name, strconv.Itoa(e.ID), processes.FormatNumber(e.Yield))
		for _, s := range opts.Shape {
			col = append(col, e.Systematics[s].String())
		}
		for _, s := range opts.LnN {
			col = append(col, e.Systematics[s].String())
		}
		columns = append(columns, col)
	}

	for _, col := range columns {
		pad(col)
	}

	rows := make([]string, nrows)
	var sb strings.Builder
	for i := range rows {
		sb.Reset()
		for _, col := range columns {
			sb.WriteString(col[i])
		}
		rows[i] = sb.String()
	}
	return rows
}

func pad(col []string) {
	width := 0
	for _, cell := range col {
		width = max(width, len(cell))
	}
	width += columnPadding
	for i, cell := range col {
		col[i] = cell + strings.Repeat(" ", width-len(cell))
	}
}

func constraintBlock(opts Options) []string {
	var lines []string
	for _, p := range opts.RateParams {
		lines = append(lines, rateParamName(p)+" rateParam * "+p+" 1.0 [0.0,3.0]")
	}
	if r := opts.Ratio; r != nil {
		if r.Denominator == "" {
			lines = append(lines, r.Name+" rateParam * "+r.Numerator+" 1.0")
		} else {
			lines = append(lines,
				r.Name+" rateParam * "+r.Numerator+" 1.0 [0.0,3.0]",
				r.Name+" rateParam * "+r.Denominator+" 1.0 [0.0,3.0]",
			)
		}
	}
	return lines
}
