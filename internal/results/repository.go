package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tzq-analysis/cardgen/internal/fitresult"
)

// NotFoundError is returned when no result matches a lookup.
type NotFoundError struct {
	Card string
	POI  string
}

func (e *NotFoundError) Error() string {
	if e.POI == "" {
		return fmt.Sprintf("no fit results for card %s", e.Card)
	}
	return fmt.Sprintf("no fit result for card %s, poi %s", e.Card, e.POI)
}

// Record is one stored fit result.
type Record struct {
	ID        int64
	RunID     string
	Card      string
	Mode      fitresult.Mode
	POI       string
	Central   float64
	ErrLow    float64
	ErrHigh   float64
	LogPath   string
	CreatedAt time.Time
}

// Result converts the record back to a fit result.
func (r Record) Result() fitresult.Result {
	return fitresult.Result{Mode: r.Mode, POI: r.POI, Central: r.Central, ErrLow: r.ErrLow, ErrHigh: r.ErrHigh}
}

// NewRunID returns an identifier grouping the results of one invocation.
func NewRunID() string {
	return uuid.NewString()
}

// NewRecord builds a record for a parsed result.
func NewRecord(runID, card, logPath string, r fitresult.Result) Record {
	return Record{
		RunID:   runID,
		Card:    card,
		Mode:    r.Mode,
		POI:     r.POI,
		Central: r.Central,
		ErrLow:  r.ErrLow,
		ErrHigh: r.ErrHigh,
		LogPath: logPath,
	}
}

const recordColumns = `id, run_id, card, mode, poi, central, err_low, err_high, log_path, created_at`

func scanRecord(scanner interface{ Scan(...any) error }) (Record, error) {
	var (
		r       Record
		mode    string
		created int64
	)
	err := scanner.Scan(&r.ID, &r.RunID, &r.Card, &mode, &r.POI,
		&r.Central, &r.ErrLow, &r.ErrHigh, &r.LogPath, &created)
	r.Mode = fitresult.Mode(mode)
	r.CreatedAt = time.UnixMilli(created).UTC()
	return r, err
}

// Save stores records in one transaction and sets their ids. Records
// without a run id or creation time get fresh ones.
func (d *DB) Save(ctx context.Context, records ...*Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	runID := ""
	for _, r := range records {
		if r.RunID == "" {
			if runID == "" {
				runID = NewRunID()
			}
			r.RunID = runID
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO fit_results (run_id, card, mode, poi, central, err_low, err_high, log_path, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.Card, string(r.Mode), r.POI, r.Central, r.ErrLow, r.ErrHigh, r.LogPath, r.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert fit result for %s: %w", r.Card, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get last insert id: %w", err)
		}
		r.ID = id
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fit results: %w", err)
	}
	return nil
}

// ListByCard returns every result of card, newest first.
func (d *DB) ListByCard(ctx context.Context, card string) ([]Record, error) {
	return d.query(ctx,
		`SELECT `+recordColumns+` FROM fit_results WHERE card = ? ORDER BY created_at DESC, id DESC`, card)
}

// ListRun returns the results of one run in insertion order.
func (d *DB) ListRun(ctx context.Context, runID string) ([]Record, error) {
	return d.query(ctx,
		`SELECT `+recordColumns+` FROM fit_results WHERE run_id = ? ORDER BY id`, runID)
}

// Recent returns the newest results across all cards.
func (d *DB) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return d.query(ctx,
		`SELECT `+recordColumns+` FROM fit_results ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// Latest returns the newest result for card and poi.
func (d *DB) Latest(ctx context.Context, card, poi string) (Record, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM fit_results WHERE card = ? AND poi = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		card, poi)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, &NotFoundError{Card: card, POI: poi}
	}
	if err != nil {
		return Record{}, fmt.Errorf("find latest fit result: %w", err)
	}
	return r, nil
}

func (d *DB) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := d.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query fit results: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fit result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fit results: %w", err)
	}
	return out, nil
}
