package results

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tzq-analysis/cardgen/internal/fitresult"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestOpen_CreatesDirectory verifies that Open creates missing parent directories.
func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".cardgen", "results.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	require.True(t, info.IsDir())
	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	}
}

// TestOpen_RunsMigrations verifies that the fit_results table exists after Open.
func TestOpen_RunsMigrations(t *testing.T) {
	db := openTestDB(t)
	var name string
	err := db.conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='fit_results'`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "fit_results", name)
}

// TestOpen_Reopen verifies that reopening keeps data and writes a backup.
func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")

	db, err := Open(path)
	require.NoError(t, err)
	rec := NewRecord("", "combo_all.txt", "", fitresult.Result{Mode: fitresult.ModeSignificance, POI: "r", Central: 5.1})
	require.NoError(t, db.Save(ctx, &rec))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.ListByCard(ctx, "combo_all.txt")
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = os.Stat(path + ".bak")
	require.NoError(t, err, "reopening an existing database writes a backup")
}

func TestSave_AssignsIDsAndRunID(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	a := NewRecord("", "combo_all.txt", "combo_all_multipoi.log", fitresult.Result{Mode: fitresult.ModeMultiPOI, POI: "r_tZq", Central: 1.05, ErrLow: 0.21, ErrHigh: 0.23})
	b := NewRecord("", "combo_all.txt", "combo_all_multipoi.log", fitresult.Result{Mode: fitresult.ModeMultiPOI, POI: "r_ttZ", Central: 0.97, ErrLow: 0.15, ErrHigh: 0.16})
	require.NoError(t, db.Save(ctx, &a, &b))

	require.NotZero(t, a.ID)
	require.Greater(t, b.ID, a.ID)
	require.NotEmpty(t, a.RunID)
	require.Equal(t, a.RunID, b.RunID)

	run, err := db.ListRun(ctx, a.RunID)
	require.NoError(t, err)
	require.Len(t, run, 2)
	require.Equal(t, b.Result(), run[1].Result())
	require.Equal(t, "combo_all_multipoi.log", run[0].LogPath)
}

func TestLatest(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := NewRecord("run-1", "combo_all.txt", "", fitresult.Result{Mode: fitresult.ModeSignalStrength, POI: "r", Central: 0.9})
	old.CreatedAt = base
	newer := NewRecord("run-2", "combo_all.txt", "", fitresult.Result{Mode: fitresult.ModeSignalStrength, POI: "r", Central: 1.1})
	newer.CreatedAt = base.Add(time.Hour)
	require.NoError(t, db.Save(ctx, &newer, &old))

	got, err := db.Latest(ctx, "combo_all.txt", "r")
	require.NoError(t, err)
	require.Equal(t, "run-2", got.RunID)
	require.Equal(t, 1.1, got.Central)
	require.Equal(t, base.Add(time.Hour), got.CreatedAt)

	_, err = db.Latest(ctx, "combo_all.txt", "r_tZq")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	require.Equal(t, "r_tZq", nf.POI)
}

func TestRecent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	for i := range 5 {
		r := NewRecord("", "card.txt", "", fitresult.Result{Mode: fitresult.ModeSignificance, POI: "r", Central: float64(i)})
		require.NoError(t, db.Save(ctx, &r))
	}

	got, err := db.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, 4.0, got[0].Central)
}

func TestSave_Empty(t *testing.T) {
	require.NoError(t, openTestDB(t).Save(context.Background()))
}
