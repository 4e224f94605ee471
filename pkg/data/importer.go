package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/mchmarny/microscore/pkg/feature"
)

const (
	importBatchSize = 100
	phoneColumn     = "numero_telephone"
)

// ImportResult summarizes an operator data import.
type ImportResult struct {
	Rows     int `json:"rows" yaml:"rows"`
	Imported int `json:"imported" yaml:"imported"`
	Skipped  int `json:"skipped" yaml:"skipped"`
	Failed   int `json:"failed" yaml:"failed"`
	Batches  int `json:"batches" yaml:"batches"`
}

// counted features are stored as whole numbers
var roundedColumns = map[string]bool{
	"total_calls": true,
	"total_sms":   true,
}

var upsertOperatorSQL = buildUpsertOperatorSQL()

func buildUpsertOperatorSQL() string {
	cols := append([]string{phoneColumn}, feature.Names[:]...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	sets := make([]string, 0, feature.Count)
	for _, n := range feature.Names {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", n, n))
	}
	return fmt.Sprintf(`INSERT INTO donnees_operateurs (%s) VALUES (%s)
		ON CONFLICT (%s) DO UPDATE SET %s`,
		strings.Join(cols, ", "), marks, phoneColumn, strings.Join(sets, ", "))
}

// ImportOperators upserts operator rows from CSV. The header must name the
// phone column; feature columns that are absent or unparsable import as 0.
// Rows are written in batches, each in its own transaction. A failed batch
// is counted and the import continues.
func (s *Store) ImportOperators(ctx context.Context, r io.Reader) (*ImportResult, error) {
	if s == nil || s.db == nil {
		return nil, errDBNotInitialized
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv input")
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	phoneIdx, ok := idx[phoneColumn]
	if !ok {
		return nil, fmt.Errorf("csv header missing %s column", phoneColumn)
	}

	res := &ImportResult{}
	batch := make([][]any, 0, importBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		res.Batches++
		if err := s.upsertOperators(ctx, batch); err != nil {
			slog.Error("operator batch failed", "batch", res.Batches, "rows", len(batch), "error", err)
			res.Failed += len(batch)
		} else {
			res.Imported += len(batch)
		}
		batch = batch[:0]
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				slog.Debug("skipping malformed csv row", "line", pe.Line, "error", err)
				res.Rows++
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("failed to read csv: %w", err)
		}
		res.Rows++

		phone := ""
		if phoneIdx < len(rec) {
			phone = NormalizePhone(rec[phoneIdx])
		}
		if phone == "" {
			res.Skipped++
			continue
		}

		row := make([]any, 0, feature.Count+1)
		row = append(row, phone)
		for _, name := range feature.Names {
			row = append(row, csvNumber(rec, idx, name))
		}
		batch = append(batch, row)

		if len(batch) == importBatchSize {
			flush()
		}
	}
	flush()

	slog.Debug("operator import done",
		"rows", res.Rows,
		"imported", res.Imported,
		"skipped", res.Skipped,
		"failed", res.Failed)

	return res, nil
}

func csvNumber(rec []string, idx map[string]int, name string) float64 {
	i, ok := idx[name]
	if !ok || i >= len(rec) {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if roundedColumns[name] {
		v = math.Round(v)
	}
	return v
}

func (s *Store) upsertOperators(ctx context.Context, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(upsertOperatorSQL))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("failed to rollback transaction: %w", rbErr)
			}
			return fmt.Errorf("failed to upsert %v: %w", row[0], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
