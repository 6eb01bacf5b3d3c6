package cohort

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/stat"

	"github.com/mlcds/mlcds/internal/platform/xgb"
)

// minReferenceRows is the smallest cohort for which quartile estimation
// is meaningful.
const minReferenceRows = 4

// FromSpreadsheet scores every row of the reference workbook through the
// model and returns the 25th/50th/75th percentile cut points of the
// resulting score distribution. The first row of the first sheet must
// name the model's features; empty cells are treated as missing values.
func FromSpreadsheet(path string, model *xgb.Model) (Thresholds, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("open reference spreadsheet: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return Thresholds{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) < 1+minReferenceRows {
		return Thresholds{}, fmt.Errorf("reference sheet has %d data rows, need at least %d",
			len(rows)-1, minReferenceRows)
	}

	columns, err := mapColumns(rows[0], model.FeatureNames)
	if err != nil {
		return Thresholds{}, err
	}

	scores := make([]float64, 0, len(rows)-1)
	for r, row := range rows[1:] {
		x := make([]float64, len(columns))
		for i, col := range columns {
			cell := ""
			if col < len(row) {
				cell = strings.TrimSpace(row[col])
			}
			if cell == "" {
				x[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return Thresholds{}, fmt.Errorf("row %d column %q: %w",
					r+2, model.FeatureNames[i], err)
			}
			x[i] = v
		}
		score, err := model.Predict(x)
		if err != nil {
			return Thresholds{}, fmt.Errorf("score reference row %d: %w", r+2, err)
		}
		scores = append(scores, score)
	}

	t := quantiles(scores)
	if err := t.Validate(); err != nil {
		return Thresholds{}, fmt.Errorf("reference cohort scores too degenerate: %w", err)
	}
	return t, nil
}

// mapColumns resolves each feature name to its header column index.
func mapColumns(header, featureNames []string) ([]int, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.TrimSpace(h)] = i
	}
	columns := make([]int, len(featureNames))
	for i, name := range featureNames {
		col, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("reference sheet is missing column %q", name)
		}
		columns[i] = col
	}
	return columns, nil
}

func quantiles(scores []float64) Thresholds {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	return Thresholds{
		Q25:    stat.Quantile(0.25, stat.LinInterp, sorted, nil),
		Median: stat.Quantile(0.5, stat.LinInterp, sorted, nil),
		Q75:    stat.Quantile(0.75, stat.LinInterp, sorted, nil),
	}
}
