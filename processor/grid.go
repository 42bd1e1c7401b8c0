package processor

import (
	"errors"
	"math"
	"sort"
	"time"

	"optionflow/models"
)

// ErrEmptyDataset is returned when no valid rows remain after cleaning.
// Policy: the invocation aborts with a clear message; no placeholder image
// is written.
var ErrEmptyDataset = errors.New("empty dataset: no valid trade records after cleaning")

// Grid is the maturity-by-strike aggregation. Rows are the sorted-unique
// maturities observed in the cleaned set, columns the sorted-unique
// strikes. Cells hold summed values; a cell with no contributing trades is
// zero, which means "no flow", not "missing".
type Grid struct {
	Maturities []time.Time
	Strikes    []float64
	Cells      [][]float64 // Cells[maturityIdx][strikeIdx]
	Start      time.Time   // earliest contributing trade
	End        time.Time   // latest contributing trade
}

// Pivot groups cleaned rows by (maturity, strike) and sums their values.
func Pivot(rows []models.FlowRecord) (*Grid, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}

	maturitySet := make(map[int64]time.Time)
	strikeSet := make(map[float64]struct{})
	for _, row := range rows {
		maturitySet[row.Maturity.UnixNano()] = row.Maturity
		strikeSet[row.Strike] = struct{}{}
	}

	maturities := make([]time.Time, 0, len(maturitySet))
	for _, m := range maturitySet {
		maturities = append(maturities, m)
	}
	sort.Slice(maturities, func(i, j int) bool { return maturities[i].Before(maturities[j]) })

	strikes := make([]float64, 0, len(strikeSet))
	for s := range strikeSet {
		strikes = append(strikes, s)
	}
	sort.Float64s(strikes)

	maturityIdx := make(map[int64]int, len(maturities))
	for i, m := range maturities {
		maturityIdx[m.UnixNano()] = i
	}
	strikeIdx := make(map[float64]int, len(strikes))
	for i, s := range strikes {
		strikeIdx[s] = i
	}

	cells := make([][]float64, len(maturities))
	for i := range cells {
		cells[i] = make([]float64, len(strikes))
	}

	grid := &Grid{
		Maturities: maturities,
		Strikes:    strikes,
		Cells:      cells,
		Start:      rows[0].Timestamp,
		End:        rows[0].Timestamp,
	}

	for _, row := range rows {
		cells[maturityIdx[row.Maturity.UnixNano()]][strikeIdx[row.Strike]] += row.Value
		if row.Timestamp.Before(grid.Start) {
			grid.Start = row.Timestamp
		}
		if row.Timestamp.After(grid.End) {
			grid.End = row.Timestamp
		}
	}

	return grid, nil
}

// Cell returns the summed value at (maturity, strike) and whether that
// pair is on the grid axes.
func (g *Grid) Cell(maturity time.Time, strike float64) (float64, bool) {
	mi := -1
	for i, m := range g.Maturities {
		if m.Equal(maturity) {
			mi = i
			break
		}
	}
	if mi < 0 {
		return 0, false
	}
	for j, s := range g.Strikes {
		if s == strike {
			return g.Cells[mi][j], true
		}
	}
	return 0, false
}

// Total returns the sum over all cells.
func (g *Grid) Total() float64 {
	var total float64
	for _, row := range g.Cells {
		for _, v := range row {
			total += v
		}
	}
	return total
}

// MaxAbs returns the largest absolute cell value. Zero grids return 0.
func (g *Grid) MaxAbs() float64 {
	var maxAbs float64
	for _, row := range g.Cells {
		for _, v := range row {
			if a := math.Abs(v); a > maxAbs {
				maxAbs = a
			}
		}
	}
	return maxAbs
}

// Bounds returns the smallest and largest cell values.
func (g *Grid) Bounds() (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, row := range g.Cells {
		for _, v := range row {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	return min, max
}
