package renderer

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"optionflow/config"
	"optionflow/models"
	"optionflow/processor"
)

// Options controls how a grid is drawn.
type Options struct {
	Asset      string
	Mode       string
	WidthPx    int
	HeightPx   int
	Annotate   bool
	IndexPrice float64 // 0 disables the spot strike marker
}

// heatGrid adapts processor.Grid to plotter.GridXYZ. Columns are strike
// indices, rows maturity indices; the real labels go on the tick markers.
type heatGrid struct {
	g *processor.Grid
}

func (h heatGrid) Dims() (c, r int)   { return len(h.g.Strikes), len(h.g.Maturities) }
func (h heatGrid) Z(c, r int) float64 { return h.g.Cells[r][c] }
func (h heatGrid) X(c int) float64    { return float64(c) }
func (h heatGrid) Y(r int) float64    { return float64(r) }

// Render draws the aggregation grid into an in-memory image. It is a pure
// function of the grid and options; writing the artifact is WritePNG's job.
func Render(grid *processor.Grid, opts Options) (image.Image, error) {
	if grid == nil || len(grid.Maturities) == 0 || len(grid.Strikes) == 0 {
		return nil, fmt.Errorf("render: grid has no axes")
	}

	min, max := colorLimits(grid, opts.Mode)
	colorMap := moreland.SmoothBlueRed()
	colorMap.SetMin(min)
	colorMap.SetMax(max)

	hm := plotter.NewHeatMap(heatGrid{g: grid}, colorMap.Palette(255))
	hm.Min = min
	hm.Max = max
	if c, err := colorMap.At(min); err == nil {
		hm.Underflow = c
	}
	if c, err := colorMap.At(max); err == nil {
		hm.Overflow = c
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s Deribit Option Block Trade Flows: %s - %s UTC",
		opts.Asset,
		grid.Start.UTC().Format("2006-01-02 15:04"),
		grid.End.UTC().Format("2006-01-02 15:04"))
	p.X.Label.Text = "Strike"
	p.Y.Label.Text = "Maturity"
	p.Add(hm)

	p.X.Tick.Marker = plot.ConstantTicks(strikeTicks(grid.Strikes))
	p.X.Tick.Label.Rotation = math.Pi / 2
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter
	p.Y.Tick.Marker = plot.ConstantTicks(maturityTicks(grid.Maturities))

	if opts.Annotate {
		labels, err := cellLabels(grid)
		if err != nil {
			return nil, fmt.Errorf("render: cell labels: %w", err)
		}
		p.Add(labels)
	}

	if opts.IndexPrice > 0 {
		if marker := indexMarker(grid, opts.IndexPrice); marker != nil {
			p.Add(marker)
		}
	}

	legend := plot.New()
	legend.HideY()
	legend.X.Label.Text = unitLabel(opts.Mode, opts.Asset)
	legend.Add(&plotter.ColorBar{ColorMap: colorMap})

	width := vg.Length(opts.WidthPx)
	height := vg.Length(opts.HeightPx)
	barHeight := height / 6

	canvas := vgimg.New(width, height)
	dc := draw.New(canvas)
	p.Draw(draw.Crop(dc, 0, 0, barHeight, 0))
	legend.Draw(draw.Crop(dc, 0, 0, 0, barHeight-height))

	return canvas.Image(), nil
}

// colorLimits picks the color scale bounds. Net contract grids get a
// symmetric scale so zero stays at the diverging midpoint; notional grids
// start at zero. Degenerate all-zero grids get a unit span so the color
// map stays valid.
func colorLimits(grid *processor.Grid, mode string) (min, max float64) {
	if mode == config.ModeNetContracts {
		maxAbs := grid.MaxAbs()
		if maxAbs == 0 {
			maxAbs = 1
		}
		return -maxAbs, maxAbs
	}
	_, max = grid.Bounds()
	if max <= 0 {
		max = 1
	}
	return 0, max
}

func strikeTicks(strikes []float64) []plot.Tick {
	ticks := make([]plot.Tick, len(strikes))
	for i, s := range strikes {
		ticks[i] = plot.Tick{Value: float64(i), Label: strconv.FormatFloat(s, 'f', -1, 64)}
	}
	return ticks
}

func maturityTicks(maturities []time.Time) []plot.Tick {
	ticks := make([]plot.Tick, len(maturities))
	for i, m := range maturities {
		ticks[i] = plot.Tick{Value: float64(i), Label: models.MaturityLabel(m)}
	}
	return ticks
}

func cellLabels(grid *processor.Grid) (*plotter.Labels, error) {
	var pts plotter.XYs
	var texts []string
	for r, row := range grid.Cells {
		for c, v := range row {
			if v == 0 {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(c), Y: float64(r)})
			texts = append(texts, strconv.FormatFloat(v, 'g', 4, 64))
		}
	}
	return plotter.NewLabels(plotter.XYLabels{XYs: pts, Labels: texts})
}

// indexMarker returns a dashed vertical line at the strike column closest
// to the current index price.
func indexMarker(grid *processor.Grid, indexPrice float64) *plotter.Line {
	closest := 0
	for i, s := range grid.Strikes {
		if math.Abs(s-indexPrice) < math.Abs(grid.Strikes[closest]-indexPrice) {
			closest = i
		}
	}
	x := float64(closest)
	line, err := plotter.NewLine(plotter.XYs{
		{X: x, Y: -0.5},
		{X: x, Y: float64(len(grid.Maturities)) - 0.5},
	})
	if err != nil {
		return nil
	}
	line.LineStyle.Width = vg.Points(2)
	line.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
	line.LineStyle.Color = color.RGBA{B: 255, A: 255}
	return line
}

func unitLabel(mode, asset string) string {
	if mode == config.ModeNetContracts {
		return "Net Contracts Traded"
	}
	return fmt.Sprintf("Premium Notional (%s)", asset)
}
