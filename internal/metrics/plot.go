package metrics

import (
	"errors"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Series is a named curve of per-iteration values.
type Series struct {
	Name   string
	Values []float64
}

// SavePlot renders the series to a PNG, one line per series, indexed by
// iteration on the x axis.
func SavePlot(path, title, yLabel string, series ...Series) error {
	if len(series) == 0 {
		return errors.New("no series to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = yLabel

	for i, s := range series {
		points := make(plotter.XYs, len(s.Values))
		for j, v := range s.Values {
			points[j] = plotter.XY{X: float64(j), Y: v}
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return fmt.Errorf("building line for %s: %w", s.Name, err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(s.Name, line)
	}

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving plot: %w", err)
	}
	return nil
}
