package scope

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotConfig adjusts the time-axis plot.
type PlotConfig struct {
	Title  string
	XLabel string
	YLabel string
	// Select restricts the plot to these signal rows; nil plots all.
	Select []int
	// Derivative plots first differences instead of the raw signals.
	Derivative bool
	// Width and Height of the saved figure; zero means 4 inches.
	Width, Height vg.Length
}

// Plot draws the selected signals against the time line and saves the
// figure to path. The format follows the file extension.
func (s *Scope) Plot(path string, cfg PlotConfig) error {
	rows := cfg.Select
	if rows == nil {
		rows = make([]int, s.Count())
		for index := range rows {
			rows[index] = index
		}
	}

	p := plot.New()
	p.Title.Text = cfg.Title
	if cfg.Title == "" {
		p.Title.Text = s.name
	}
	p.X.Label.Text = labelOr(cfg.XLabel, "Time (s)")
	p.Y.Label.Text = cfg.YLabel

	count := s.Count()
	args := make([]interface{}, 0, 2*len(rows))
	for _, row := range rows {
		if row < 0 || row >= count {
			return fmt.Errorf("scope %q: plotting signal %d of %d", s.name, row, count)
		}
		args = append(args, fmt.Sprintf("[%d]", row), s.linePoints(row, cfg.Derivative))
	}
	if err := plotutil.AddLines(p, args...); err != nil {
		return fmt.Errorf("scope %q: %w", s.name, err)
	}
	return p.Save(sizeOr(cfg.Width), sizeOr(cfg.Height), path)
}

// XYConfig adjusts the timeless trajectory plot.
type XYConfig struct {
	Title  string
	XLabel string
	YLabel string
	// Pairs are [x row, y row] signal index pairs, one line per pair.
	Pairs [][2]int
	// Width and Height of the saved figure; zero means 4 inches.
	Width, Height vg.Length
}

// PlotXY draws signal-against-signal trajectories with no time axis, for
// phase portraits and attractors, and saves the figure to path.
func (s *Scope) PlotXY(path string, cfg XYConfig) error {
	if len(cfg.Pairs) == 0 {
		return fmt.Errorf("scope %q: no signal pairs to plot", s.name)
	}

	p := plot.New()
	p.Title.Text = cfg.Title
	if cfg.Title == "" {
		p.Title.Text = s.name
	}
	p.X.Label.Text = cfg.XLabel
	p.Y.Label.Text = cfg.YLabel

	count := s.Count()
	args := make([]interface{}, 0, 2*len(cfg.Pairs))
	for _, pair := range cfg.Pairs {
		if pair[0] < 0 || pair[0] >= count || pair[1] < 0 || pair[1] >= count {
			return fmt.Errorf("scope %q: plotting signal pair %v of %d", s.name, pair, count)
		}
		pts := make(plotter.XYs, s.Steps())
		for col := range pts {
			pts[col].X = s.signals.At(pair[0], col)
			pts[col].Y = s.signals.At(pair[1], col)
		}
		args = append(args, fmt.Sprintf("[%d,%d]", pair[0], pair[1]), pts)
	}
	if err := plotutil.AddLines(p, args...); err != nil {
		return fmt.Errorf("scope %q: %w", s.name, err)
	}
	return p.Save(sizeOr(cfg.Width), sizeOr(cfg.Height), path)
}

func (s *Scope) linePoints(row int, derivative bool) plotter.XYs {
	pts := make(plotter.XYs, s.Steps())
	for col := range pts {
		pts[col].X = s.timeLine[col]
		pts[col].Y = s.signals.At(row, col)
		if derivative {
			if col == 0 {
				pts[col].Y = 0
				continue
			}
			pts[col].Y = s.signals.At(row, col) - s.signals.At(row, col-1)
		}
	}
	if derivative && len(pts) > 1 {
		pts[0].Y = pts[1].Y
	}
	return pts
}

func labelOr(label, fallback string) string {
	if label == "" {
		return fallback
	}
	return label
}

func sizeOr(size vg.Length) vg.Length {
	if size == 0 {
		return 4 * vg.Inch
	}
	return size
}
