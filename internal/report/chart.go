package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"cryptobot/internal/domain"
)

const (
	chartWidth  = 10 * vg.Inch
	chartHeight = 5 * vg.Inch
)

// EquityPoints returns the balance after each closed trade, starting from
// the initial balance at the first entry time.
func EquityPoints(run *domain.BacktestRun) plotter.XYs {
	pts := make(plotter.XYs, 0, len(run.Trades)+1)
	if len(run.Trades) == 0 {
		return pts
	}
	balance := run.InitialBalance
	pts = append(pts, plotter.XY{X: float64(run.Trades[0].EntryTime.Unix()), Y: balance})
	for _, t := range run.Trades {
		balance += t.Profit
		pts = append(pts, plotter.XY{X: float64(t.ExitTime.Unix()), Y: balance})
	}
	return pts
}

// WriteEquityChart renders the equity curve of run as a PNG with winning
// exits marked green and losing exits red.
func WriteEquityChart(w io.Writer, run *domain.BacktestRun) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s %s", run.Symbol, run.Timeframe, run.Strategy.Kind)
	if run.Synthetic {
		p.Title.Text += " (synthetic data)"
	}
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "Balance"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02\n15:04"}
	p.Add(plotter.NewGrid())

	pts := EquityPoints(run)
	if len(pts) == 0 {
		// Keep the axes meaningful for a run without trades.
		x := float64(run.Start.Unix())
		pts = plotter.XYs{{X: x, Y: run.InitialBalance}, {X: float64(run.End.Unix()), Y: run.InitialBalance}}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("equity line: %w", err)
	}
	line.LineStyle.Width = vg.Points(1.5)
	line.LineStyle.Color = color.RGBA{R: 30, G: 90, B: 200, A: 255}
	p.Add(line)
	p.Legend.Add("equity", line)

	var wins, losses plotter.XYs
	for i, t := range run.Trades {
		pt := pts[i+1]
		if t.Profit > 0 {
			wins = append(wins, pt)
		} else {
			losses = append(losses, pt)
		}
	}
	if err := addMarkers(p, wins, "win", color.RGBA{G: 160, A: 255}, draw.TriangleGlyph{}); err != nil {
		return err
	}
	if err := addMarkers(p, losses, "loss", color.RGBA{R: 200, A: 255}, draw.CrossGlyph{}); err != nil {
		return err
	}

	wt, err := p.WriterTo(chartWidth, chartHeight, "png")
	if err != nil {
		return fmt.Errorf("rendering chart: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("writing chart: %w", err)
	}
	return nil
}

func addMarkers(p *plot.Plot, pts plotter.XYs, label string, c color.Color, shape draw.GlyphDrawer) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("%s markers: %w", label, err)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Shape = shape
	s.GlyphStyle.Radius = vg.Points(4)
	p.Add(s)
	p.Legend.Add(label, s)
	return nil
}
