// Package report renders a calibration run for operators: a summary table and a chart of the
// epipolar error of every accepted frame pair.
package report

import (
	"fmt"
	"image/color"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/stereocalib/rimage/calibration"
	"go.viam.com/stereocalib/utils"
)

// FrameStats summarizes the per frame epipolar errors of a run.
type FrameStats struct {
	Median float64
	Max    float64
	// Worst is the index of the frame pair with the largest error.
	Worst int
}

// ComputeFrameStats returns the statistics of the per frame errors.
func ComputeFrameStats(frames []calibration.FrameError) (FrameStats, error) {
	if len(frames) == 0 {
		return FrameStats{}, errors.New("no frame errors")
	}
	values := make(stats.Float64Data, len(frames))
	var out FrameStats
	for i, f := range frames {
		values[i] = f.Mean
		if i == 0 || f.Mean > out.Max {
			out.Max = f.Mean
			out.Worst = f.Index
		}
	}
	median, err := values.Median()
	if err != nil {
		return FrameStats{}, err
	}
	out.Median = median
	return out, nil
}

func intList(vals []int) string {
	if len(vals) == 0 {
		return "-"
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

// Table renders the summary of a run.
func Table(r *calibration.Report) string {
	t := table.NewWriter()
	t.SetTitle("calibration run %s", r.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"Frames", fmt.Sprintf("%d requested, %d loaded, %d accepted", r.FramesRequested, r.FramesLoaded, r.FramesAccepted)})
	t.AppendRow(table.Row{"Rejected", intList(r.Rejected)})
	if res := r.Result; res != nil {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Color RMS", fmt.Sprintf("%.4f", res.RMS1)})
		t.AppendRow(table.Row{"Depth RMS", fmt.Sprintf("%.4f", res.RMS2)})
		t.AppendRow(table.Row{"Stereo RMS", fmt.Sprintf("%.4f", res.StereoRMS)})
		t.AppendRow(table.Row{"Color focal", fmt.Sprintf("%.2f, %.2f", res.Camera1.Fx, res.Camera1.Fy)})
		t.AppendRow(table.Row{"Depth focal", fmt.Sprintf("%.2f, %.2f", res.Camera2.Fx, res.Camera2.Fy)})
		t.AppendRow(table.Row{"Baseline", fmt.Sprintf("%.3f", res.T.Norm())})
		t.AppendRow(table.Row{"Epipolar error", fmt.Sprintf("%.4f", r.EpipolarError)})
	}
	if fs, err := ComputeFrameStats(r.FrameErrors); err == nil {
		t.AppendRow(table.Row{"Frame error median / max", fmt.Sprintf("%.4f / %.4f (frame %d)", fs.Median, fs.Max, fs.Worst)})
	}
	if fc := r.Fundamental; fc != nil {
		t.AppendRow(table.Row{"Eight point error", fmt.Sprintf("%.4f", fc.EpipolarError)})
		t.AppendRow(table.Row{"Essential distance", fmt.Sprintf("%.4f", fc.EssentialDistance)})
	}
	if r.Rectification != nil {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Valid ROI color", r.Rectification.ValidROI1.String()})
		t.AppendRow(table.Row{"Valid ROI depth", r.Rectification.ValidROI2.String()})
	}
	if len(r.FailedWrites) > 0 {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Failed writes", strings.Join(r.FailedWrites, "\n")})
	}
	return t.Render()
}

// Chart plots the per frame epipolar error as bars, with the mean of the run as a line.
func Chart(r *calibration.Report) (*plot.Plot, error) {
	if len(r.FrameErrors) == 0 {
		return nil, errors.New("no frame errors to plot")
	}
	p := plot.New()
	p.Title.Text = "Epipolar error per frame pair"
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Mean error (px)"
	p.Add(plotter.NewGrid())

	values := make(plotter.Values, len(r.FrameErrors))
	names := make([]string, len(r.FrameErrors))
	for i, f := range r.FrameErrors {
		values[i] = f.Mean
		names[i] = strconv.Itoa(f.Index)
	}
	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return nil, err
	}
	bars.Color = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)

	mean := plotter.NewFunction(func(float64) float64 { return r.EpipolarError })
	mean.Color = color.RGBA{R: 220, A: 255}
	mean.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(mean)
	p.Legend.Add("mean", mean)
	p.Legend.Top = true
	return p, nil
}

// WriteChart renders the chart as a PNG into w.
func WriteChart(w io.Writer, r *calibration.Report) error {
	p, err := Chart(r)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveChart writes the chart to path. The file only appears once it is complete.
func SaveChart(path string, r *calibration.Report) error {
	return utils.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return WriteChart(w, r)
	})
}
