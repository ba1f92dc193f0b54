package controller

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/reflex/internal/command"
	"github.com/banshee-data/reflex/internal/httputil"
	"github.com/banshee-data/reflex/internal/scan"
)

// AttachAdminRoutes mounts the controller's debug pages on mux.
func (c *Controller) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("state", "Current command and controller counters (JSON)", c.handleState)
	debug.HandleFunc("scan", "Chart of the last analysed scan", c.handleScanChart)
	debug.HandleSilentFunc("scan.png", c.handleScanPlot)
}

type stateResponse struct {
	Command  command.Snapshot `json:"command"`
	Stats    StatsSnapshot    `json:"stats"`
	LastScan *lastScanJSON    `json:"last_scan,omitempty"`
}

type lastScanJSON struct {
	*LastScan
	Action  string   `json:"action"`
	Front   *float64 `json:"front"`
	Left    *float64 `json:"left"`
	Right   *float64 `json:"right"`
	Samples int      `json:"samples"`
}

func (c *Controller) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		Command: c.state.Snapshot(),
		Stats:   c.stats.Snapshot(),
	}
	if last := c.last.load(); last != nil {
		s := last.Decision.Summary
		resp.LastScan = &lastScanJSON{
			LastScan: last,
			Action:   last.Decision.Action.String(),
			Front:    finite(s.Front),
			Left:     finite(s.Left),
			Right:    finite(s.Right),
			Samples:  len(last.Ranges),
		}
	}
	httputil.WriteJSONOK(w, resp)
}

// finite maps non-finite distances to nil; encoding/json rejects them.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// plotRanges returns the first scan.Size ranges with non-finite samples
// clamped to the scan's range_max, or to the largest finite sample when
// range_max is unset.
func plotRanges(last *LastScan) []float64 {
	n := min(len(last.Ranges), scan.Size)
	ceiling := last.RangeMax
	if ceiling <= 0 || math.IsInf(ceiling, 0) {
		for _, v := range last.Ranges[:n] {
			if !math.IsInf(v, 0) && !math.IsNaN(v) && v > ceiling {
				ceiling = v
			}
		}
	}
	out := make([]float64, n)
	for i, v := range last.Ranges[:n] {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			v = ceiling
		}
		out[i] = v
	}
	return out
}

func scanSubtitle(last *LastScan) string {
	s := last.Decision.Summary
	return fmt.Sprintf("%s frame=%s F=%.2f L=%.2f R=%.2f stamp=%s",
		last.Decision.Action, last.FrameID, s.Front, s.Left, s.Right,
		last.Stamp.UTC().Format(time.RFC3339Nano))
}

// handleScanChart renders the last scan as an echarts line chart, range
// against scan index.
func (c *Controller) handleScanChart(w http.ResponseWriter, r *http.Request) {
	last := c.last.load()
	if last == nil {
		httputil.NotFound(w, "no scan analysed yet")
		return
	}
	ranges := plotRanges(last)

	xs := make([]int, len(ranges))
	ys := make([]opts.LineData, len(ranges))
	for i, v := range ranges {
		xs[i] = i
		ys[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Last scan", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Last scan", Subtitle: scanSubtitle(last)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "index (deg)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "range (m)", NameLocation: "middle", NameGap: 30}),
	)
	line.SetXAxis(xs).AddSeries("range", ys)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

// handleScanPlot renders the last scan as a PNG with the three analysis
// windows drawn at their mean distance.
func (c *Controller) handleScanPlot(w http.ResponseWriter, r *http.Request) {
	last := c.last.load()
	if last == nil {
		httputil.NotFound(w, "no scan analysed yet")
		return
	}
	ranges := plotRanges(last)

	p := plot.New()
	p.Title.Text = scanSubtitle(last)
	p.X.Label.Text = "index (deg)"
	p.Y.Label.Text = "range (m)"

	pts := make(plotter.XYs, len(ranges))
	for i, v := range ranges {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}
	rangeLine, err := plotter.NewLine(pts)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	rangeLine.Width = vg.Points(1)
	p.Add(rangeLine)
	p.Legend.Add("range", rangeLine)

	s := last.Decision.Summary
	windows := []struct {
		name string
		w    []scan.Window
		mean float64
	}{
		{"front", scan.FrontWindows, s.Front},
		{"left", []scan.Window{scan.LeftWindow}, s.Left},
		{"right", []scan.Window{scan.RightWindow}, s.Right},
	}
	for i, win := range windows {
		if math.IsInf(win.mean, 0) || math.IsNaN(win.mean) {
			continue
		}
		for j, span := range win.w {
			seg, err := plotter.NewLine(plotter.XYs{
				{X: float64(span.Start), Y: win.mean},
				{X: float64(span.End - 1), Y: win.mean},
			})
			if err != nil {
				httputil.InternalServerError(w, err.Error())
				return
			}
			seg.Width = vg.Points(3)
			seg.Color = plotutil.Color(i)
			p.Add(seg)
			if j == 0 {
				p.Legend.Add(win.name+" mean", seg)
			}
		}
	}

	wt, err := p.WriterTo(9*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteBody(w, "image/png", buf.Bytes())
}
