package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/sensorybox/internal/controller"
	"github.com/banshee-data/sensorybox/internal/zones"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

var zoneColors = map[byte]color.RGBA{
	zones.Fire:  {R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	zones.Air:   {R: 0x9e, G: 0xda, B: 0xe5, A: 0xff},
	zones.Earth: {R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
	zones.Water: {R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
}

var otherZoneColor = color.RGBA{R: 0x7f, G: 0x7f, B: 0x7f, A: 0xff}

func zoneColor(code byte) color.RGBA {
	if c, ok := zoneColors[code]; ok {
		return c
	}
	return otherZoneColor
}

// renderZonePlot draws the zones projected onto the X-Y plane, the tracker's
// front view, with the last contact points of the tracked hand.
func renderZonePlot(table *zones.Table, contacts []controller.Contact) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Sensory box zones (front view)"
	p.X.Label.Text = "X (mm)"
	p.Y.Label.Text = "Y (mm)"
	p.Add(plotter.NewGrid())

	for _, z := range table.Zones() {
		lo, hi := z.Min(), z.Max()
		poly, err := plotter.NewPolygon(plotter.XYs{
			{X: lo.X, Y: lo.Y}, {X: hi.X, Y: lo.Y}, {X: hi.X, Y: hi.Y}, {X: lo.X, Y: hi.Y},
		})
		if err != nil {
			return nil, fmt.Errorf("zone %c polygon: %w", z.Code, err)
		}
		c := zoneColor(z.Code)
		poly.LineStyle.Color = c
		poly.LineStyle.Width = vg.Points(1.5)
		fill := c
		fill.A = 0x40
		poly.Color = fill
		p.Add(poly)
		p.Legend.Add(string(z.Code), poly)
	}

	labels := plotter.XYLabels{}
	for _, z := range table.Zones() {
		labels.XYs = append(labels.XYs, plotter.XY{X: z.Anchor.X, Y: z.Anchor.Y})
		labels.Labels = append(labels.Labels, string(z.Code))
	}
	if len(labels.XYs) > 0 {
		l, err := plotter.NewLabels(labels)
		if err != nil {
			return nil, fmt.Errorf("zone labels: %w", err)
		}
		p.Add(l)
	}

	if len(contacts) > 0 {
		pts := make(plotter.XYs, len(contacts))
		for i, c := range contacts {
			pts[i] = plotter.XY{X: c.Point.X, Y: c.Point.Y}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("contacts: %w", err)
		}
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(4)
		sc.GlyphStyle.Color = color.Black
		p.Add(sc)
		p.Legend.Add("contacts", sc)
	}
	return p, nil
}

func (s *Server) handleZonesPlot(w http.ResponseWriter, r *http.Request) {
	p, err := renderZonePlot(s.table, s.stats().Contacts)
	if err != nil {
		http.Error(w, fmt.Sprintf("plot error: %v", err), http.StatusInternalServerError)
		return
	}
	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// handleContactsChart renders a bar chart of finger hits per zone, in table
// order, plus the idle/none/buffer frame counts.
func (s *Server) handleContactsChart(w http.ResponseWriter, r *http.Request) {
	snap := s.stats()

	var x []string
	var hits []opts.BarData
	for _, z := range s.table.Zones() {
		code := string(z.Code)
		x = append(x, code)
		hits = append(hits, opts.BarData{Value: snap.ZoneHits[code]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sensorybox contacts", Width: "100%", Height: "480px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Finger hits per zone", Subtitle: fmt.Sprintf("frames=%d at %s", snap.Frames, s.now().Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("hits", hits,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	outcomes := charts.NewBar()
	outcomes.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Frame outcomes", Subtitle: fmt.Sprintf("writes=%d failures=%d", snap.Writes, snap.WriteFailures)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	outcomes.SetXAxis([]string{"buffer", "idle", "none"}).
		AddSeries("frames", []opts.BarData{
			{Value: snap.Buffers},
			{Value: snap.Idles},
			{Value: snap.Nones},
		}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(bar, outcomes)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
