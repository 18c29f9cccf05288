package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// echartsAssetsPrefix serves the echarts script from the public CDN.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// showChart renders occupants and the raw radar count over the requested
// window as an HTML line chart. Radar outages are drawn as gaps.
func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	reports, window, ok := s.reportsInWindow(w, r)
	if !ok {
		return
	}

	times := make([]string, len(reports))
	occupants := make([]opts.LineData, len(reports))
	radarCounts := make([]opts.LineData, len(reports))
	for i, rep := range reports {
		times[i] = rep.Time.Local().Format("01-02 15:04")
		occupants[i] = opts.LineData{Value: rep.Occupants}
		if rep.RadarCount < 0 {
			radarCounts[i] = opts.LineData{Value: "-"}
		} else {
			radarCounts[i] = opts.LineData{Value: rep.RadarCount}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Occupancy", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Occupancy", Subtitle: fmt.Sprintf("sensor=%s reports=%d last %dh", s.opts.SensorID, len(reports), int(window.Hours()))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "people", Min: 0}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(times).
		AddSeries("occupants", occupants, charts.WithLineChartOpts(opts.LineChart{Step: "end"})).
		AddSeries("radar count", radarCounts, charts.WithLineChartOpts(opts.LineChart{ConnectNulls: opts.Bool(false)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
