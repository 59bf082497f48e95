package visualization

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"volseg/pkg/analysis"
)

// viridis is the color ramp of the interactive charts
var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// SaveCentersHTML writes an interactive scatter chart of the object centers
// colored by volume
func SaveCentersHTML(stats []analysis.LabelStats, title, path string) error {
	data := make([]opts.ScatterData, 0, len(stats))
	maxVolume := 1
	for _, s := range stats {
		if s.Volume > maxVolume {
			maxVolume = s.Volume
		}
		data = append(data, opts.ScatterData{Name: fmt.Sprintf("label %d", s.Label), Value: []interface{}{s.X, s.Y, s.Volume}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("objects=%d", len(stats))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxVolume),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("centers", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := scatter.Render(file); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}
