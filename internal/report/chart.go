// Package report 将回测/纸面交易结果渲染为净值与回撤图表。
package report

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"quiver/internal/metrics"
)

// Input 为单次报告的内容。
type Input struct {
	RunID   string
	Title   string
	Equity  []metrics.EquityPoint
	Summary metrics.Summary
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorDrawdown      = "#f87171"

	chartWidthPx  = 1600
	chartHeightPx = 480
)

// BuildHTML 生成净值曲线 + 回撤曲线的单页 HTML。
func BuildHTML(input Input) ([]byte, error) {
	if len(input.Equity) == 0 {
		return nil, fmt.Errorf("equity series is empty")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(input.Equity)
	page.AddCharts(
		buildEquityChart(input, xAxis),
		buildDrawdownChart(input, xAxis),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteHTML 渲染报告并写入 dir/<run_id>.html，返回文件路径。
func WriteHTML(dir string, input Input) (string, error) {
	html, err := BuildHTML(input)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := strings.TrimSpace(input.RunID)
	if name == "" {
		name = fmt.Sprintf("report_%d", time.Now().UnixMilli())
	}
	path := filepath.Join(dir, name+".html")
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func buildEquityChart(input Input, xAxis []string) *charts.Line {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Equity Curve"
	}
	subtitle := fmt.Sprintf("total %.2f%% | annual %.2f%% | sharpe %.2f | max dd %.2f%% | win %.1f%%",
		input.Summary.TotalReturn*100,
		input.Summary.AnnualReturn*100,
		input.Summary.Sharpe,
		input.Summary.MaxDrawdown*100,
		input.Summary.WinRate*100,
	)
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(chartHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	data := make([]opts.LineData, len(input.Equity))
	for i, p := range input.Equity {
		data[i] = opts.LineData{Value: round(p.Value, 2)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("NAV", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildDrawdownChart(input Input, xAxis []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(chartHeightPx/2)),
		charts.WithTitleOpts(opts.Title{
			Title:      "Drawdown",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	dd := drawdownSeries(input.Equity)
	data := make([]opts.LineData, len(dd))
	for i, v := range dd {
		data[i] = opts.LineData{Value: round(-v*100, 2)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Drawdown", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.2)}),
	)
	return line
}

func chartInit(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func buildXAxis(equity []metrics.EquityPoint) []string {
	x := make([]string, len(equity))
	for i, p := range equity {
		x[i] = p.At.UTC().Format("01-02 15:04")
	}
	return x
}

// drawdownSeries 返回每个采样点相对历史峰值的回撤比例（正数）。
func drawdownSeries(equity []metrics.EquityPoint) []float64 {
	out := make([]float64, len(equity))
	peak := math.Inf(-1)
	for i, p := range equity {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			out[i] = (peak - p.Value) / peak
		}
	}
	return out
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
