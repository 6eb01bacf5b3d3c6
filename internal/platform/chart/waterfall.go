// Package chart renders the feature-attribution waterfall as a
// self-contained echarts HTML fragment for embedding in the result page.
package chart

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	riskUpColor   = "#ff0d57" // contribution pushes the score up
	riskDownColor = "#1e88e5" // contribution pulls the score down
	totalColor    = "#6e6e6e"
	hiddenColor   = "rgba(0,0,0,0)"
)

// Entry is one labeled, signed contribution.
type Entry struct {
	Label string
	Value float64
}

// segment is one visible waterfall bar: a transparent base lifts it to its
// running position, height is the magnitude of the step.
type segment struct {
	label  string
	base   float64
	height float64
	up     bool
}

// buildSegments orders entries by attribution magnitude and walks the
// cumulative score from the baseline, closing with a total bar.
func buildSegments(entries []Entry, expectedValue, score float64) []segment {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return math.Abs(ordered[i].Value) > math.Abs(ordered[j].Value)
	})

	segments := make([]segment, 0, len(ordered)+1)
	running := expectedValue
	for _, e := range ordered {
		end := running + e.Value
		segments = append(segments, segment{
			label:  e.Label,
			base:   math.Min(running, end),
			height: math.Abs(e.Value),
			up:     e.Value >= 0,
		})
		running = end
	}
	segments = append(segments, segment{
		label:  "Risk score",
		base:   math.Min(0, score),
		height: math.Abs(score),
		up:     score >= 0,
	})
	return segments
}

// Waterfall renders the attribution plot: one bar per feature, ordered by
// magnitude, starting from the cohort expected value and ending at the
// patient's score. Returns the rendered HTML.
func Waterfall(title string, entries []Entry, expectedValue, score float64) (string, error) {
	segments := buildSegments(entries, expectedValue, score)

	labels := make([]string, len(segments))
	baseData := make([]opts.BarData, len(segments))
	stepData := make([]opts.BarData, len(segments))
	for i, s := range segments {
		labels[i] = s.label
		baseData[i] = opts.BarData{
			Value:     s.base,
			ItemStyle: &opts.ItemStyle{Color: hiddenColor, BorderColor: hiddenColor},
		}
		color := riskDownColor
		if s.up {
			color = riskUpColor
		}
		if i == len(segments)-1 {
			color = totalColor
		}
		stepData[i] = opts.BarData{
			Value:     s.height,
			ItemStyle: &opts.ItemStyle{Color: color},
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  "900px",
			Height: "480px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("baseline %.4f, score %.4f", expectedValue, score),
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show: opts.Bool(true),
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(false),
		}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{
				Show:   opts.Bool(true),
				Rotate: 45,
			},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: "risk score",
		}),
	)

	bar.SetXAxis(labels).
		AddSeries("base", baseData, charts.WithBarChartOpts(opts.BarChart{Stack: "score"})).
		AddSeries("contribution", stepData, charts.WithBarChartOpts(opts.BarChart{Stack: "score"}))

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		return "", fmt.Errorf("render attribution chart: %w", err)
	}
	return buf.String(), nil
}
