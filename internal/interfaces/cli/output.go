package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/heatmap"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/imaging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/registry"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/scoring"
)

// tableProvider is implemented by results with a tabular text rendering.
type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult writes data as JSON or, in text mode, as a table when data
// provides one.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	format := "json"
	if cc, err := GetCLIContext(cmd); err == nil {
		format = cc.OutputFormat
	}
	if format == "json" {
		if v, ok := data.(interface{ JSONValue() interface{} }); ok {
			data = v.JSONValue()
		}
		return printJSON(cmd.OutOrStdout(), data)
	}
	if tp, ok := data.(tableProvider); ok {
		renderTable(cmd.OutOrStdout(), tp.TableHeaders(), tp.TableRows())
		if f, ok := data.(interface{ Footer() string }); ok && f.Footer() != "" {
			fmt.Fprintln(cmd.OutOrStdout(), f.Footer())
		}
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", data)
	return nil
}

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func renderTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.RedString("Error:"), err.Error())
}

// PrintSuccess writes a formatted success message to stdout.
func PrintSuccess(cmd *cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("OK:"), msg)
}

func pct(v float64) string { return fmt.Sprintf("%.1f%%", v*100) }

func aed(v float64) string { return "AED " + humanize.Commaf(float64(int64(v+0.5))) }

// ─────────────────────────────────────────────────────────────────────────────
// Result views
// ─────────────────────────────────────────────────────────────────────────────

type heatmapView struct {
	points []heatmap.Point
	top    int
}

func (v heatmapView) JSONValue() interface{} {
	if v.points == nil {
		return []heatmap.Point{}
	}
	return v.points
}

func (v heatmapView) TableHeaders() []string {
	return []string{"Rank", "Latitude", "Longitude", "AED/sqm", "Demand", "Investment", "Risk", "Intensity"}
}

func (v heatmapView) TableRows() [][]string {
	n := len(v.points)
	if v.top > 0 && v.top < n {
		n = v.top
	}
	rows := make([][]string, 0, n)
	for i, p := range v.points[:n] {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.4f", p.Latitude),
			fmt.Sprintf("%.4f", p.Longitude),
			humanize.Commaf(float64(int64(p.Value + 0.5))),
			pct(p.Demand),
			pct(p.Investment),
			pct(p.Risk),
			fmt.Sprintf("%.3f", p.Intensity),
		})
	}
	return rows
}

func (v heatmapView) Footer() string {
	shown := len(v.points)
	if v.top > 0 && v.top < shown {
		shown = v.top
	}
	return fmt.Sprintf("%s points, showing top %d", humanize.Comma(int64(len(v.points))), shown)
}

type analysisView struct{ a *scoring.Analysis }

func (v analysisView) JSONValue() interface{} { return v.a }

func (v analysisView) TableHeaders() []string { return []string{"Metric", "Value"} }

func (v analysisView) TableRows() [][]string {
	a := v.a
	rows := [][]string{
		{"Property", a.PropertyID},
		{"Estimated value", aed(a.Valuation.EstimatedValue)},
		{"Price per sqm", aed(a.Valuation.PricePerSqm)},
		{"Market position", pct(a.Valuation.MarketPosition)},
		{"Risk grade", gradeColor(a.Risk.Grade)},
		{"Overall risk", pct(a.Risk.Overall)},
		{"Trend", fmt.Sprintf("%+.2f over %.0f months", a.Trend.Direction, a.Trend.Duration)},
		{"Investment", fmt.Sprintf("%s (%s)", a.Investment.Grade, pct(a.Investment.Overall))},
		{"Overall score", fmt.Sprintf("%.4f", a.OverallScore)},
		{"Confidence", pct(a.Confidence)},
	}
	for _, r := range a.Recommendations {
		rows = append(rows, []string{"Recommendation", r})
	}
	return rows
}

func gradeColor(grade string) string {
	switch grade {
	case "A", "B":
		return color.GreenString(grade)
	case "C":
		return color.YellowString(grade)
	}
	return color.RedString(grade)
}

type predictionView struct{ p *heatmap.LocationPrediction }

func (v predictionView) JSONValue() interface{} { return v.p }

func (v predictionView) TableHeaders() []string { return []string{"Metric", "Value"} }

func (v predictionView) TableRows() [][]string {
	p := v.p
	area := p.PrimeArea
	if area == "" {
		area = "-"
	}
	return [][]string{
		{"Location", fmt.Sprintf("%.4f, %.4f", p.Latitude, p.Longitude)},
		{"Prime area", area},
		{"AED/sqm", humanize.Commaf(float64(int64(p.Value + 0.5)))},
		{"Demand", pct(p.Demand)},
		{"Investment", pct(p.Investment)},
		{"Risk", pct(p.Risk)},
		{"Confidence", pct(p.Confidence)},
		{"Recommendation", p.Recommendation},
	}
}

type modelsView []registry.ModelInfo

func (v modelsView) JSONValue() interface{} { return []registry.ModelInfo(v) }

func (v modelsView) TableHeaders() []string {
	return []string{"Model", "Version", "Revision", "Backend"}
}

func (v modelsView) TableRows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, m := range v {
		rows = append(rows, []string{string(m.Kind), m.Version, fmt.Sprintf("%d", m.Revision), string(m.Backend)})
	}
	return rows
}

type imageView struct{ results []*imaging.Analysis }

func (v imageView) TableHeaders() []string {
	return []string{"Image", "Type", "Condition", "Room", "Features", "Estimate", "Confidence"}
}

func (v imageView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.results))
	for _, a := range v.results {
		names := make([]string, 0, len(a.Features.Detected))
		for _, f := range a.Features.Detected {
			names = append(names, f.Feature)
		}
		rows = append(rows, []string{
			a.ImageURI,
			a.PropertyType.Type,
			a.Condition.Condition,
			a.RoomType.RoomType,
			strings.Join(names, ","),
			"AED " + humanize.Commaf(a.PriceEstimate.EstimatedValue.InexactFloat64()),
			pct(a.Confidence),
		})
	}
	return rows
}

type singleImageView struct {
	imageView
	a *imaging.Analysis
}

func (v singleImageView) JSONValue() interface{} { return v.a }

type bulkImageView struct {
	imageView
	r *imaging.BulkResult
}

func (v bulkImageView) JSONValue() interface{} { return v.r }

func (v bulkImageView) Footer() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d analyzed, %d failed, average confidence %s",
		len(v.r.Results), len(v.r.Errors), pct(v.r.Summary.AverageConfidence))
	for _, e := range v.r.Errors {
		fmt.Fprintf(&sb, "\n%s %s: %s", color.RedString("failed"), e.URI, e.Error)
	}
	return sb.String()
}

type fineTuneView struct{ r *registry.FineTuneResult }

func (v fineTuneView) JSONValue() interface{} { return v.r }

func (v fineTuneView) TableHeaders() []string {
	return []string{"Model", "Version", "Revision", "Samples", "Final loss"}
}

func (v fineTuneView) TableRows() [][]string {
	return [][]string{{
		string(v.r.Kind), v.r.Version, fmt.Sprintf("%d", v.r.Revision),
		fmt.Sprintf("%d", v.r.Samples), fmt.Sprintf("%.6f", v.r.FinalLoss),
	}}
}
