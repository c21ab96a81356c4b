package spy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-analyze/bulk"
	"github.com/go-analyze/charts"
)

const (
	errorClassSyntax     = "syntax"
	errorClassStructural = "structural"
	errorClassTransform  = "transform"
	errorClassLoopBounds = "loop_bounds"
	errorClassOther      = "other"
)

var greenTextColor = charts.ColorGreenAlt3
var redTextColor = charts.ColorRed.WithAdjustHSL(0, .1, -.1)

// ReportMetrics summarizes an Engine run.
type ReportMetrics struct {
	GeneratedAt    time.Time      `json:"generated_at"`
	RunDuration    int64          `json:"run_ms"`
	FileCount      int            `json:"file_count"`
	SucceededCount int            `json:"succeeded_count"`
	FailedCount    int            `json:"failed_count"`
	SplicedCount   int            `json:"spliced_count"`
	KindCounts     map[string]int `json:"kind_counts"`  // top-level statements by kind
	ErrorCounts    map[string]int `json:"error_counts"` // failures by error class
	Files          []FileReport   `json:"files"`
}

// FileReport describes one instrumented input.
type FileReport struct {
	Name       string   `json:"name"`
	Function   string   `json:"function,omitempty"`
	Kinds      []string `json:"kinds,omitempty"`
	Spliced    int      `json:"spliced"`
	Error      string   `json:"error,omitempty"`
	ErrorClass string   `json:"error_class,omitempty"`
}

// ErrorClass names the category of an instrumentation failure.
func ErrorClass(err error) string {
	var syntaxErr *SyntaxError
	var structuralErr *StructuralError
	var boundsErr *InvalidLoopBoundsError
	var transformErr *TransformError
	switch {
	case errors.As(err, &boundsErr):
		return errorClassLoopBounds
	case errors.As(err, &transformErr):
		return errorClassTransform
	case errors.As(err, &structuralErr):
		return errorClassStructural
	case errors.As(err, &syntaxErr):
		return errorClassSyntax
	}
	return errorClassOther
}

// BuildReport aggregates results into report metrics.
func BuildReport(startTime time.Time, results []FileResult) ReportMetrics {
	report := ReportMetrics{
		GeneratedAt: startTime,
		RunDuration: time.Since(startTime).Milliseconds(),
		FileCount:   len(results),
		KindCounts:  make(map[string]int),
		ErrorCounts: make(map[string]int),
		Files:       make([]FileReport, 0, len(results)),
	}
	for _, kind := range AllStatementKinds {
		report.KindCounts[kind.String()] = 0
	}

	var kinds []string
	for _, r := range results {
		fr := FileReport{Name: r.Name}
		if r.Err != nil {
			fr.Error = r.Err.Error()
			fr.ErrorClass = ErrorClass(r.Err)
			report.FailedCount++
		} else {
			report.SucceededCount++
		}
		if r.Result != nil {
			fr.Function = r.Result.FunctionName
			fr.Spliced = r.Result.Spliced
			for _, k := range r.Result.Kinds {
				fr.Kinds = append(fr.Kinds, k.String())
			}
			kinds = append(kinds, fr.Kinds...)
			report.SplicedCount += fr.Spliced
		}
		report.Files = append(report.Files, fr)
	}
	for kind, count := range bulk.SliceToCounts(kinds) {
		report.KindCounts[kind] = count
	}
	failed := bulk.SliceFilter(func(fr FileReport) bool {
		return fr.ErrorClass != ""
	}, report.Files)
	for _, fr := range failed {
		report.ErrorCounts[fr.ErrorClass]++
	}
	return report
}

// WriteReportJSON writes the report to path as indented JSON.
func WriteReportJSON(path string, report ReportMetrics) error {
	encodedReport, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report failed: %w", err)
	} else if err := os.WriteFile(path, encodedReport, 0644); err != nil {
		return fmt.Errorf("write report file failed: %w", err)
	}
	return nil
}

func chartOutputType(path string) (string, error) {
	if strings.HasSuffix(path, ".png") {
		return charts.ChartOutputPNG, nil
	} else if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg") {
		return charts.ChartOutputJPG, nil
	} else if strings.HasSuffix(path, ".svg") {
		return charts.ChartOutputSVG, nil
	}
	return "", fmt.Errorf("unhandled chart file type: %s", path)
}

// WriteReportCharts renders the report charts to path, the extension selects the image format.
func WriteReportCharts(path string, report ReportMetrics) error {
	outputType, err := chartOutputType(path)
	if err != nil {
		return err
	}
	buf, err := RenderReportCharts(report, outputType)
	if err != nil {
		return fmt.Errorf("render charts failed: %w", err)
	} else if err = os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write chart file failed: %w", err)
	}
	return nil
}

// RenderReportCharts renders the instrumentation outcome and statement kind breakdown.
func RenderReportCharts(report ReportMetrics, outputType string) ([]byte, error) {
	p := charts.NewPainter(charts.PainterOptions{
		OutputFormat: outputType,
		Width:        800,
		Height:       600,
	})
	if err := renderChartsToPainter(p, report); err != nil {
		return nil, err
	}
	return p.Bytes()
}

func renderChartsToPainter(p *charts.Painter, report ReportMetrics) error {
	const chartPadding = 10
	p.FilledRect(0, 0, p.Width(), p.Height(), charts.ColorWhite, charts.ColorWhite, 0)
	p = p.Child(charts.PainterPaddingOption(charts.NewBox(0, chartPadding, chartPadding, chartPadding)))

	painters, err := p.LayoutByRows().
		Row().Height("128").Columns("outcome").
		Row().Columns("kinds").
		Build()
	if err != nil {
		return fmt.Errorf("error building chart layout: %w", err)
	}
	outcome := painters["outcome"]
	kinds := painters["kinds"]

	outcomeOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{float64(report.SucceededCount)}, {float64(report.FailedCount)},
	})
	outcomeOpt.StackSeries = charts.Ptr(true)
	outcomeOpt.Theme = charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{
			charts.ColorGreenAlt1,
			charts.ColorRed,
		})
	outcomeOpt.Title.Text = "Instrumented Functions"
	outcomeOpt.XAxis.Unit = axisUnitForMax(report.FileCount)
	outcomeOpt.YAxis.Show = charts.Ptr(false)
	outcomeOpt.SeriesList[1].Label.Show = charts.Ptr(true)
	outcomeOpt.SeriesList[1].Label.ValueFormatter = func(f float64) string {
		if report.FileCount == 0 {
			return "0%"
		}
		total := float64(report.FileCount)
		return charts.FormatValueHumanize(100.0*(total-f)/total, 1, false) + "%"
	}
	if err := outcome.HorizontalBarChart(outcomeOpt); err != nil {
		return fmt.Errorf("error rendering chart: %w", err)
	}

	rows := make([][]string, 0, len(report.KindCounts)+len(report.ErrorCounts))
	for _, kind := range AllStatementKinds {
		rows = append(rows, []string{kind.String(), strconv.Itoa(report.KindCounts[kind.String()])})
	}
	errorClasses := bulk.MapKeysSlice(report.ErrorCounts)
	slices.Sort(errorClasses)
	for _, class := range errorClasses {
		rows = append(rows, []string{"error: " + class, strconv.Itoa(report.ErrorCounts[class])})
	}
	cellFont := charts.FontStyle{
		FontSize:  12,
		FontColor: charts.Color{R: 50, G: 50, B: 50, A: 255},
		Font:      charts.GetDefaultFont(),
	}
	kindsOpt := charts.TableChartOption{
		Header:                []string{"Statement Kind", "Count"},
		Data:                  rows,
		HeaderBackgroundColor: charts.Color{R: 210, G: 210, B: 210, A: 255},
		RowBackgroundColors: []charts.Color{
			{R: 240, G: 240, B: 240, A: 255},
			charts.ColorTransparent,
		},
		Padding:    charts.NewBoxEqual(10),
		Spans:      []int{24, 8},
		TextAligns: []string{charts.AlignLeft, charts.AlignCenter},
		CellModifier: func(cell charts.TableCell) charts.TableCell {
			if cell.Row == 0 || cell.Row > len(rows) {
				return cell
			}
			cell.FontStyle = cellFont
			if cell.Column == 1 && strings.HasPrefix(rows[cell.Row-1][0], "error: ") {
				cell.FontStyle.FontColor = redTextColor
			} else if cell.Column == 1 && cell.Text != "0" {
				cell.FontStyle.FontColor = greenTextColor
			}
			return cell
		},
	}
	if err := kinds.TableChart(kindsOpt); err != nil {
		return fmt.Errorf("error rendering table: %w", err)
	}
	return nil
}

func axisUnitForMax(val int) float64 {
	if val > 200 {
		return 100
	} else if val >= 80 {
		return 20
	} else if val > 20 {
		return 10
	} else if val >= 10 {
		return 2
	}
	return 1
}
