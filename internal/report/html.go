package report

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/sigillo-iot/sigillo/internal/verifier"
)

// RenderHTML writes a bar chart of intact vs anomalous leaves per kind to
// path.
func RenderHTML(path string, result *verifier.Result) error {
	okCounts := countByKind(result.Details.OK)
	anomalyCounts := countByKind(result.Details.Anomalies)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Verifica batch %d", result.BatchID),
			Subtitle: verdictLabel(result),
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	kinds := []string{verifier.LeafKindBatch, verifier.LeafKindMeasurement}

	bar.SetXAxis(kinds).
		AddSeries("integre", barData(okCounts, kinds)).
		AddSeries("anomale", barData(anomalyCounts, kinds))

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	err = bar.Render(file)
	if err != nil {
		return fmt.Errorf("report: render chart: %w", err)
	}

	return nil
}

func verdictLabel(result *verifier.Result) string {
	if result.GlobalOK {
		return "esito: integro"
	}

	return fmt.Sprintf("esito: compromesso (%d anomalie)", result.AnomalyCount)
}

func countByKind(leaves []verifier.Leaf) map[string]int {
	counts := make(map[string]int)
	for _, leaf := range leaves {
		counts[leaf.Kind]++
	}

	return counts
}

func barData(counts map[string]int, kinds []string) []opts.BarData {
	data := make([]opts.BarData, 0, len(kinds))
	for _, kind := range kinds {
		data = append(data, opts.BarData{Value: counts[kind]})
	}

	return data
}
