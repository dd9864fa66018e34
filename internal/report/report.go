// Package report renders verification verdicts for humans and machines:
// colored text with a per-leaf table, JSON, YAML, and an HTML chart.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/sigillo-iot/sigillo/internal/verifier"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatHTML = "html"
)

// ErrUnknownFormat is returned for a format outside the supported set.
var ErrUnknownFormat = errors.New("report: unknown format")

// Render writes result to w in the given format. HTML output goes through
// RenderHTML and needs a file path instead.
func Render(w io.Writer, result *verifier.Result, format string) error {
	switch format {
	case FormatText:
		return renderText(w, result)
	case FormatJSON:
		return renderJSON(w, result)
	case FormatYAML:
		return renderYAML(w, result)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func renderText(w io.Writer, result *verifier.Result) error {
	verdict := color.New(color.FgGreen, color.Bold).Sprint("INTEGRO")
	if !result.GlobalOK {
		verdict = color.New(color.FgRed, color.Bold).Sprint("COMPROMESSO")
	}

	fmt.Fprintf(w, "Batch %d: %s\n", result.BatchID, verdict)
	fmt.Fprintf(w, "Root:    %s\n", result.Root)
	fmt.Fprintf(w, "CID:     %s\n", result.PathCID)

	if !result.StructureOK {
		fmt.Fprintf(w, "Struttura: ids mancanti %v, ids aggiunti %v\n", result.MissingIDs, result.ExtraIDs)
	}

	fmt.Fprintf(w, "Anomalie: %d\n\n", result.AnomalyCount)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Tipo", "Esito", "Nota"})

	appendLeaves(tw, result.Details.OK)
	appendLeaves(tw, result.Details.Anomalies)

	tw.SortBy([]table.SortBy{{Name: "ID", Mode: table.AscNumeric}})
	tw.Render()

	return nil
}

func appendLeaves(tw table.Writer, leaves []verifier.Leaf) {
	for _, leaf := range leaves {
		esito := color.GreenString("valida")
		if !leaf.Valid {
			esito = color.RedString("anomala")
		}

		tw.AppendRow(table.Row{strconv.FormatInt(leaf.ID, 10), leaf.Kind, esito, leaf.Note})
	}
}

func renderJSON(w io.Writer, result *verifier.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	err := enc.Encode(result)
	if err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}

	return nil
}

func renderYAML(w io.Writer, result *verifier.Result) error {
	enc := yaml.NewEncoder(w)

	err := enc.Encode(result)
	if err != nil {
		return fmt.Errorf("report: encode yaml: %w", err)
	}

	err = enc.Close()
	if err != nil {
		return fmt.Errorf("report: close yaml encoder: %w", err)
	}

	return nil
}
