package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"plaindex/pkg/common"
)

// tabular results know how to lay themselves out as rows. Anything else
// falls back to YAML in table mode.
type tabular interface {
	table() (headers []string, rows [][]string)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func render(cmd *cobra.Command, result any) error {
	w := cmd.OutOrStdout()
	switch outputFormat {
	case "json":
		return outputJSON(w, result)
	case "yaml":
		return outputYAML(w, result)
	case "table", "":
		t, ok := result.(tabular)
		if !ok {
			return outputYAML(w, result)
		}
		headers, rows := t.table()
		return outputTable(w, headers, rows)
	}
	return fmt.Errorf("%w: unsupported output format %q", common.ErrInvalidInput, outputFormat)
}

func outputJSON(w io.Writer, result any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func outputYAML(w io.Writer, result any) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func outputTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// fields renders a flat key/value result as a two-column table.
func fields(kv ...string) ([]string, [][]string) {
	rows := make([][]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		rows = append(rows, []string{kv[i], kv[i+1]})
	}
	return []string{"FIELD", "VALUE"}, rows
}
