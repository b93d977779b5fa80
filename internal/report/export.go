package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	FormatCSV   ExportFormat = "csv"
	FormatTable ExportFormat = "table"
)

// Valid reports whether f is a known export format.
func (f ExportFormat) Valid() bool {
	return f == FormatCSV || f == FormatTable
}

var exportHeader = []string{
	"department", "respondent_name", "respondent_email",
	"question", "answer", "score", "comment", "submitted_at",
}

// ExportCSV writes one row per stored answer. Nullable columns (score,
// comment) stay empty rather than carrying placeholders.
func ExportCSV(w io.Writer, report *RunReport) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range exportRows(report) {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ExportTable writes the same rows as an aligned text table for terminal
// consumption.
func ExportTable(w io.Writer, report *RunReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, joinTab(exportHeader)); err != nil {
		return err
	}
	for _, row := range exportRows(report) {
		if _, err := fmt.Fprintln(tw, joinTab(row)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Export writes the report in the requested format.
func Export(w io.Writer, report *RunReport, format ExportFormat) error {
	switch format {
	case FormatCSV:
		return ExportCSV(w, report)
	case FormatTable:
		return ExportTable(w, report)
	}
	return fmt.Errorf("unknown export format %q", format)
}

func exportRows(report *RunReport) [][]string {
	var rows [][]string
	for _, department := range report.Departments {
		for _, respondent := range department.Respondents {
			for _, answer := range respondent.Answers {
				score := ""
				if answer.Score != nil {
					score = strconv.Itoa(*answer.Score)
				}
				comment := ""
				if answer.Comment != nil {
					comment = *answer.Comment
				}
				rows = append(rows, []string{
					department.DepartmentName,
					respondent.Name,
					respondent.Email,
					answer.QuestionText,
					answer.Answer,
					score,
					comment,
					answer.SubmittedAt.UTC().Format(time.RFC3339),
				})
			}
		}
	}
	return rows
}

func joinTab(fields []string) string {
	return strings.Join(fields, "\t")
}
