package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"NewsDigest/internal/domain"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// renderRun prints the run summary and one row per shortlisted item with its stage outcomes.
func renderRun(r domain.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s (%s)\n", r.RunID, r.OverallStatus, r.State)
	if r.CurrentStage != "" && !r.State.Terminal() {
		fmt.Fprintf(&b, "Current stage: %s\n", r.CurrentStage)
	}
	fmt.Fprintf(&b, "Cost: $%.4f  Duration: %s\n", r.TotalCost, r.TotalDuration.Round(time.Millisecond))

	stages := domain.PipelineStages(len(r.ResultsFor(domain.StagePublish)) > 0)[1:]
	if len(r.Shortlist) > 0 {
		headers := []string{"#", "Category", "Score", "Title"}
		aligns := []columnAlignment{alignRight, alignLeft, alignRight, alignLeft}
		for _, stage := range stages {
			headers = append(headers, string(stage))
			aligns = append(aligns, alignLeft)
		}

		outcome := map[domain.Stage]map[string]domain.ItemStatus{}
		for _, stage := range stages {
			outcome[stage] = map[string]domain.ItemStatus{}
			for _, res := range r.ResultsFor(stage) {
				outcome[stage][res.CandidateID] = res.Status
			}
		}

		rows := make([][]string, 0, len(r.Shortlist))
		for i, c := range r.Shortlist {
			row := []string{
				fmt.Sprintf("%d", i+1),
				c.Category,
				fmt.Sprintf("%.3f", c.Score),
				truncateTitle(c.Title, 60),
			}
			for _, stage := range stages {
				row = append(row, string(outcome[stage][c.ID]))
			}
			rows = append(rows, row)
		}
		b.WriteString(renderTable(headers, rows, aligns))
		b.WriteString("\n")
	}

	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "error [%s] %s: %s\n", e.Stage, e.CandidateID, e.Message)
	}
	return b.String()
}

func renderHistory(runs []domain.RunResult) string {
	headers := []string{"Run", "Started", "State", "Status", "Items", "Cost", "Duration"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		started := "-"
		if !r.StartedAt.IsZero() {
			started = r.StartedAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			r.RunID,
			started,
			string(r.State),
			string(r.OverallStatus),
			fmt.Sprintf("%d", len(r.Shortlist)),
			fmt.Sprintf("$%.4f", r.TotalCost),
			r.TotalDuration.Round(time.Second).String(),
		})
	}
	return renderTable(headers, rows, aligns)
}

func truncateTitle(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
