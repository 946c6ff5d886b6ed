package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/vintagevision/vintagevision/internal/model"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

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

func formatEra(y model.YearRange) string {
	switch {
	case !y.Known():
		return "unknown"
	case y.Start == y.End || y.End == 0:
		return fmt.Sprintf("c. %d", y.Start)
	case y.Start == 0:
		return fmt.Sprintf("before %d", y.End)
	default:
		return fmt.Sprintf("%d-%d", y.Start, y.End)
	}
}

func formatValue(v model.ValueRange) string {
	if !v.Known() {
		return "unknown"
	}
	cur := v.Currency
	if cur == "" {
		cur = "USD"
	}
	return fmt.Sprintf("%s %.0f-%.0f", cur, v.Low, v.High)
}

func pct(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func renderOutcome(o *model.AnalysisOutcome) string {
	rows := [][]string{
		{"Item", o.Name},
		{"Maker", orDash(o.Maker)},
		{"Era", formatEra(o.Era)},
		{"Value", formatValue(o.Value)},
		{"Domain", o.Domain},
		{"Authenticity risk", string(o.AuthenticityRisk)},
		{"Confidence", pct(o.Confidence)},
	}
	if o.Deal != nil {
		rows = append(rows, []string{"Deal", fmt.Sprintf("%s at %.0f", o.Deal.Rating, o.Deal.AskingPrice)})
	}
	if len(o.UnknownStages) > 0 {
		stages := make([]string, len(o.UnknownStages))
		for i, s := range o.UnknownStages {
			stages[i] = string(s)
		}
		rows = append(rows, []string{"Degraded stages", strings.Join(stages, ", ")})
	}
	rows = append(rows,
		[]string{"Cost", fmt.Sprintf("$%.4f (%d tokens)", o.CostUSD, o.Usage.Total())},
		[]string{"Outcome ID", o.ID},
	)

	var b strings.Builder
	b.WriteString(renderTable([]string{"Field", "Value"}, rows, nil))

	if len(o.Alternatives) > 0 {
		alt := make([][]string, 0, len(o.Alternatives))
		for _, c := range o.Alternatives {
			alt = append(alt, []string{c.Name, orDash(c.Maker), formatEra(c.Era), pct(c.Confidence)})
		}
		b.WriteString("\n\nAlternatives\n")
		b.WriteString(renderTable([]string{"Name", "Maker", "Era", "Confidence"}, alt, []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
	}
	if len(o.AuthChecklist) > 0 {
		b.WriteString("\n\nAuthentication checklist\n")
		for _, item := range o.AuthChecklist {
			b.WriteString("  - " + item + "\n")
		}
	}
	return b.String()
}

func renderNeeds(needs []model.InformationNeed) string {
	rows := make([][]string, 0, len(needs))
	for _, n := range needs {
		status := "open"
		if n.Resolved {
			status = "answered"
		}
		rows = append(rows, []string{n.ID, string(n.Priority), string(n.Kind), n.Question, status})
	}
	return renderTable([]string{"Need", "Priority", "Kind", "Question", "Status"}, rows, nil)
}

func renderEscalation(e *model.EscalationRecommendation) string {
	rows := make([][]string, 0, len(e.Options))
	for _, o := range e.Options {
		rows = append(rows, []string{fmt.Sprint(o.Tier), o.Name, orDash(o.CostRange), orDash(o.Turnaround)})
	}
	return fmt.Sprintf("Escalation: %s\n%s", e.Reason,
		renderTable([]string{"Tier", "Option", "Cost", "Turnaround"}, rows, []columnAlignment{alignRight}))
}

func renderScore(r model.ScoreResult) string {
	rows := [][]string{
		{"Item", r.ItemID},
		{"Domain", r.Domain},
		{"Name", fmt.Sprintf("%.2f", r.Components.Name)},
		{"Maker", fmt.Sprintf("%.2f", r.Components.Maker)},
		{"Era", fmt.Sprintf("%.2f", r.Components.Era)},
		{"Value", fmt.Sprintf("%.2f", r.Components.Value)},
		{"Score", fmt.Sprintf("%.1f", r.OverallScore)},
	}
	if len(r.Failures) > 0 {
		rows = append(rows, []string{"Failures", strings.Join(r.Failures, ", ")})
	}
	if r.Error != "" {
		rows = append(rows, []string{"Error", r.Error})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func renderReport(r *model.EvaluationReport) string {
	var b strings.Builder

	status := "complete"
	if r.Cancelled {
		status = "cancelled"
	}
	summary := [][]string{
		{"Report", r.ID},
		{"Mode", string(r.Mode)},
		{"Status", status},
		{"Items", fmt.Sprintf("%d scored, %d errored, %d skipped of %d", r.Scored, r.Errored, r.Skipped, r.Total)},
		{"Mean", fmt.Sprintf("%.1f (%.0f%% CI %.1f-%.1f)", r.Mean, r.MeanCI.Level*100, r.MeanCI.Lower, r.MeanCI.Upper)},
		{"Median / std dev", fmt.Sprintf("%.1f / %.1f", r.Median, r.StdDev)},
		{"Range", fmt.Sprintf("%.1f-%.1f", r.Min, r.Max)},
		{"Pass rate", fmt.Sprintf("%s (threshold %.0f)", pct(r.PassRate), r.PassThreshold)},
		{"Cost", fmt.Sprintf("$%.4f (%d tokens)", r.CostUSD, r.Usage.Total())},
	}
	b.WriteString(renderTable([]string{"Summary", ""}, summary, nil))

	bands := []model.Band{model.BandExcellent, model.BandGood, model.BandAcceptable, model.BandPoor, model.BandFailed}
	bandRows := make([][]string, 0, len(bands))
	for _, band := range bands {
		bandRows = append(bandRows, []string{string(band), fmt.Sprint(r.Bands[band])})
	}
	b.WriteString("\n\n")
	b.WriteString(renderTable([]string{"Band", "Items"}, bandRows, []columnAlignment{alignLeft, alignRight}))

	if len(r.ByDomain) > 0 {
		rows := make([][]string, 0, len(r.ByDomain))
		for _, d := range r.ByDomain {
			rows = append(rows, []string{d.Domain, fmt.Sprint(d.Count), fmt.Sprintf("%.1f", d.Mean), pct(d.PassRate)})
		}
		b.WriteString("\n\n")
		b.WriteString(renderTable([]string{"Domain", "Items", "Mean", "Pass rate"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight}))
	}

	if len(r.CommonFailures) > 0 {
		rows := make([][]string, 0, len(r.CommonFailures))
		for _, f := range r.CommonFailures {
			rows = append(rows, []string{f.Reason, f.Domain, fmt.Sprint(f.Count)})
		}
		b.WriteString("\n\n")
		b.WriteString(renderTable([]string{"Failure", "Domain", "Count"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight}))
	}
	return b.String()
}

func renderInsights(insights []model.DomainInsight) string {
	rows := make([][]string, 0, len(insights))
	for _, in := range insights {
		rows = append(rows, []string{
			in.Domain,
			fmt.Sprint(in.Runs),
			fmt.Sprint(in.Items),
			fmt.Sprintf("%.1f", in.MeanScore),
			pct(in.PassRate),
			in.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	return renderTable([]string{"Domain", "Runs", "Items", "Mean", "Pass rate", "Updated"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft})
}
