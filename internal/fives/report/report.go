// Package report renders audits as xlsx workbooks.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/gartstein/fives/internal/fives/models"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	itemsSheet   = "Items"
	auditsSheet  = "Audits"
	dateLayout   = "2006-01-02 15:04"
)

// Audit is everything an audit report shows.
type Audit struct {
	Company models.Company
	// Path runs from the root environment to the audited location.
	Path  []models.Environment
	Audit models.Audit
	Items []models.AuditItem
	Scale models.ScoreScale
}

// WriteAudit writes a two-sheet workbook: a summary with the per-senso
// breakdown, and every item with its answer.
func WriteAudit(w io.Writer, in Audit) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	score := models.ComputeScore(in.Items, in.Scale)
	if in.Audit.Score != nil {
		score = *in.Audit.Score
	}
	summary := [][]any{
		{"Company", in.Company.Name},
		{"Location", pathLabel(in.Path)},
		{"Auditor", in.Audit.AuditorID},
		{"Status", string(in.Audit.Status)},
		{"Started", formatTime(&in.Audit.StartedAt)},
		{"Completed", formatTime(in.Audit.CompletedAt)},
		{"Score", score},
		{"Scale", fmt.Sprintf("0-%g", in.Scale.Max())},
		{},
		{"Senso", "Yes", "Answered", "Items", "Score"},
	}
	for _, s := range models.SensoBreakdown(in.Items, in.Scale) {
		summary = append(summary, []any{string(s.Senso), s.Yes, s.Answered, s.Total, s.Score})
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A8", bold); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A10", "E10", bold); err != nil {
		return err
	}

	items := append([]models.AuditItem(nil), in.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		return sensoOrder(items[i].Senso) < sensoOrder(items[j].Senso)
	})
	rows := [][]any{{"Senso", "Question", "Weight", "Answer", "Comment", "Answered at"}}
	for _, item := range items {
		rows = append(rows, []any{
			string(item.Senso), item.Question, item.Weight, answerLabel(item.Answer), item.Comment, formatTime(item.AnsweredAt),
		})
	}
	if err := writeRows(f, itemsSheet, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(itemsSheet, "A1", "F1", bold); err != nil {
		return err
	}
	if err := f.SetColWidth(itemsSheet, "B", "B", 60); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}

// WriteAuditList writes one row per audit of a company.
func WriteAuditList(w io.Writer, company models.Company, audits []models.Audit, locations map[string]string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), auditsSheet); err != nil {
		return err
	}

	rows := [][]any{
		{"Company", company.Name},
		{},
		{"Audit", "Location", "Auditor", "Status", "Started", "Completed", "Score"},
	}
	for _, a := range audits {
		var score any = ""
		if a.Score != nil {
			score = *a.Score
		}
		rows = append(rows, []any{
			a.ID, locations[a.EnvironmentID], a.AuditorID, string(a.Status),
			formatTime(&a.StartedAt), formatTime(a.CompletedAt), score,
		})
	}
	if err := writeRows(f, auditsSheet, rows); err != nil {
		return err
	}

	_, err := f.WriteTo(w)
	return err
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func pathLabel(path []models.Environment) string {
	names := make([]string, len(path))
	for i, env := range path {
		names[i] = env.Name
	}
	return strings.Join(names, " / ")
}

func answerLabel(answer *bool) string {
	switch {
	case answer == nil:
		return ""
	case *answer:
		return "yes"
	default:
		return "no"
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func sensoOrder(s models.Senso) int {
	for i, known := range models.Sensos {
		if s == known {
			return i
		}
	}
	return len(models.Sensos)
}
