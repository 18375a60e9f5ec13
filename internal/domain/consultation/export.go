package consultation

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	// ExportMaxRows caps a single spreadsheet export.
	ExportMaxRows = 10000
	exportSheet   = "Consultations"
)

var exportHeaders = []string{
	"Consultation ID", "Patient ID", "Patient", "Facility", "Suggestion",
	"Encounter Date", "Discharge Date", "Discharge Reason", "Bed", "Assigned To",
}

var exportColumnWidths = []float64{38, 38, 24, 28, 12, 20, 20, 18, 16, 20}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func exportRow(c *Consultation) []interface{} {
	reason := ""
	if c.NewDischargeReason != nil {
		reason = c.NewDischargeReason.String()
	}
	bedName := ""
	if c.CurrentBed != nil && c.CurrentBed.Bed != nil {
		bedName = c.CurrentBed.Bed.Name
	}
	assignee := ""
	if c.AssignedTo != nil {
		assignee = c.AssignedTo.Username
	}
	encounter := c.EncounterDate
	return []interface{}{
		c.ExternalID.String(),
		c.PatientExternalID.String(),
		c.PatientName,
		c.FacilityName,
		string(c.Suggestion),
		formatTime(&encounter),
		formatTime(c.DischargeDate),
		reason,
		bedName,
		assignee,
	}
}

// WriteExport writes the consultations as an .xlsx workbook with a frozen,
// styled header row.
func WriteExport(w io.Writer, consultations []*Consultation) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	header := make([]interface{}, len(exportHeaders))
	for i, h := range exportHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(exportHeaders), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, width := range exportColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(exportSheet, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	for i, c := range consultations {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := exportRow(c)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
