package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	tracking "livestock-cloud/internal/tracking/domain"
)

const exportSheet = "notifications"

// BuildNotificationsPDF renders a notification list as a PDF table.
func BuildNotificationsPDF(farmID string, generated time.Time, items []tracking.Notification) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Livestock Notifications")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	if farmID != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Farm: %s", farmID))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generated.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Count: %d", len(items)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(42, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Animal", "1", 0, "C", false, 0, "")
	pdf.CellFormat(38, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(18, 6, "Priority", "1", 0, "C", false, 0, "")
	pdf.CellFormat(135, 6, "Message", "1", 0, "C", false, 0, "")
	pdf.CellFormat(12, 6, "Read", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, n := range items {
		pdf.CellFormat(42, 6, n.CreatedAt.UTC().Format("2006-01-02 15:04:05"), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, n.AnimalID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(38, 6, string(n.Type), "1", 0, "L", false, 0, "")
		pdf.CellFormat(18, 6, string(n.Priority), "1", 0, "C", false, 0, "")
		pdf.CellFormat(135, 6, n.Message, "1", 0, "L", false, 0, "")
		pdf.CellFormat(12, 6, yesNo(n.Read), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildNotificationsXLSX renders a notification list as a spreadsheet.
func BuildNotificationsXLSX(items []tracking.Notification) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}

	headers := []string{"ID", "Time", "Farm", "Animal", "Type", "Priority", "Title", "Message", "Read", "Read At"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(exportSheet, cell, header)
	}
	for i, n := range items {
		row := i + 2
		readAt := ""
		if n.ReadAt != nil {
			readAt = n.ReadAt.UTC().Format(time.RFC3339)
		}
		_ = f.SetCellValue(exportSheet, fmt.Sprintf("A%d", row), n.ID)
		_ = f.SetCellValue(exportSheet, fmt.Sprintf("B%d", row), n.CreatedAt.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(exportSheet, fmt.Sprintf("C%d", row), n.FarmID)
		_ = f.SetCellValue(exportSheet, fmt.Sprintf("D%d", row), n.AnimalID)
		_ = f.SetCellValue(exportSheet, fmt.Sprintf("E%d", row), string(n.Type))
		_ = f.SetCellValue(exportSheet, fmt.Sprintf("F%d", row), string(n.Priority))
		_ = f.SetCellValue(exportSheet, fmt.Sprintf("G%d", row), n.Title)
		_ = f.SetCellValue(exportSheet, fmt.Sprintf("H%d", row), n.Message)
		_ = f.SetCellValue(exportSheet, fmt.Sprintf("I%d", row), n.Read)
		_ = f.SetCellValue(exportSheet, fmt.Sprintf("J%d", row), readAt)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
