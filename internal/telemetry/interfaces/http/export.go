package http

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	telemetry "groundcontrol/internal/telemetry/domain"
)

type exportFormat struct {
	ext         string
	contentType string
	build       func(flightID string, records []telemetry.Record) ([]byte, error)
}

var (
	formatCSV  = exportFormat{ext: "csv", contentType: "text/csv; charset=utf-8", build: BuildLogsCSV}
	formatXLSX = exportFormat{ext: "xlsx", contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", build: BuildLogsXLSX}
	formatPDF  = exportFormat{ext: "pdf", contentType: "application/pdf", build: BuildLogsPDF}
)

const pdfDataWidth = 90

// BuildLogsCSV renders flight logs as CSV.
func BuildLogsCSV(_ string, records []telemetry.Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	_ = writer.Write([]string{"flight_id", "sent", "received", "latency_ms", "data"})
	for _, record := range records {
		_ = writer.Write([]string{
			record.FlightID,
			formatMillis(record.Sent),
			formatMillis(record.Received),
			strconv.FormatInt(record.Received-record.Sent, 10),
			string(record.Data),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildLogsXLSX renders flight logs as a workbook with a summary sheet.
func BuildLogsXLSX(flightID string, records []telemetry.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	logsSheet := "logs"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(logsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Flight Logs")
	_ = f.SetCellValue(summarySheet, "A3", "Flight")
	_ = f.SetCellValue(summarySheet, "B3", flightID)
	_ = f.SetCellValue(summarySheet, "A4", "Records")
	_ = f.SetCellValue(summarySheet, "B4", len(records))
	if len(records) > 0 {
		_ = f.SetCellValue(summarySheet, "A5", "First Sent")
		_ = f.SetCellValue(summarySheet, "B5", formatMillis(records[0].Sent))
		_ = f.SetCellValue(summarySheet, "A6", "Last Sent")
		_ = f.SetCellValue(summarySheet, "B6", formatMillis(records[len(records)-1].Sent))
	}

	_ = f.SetCellValue(logsSheet, "A1", "Sent")
	_ = f.SetCellValue(logsSheet, "B1", "Received")
	_ = f.SetCellValue(logsSheet, "C1", "Latency (ms)")
	_ = f.SetCellValue(logsSheet, "D1", "Data")
	for i, record := range records {
		row := i + 2
		_ = f.SetCellValue(logsSheet, fmt.Sprintf("A%d", row), formatMillis(record.Sent))
		_ = f.SetCellValue(logsSheet, fmt.Sprintf("B%d", row), formatMillis(record.Received))
		_ = f.SetCellValue(logsSheet, fmt.Sprintf("C%d", row), record.Received-record.Sent)
		_ = f.SetCellValue(logsSheet, fmt.Sprintf("D%d", row), string(record.Data))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildLogsPDF renders a minimal PDF listing of flight logs.
func BuildLogsPDF(flightID string, records []telemetry.Record) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Flight Logs")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Flight: %s", flightID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Records: %d", len(records)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(55, 6, "Sent", "1", 0, "C", false, 0, "")
	pdf.CellFormat(55, 6, "Received", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Latency", "1", 0, "C", false, 0, "")
	pdf.CellFormat(140, 6, "Data", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, record := range records {
		pdf.CellFormat(55, 5, formatMillis(record.Sent), "1", 0, "L", false, 0, "")
		pdf.CellFormat(55, 5, formatMillis(record.Received), "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 5, strconv.FormatInt(record.Received-record.Sent, 10), "1", 0, "R", false, 0, "")
		pdf.CellFormat(140, 5, truncate(string(record.Data), pdfDataWidth), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}
