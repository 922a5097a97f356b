package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/apmlive/apmlive-go-rewrite/internal/stats"
)

var (
	pdfColorPrimary   = [3]int{30, 58, 95}    // Dark navy
	pdfColorAccent    = [3]int{52, 152, 219}  // Bright blue
	pdfColorTextDark  = [3]int{44, 62, 80}    // Dark text
	pdfColorTextMuted = [3]int{127, 140, 141} // Muted text
	pdfColorTableAlt  = [3]int{241, 245, 249} // Alternating row
)

// writePDF renders a one-page session report.
func (e *Exporter) writePDF(s stats.Statistics) error {
	data, err := renderSessionReport(s, e.host, time.Now())
	if err != nil {
		return err
	}
	return writeAtomic(e.PDFPath(), data)
}

func renderSessionReport(s stats.Statistics, hi HostInfo, exportedAt time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	// Title bar
	pdf.SetFillColor(pdfColorPrimary[0], pdfColorPrimary[1], pdfColorPrimary[2])
	pdf.Rect(0, 0, 210, 30, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetXY(20, 9)
	pdf.CellFormat(0, 12, "APM Session Report", "", 1, "L", false, 0, "")

	pdf.SetY(38)
	pdf.SetTextColor(pdfColorTextMuted[0], pdfColorTextMuted[1], pdfColorTextMuted[2])
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, "Exported "+exportedAt.Format("2006-01-02 15:04:05"), "", 1, "L", false, 0, "")
	if hi.Hostname != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("Host: %s (%s/%s)", hi.Hostname, hi.OS, hi.Platform), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	// Headline metric
	pdf.SetTextColor(pdfColorAccent[0], pdfColorAccent[1], pdfColorAccent[2])
	pdf.SetFont("Helvetica", "B", 34)
	pdf.CellFormat(0, 16, fmt.Sprintf("%.1f APM", s.CurrentAPM), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	// Statistics table
	rows := []struct {
		label, value string
	}{
		{"Average APM", fmt.Sprintf("%.1f", s.AverageAPM)},
		{"Actions per second", fmt.Sprintf("%.1f", s.ActionsPerSecond)},
		{"Total actions", fmt.Sprintf("%d", s.TotalActions)},
		{"Session duration", s.FormatSessionTime()},
		{"Captured at", s.Timestamp.Format(time.RFC3339)},
	}
	pdf.SetFont("Helvetica", "", 11)
	for i, row := range rows {
		if i%2 == 0 {
			pdf.SetFillColor(pdfColorTableAlt[0], pdfColorTableAlt[1], pdfColorTableAlt[2])
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		pdf.SetTextColor(pdfColorTextMuted[0], pdfColorTextMuted[1], pdfColorTextMuted[2])
		pdf.CellFormat(70, 9, row.label, "", 0, "L", true, 0, "")
		pdf.SetTextColor(pdfColorTextDark[0], pdfColorTextDark[1], pdfColorTextDark[2])
		pdf.CellFormat(0, 9, row.value, "", 1, "L", true, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf report: %w", err)
	}
	return buf.Bytes(), nil
}
